package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，得到跨平台稳定的 FileID。
// 反斜杠统一为正斜杠后按 POSIX 语义 Clean；保留相对/绝对语义。
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, `\`, "/")))
}
