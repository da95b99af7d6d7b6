package contract

import (
	"context"
	"io"
)

// Reader: 语料遍历抽象（文件/目录/STDIN/数据集索引）。
// 约束：
// 1) 按文件维度回调，yield 负责关闭 ReadCloser；
// 2) FileID 稳定且去平台差异化；
// 3) 不做解码，仅提供字节流；
// 4) 不在内部起并发。
// 遍历顺序只影响输出行序，核心逻辑不依赖它。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, r io.ReadCloser) error) error
}
