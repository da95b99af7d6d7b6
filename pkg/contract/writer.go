package contract

import (
	"context"
	"io"
)

// ArtifactID: 报告工件的相对标识（如 "manifest.jsonl"），由 Writer 映射为目标路径。
type ArtifactID string

// Writer: 将运行报告以流式方式持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 读完 r 之前不得返回成功；
//  3. 实现自行决定是否原子替换，失败时不得留下半成品。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
