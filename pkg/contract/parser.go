package contract

import (
	"context"
	"io"
)

// ScoreParser: 将单文件字节流解码为 Score。
// 约束：
// 1) 无法解码时返回 *ParseError（不得返回空 Score 冒充“无钢琴声部”）；
// 2) 同步、无内部并发、幂等；
// 3) Parts 与 Elements 的顺序稳定。
type ScoreParser interface {
	Parse(ctx context.Context, fileID FileID, r io.Reader) (Score, error)
}
