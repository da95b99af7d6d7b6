package fixed

import (
	"context"
	"fmt"

	"pianoseq/pkg/contract"
)

// Options 保留给注册表做严格解码；窗口长度是唯一参数，由调用方传入。
type Options struct{}

// Windower 实现定长不重叠窗口切分：
// i 从 0 开始，只要 i+width < len 就输出 (encoded[i:i+width], encoded[i+width])，然后 i += width。
type Windower struct{}

// New 创建定长窗口 Windower。
func New(*Options) *Windower { return &Windower{} }

// Make 切分单首歌曲：
// - 长度 <= width 的歌曲不产生样本；
// - 末尾不足以构成 (窗口, 目标) 的剩余部分直接丢弃，不输出短窗口；
// - 每个 Window 为独立拷贝。
func (w *Windower) Make(ctx context.Context, encoded []int, width int) ([]contract.Pair, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: window width must be > 0, got %d", contract.ErrInvalidInput, width)
	}
	n := len(encoded)
	if n <= width {
		return nil, nil
	}
	pairs := make([]contract.Pair, 0, Count(n, width))
	for i := 0; i+width < n; i += width {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		win := make([]int, width)
		copy(win, encoded[i:i+width])
		pairs = append(pairs, contract.Pair{Window: win, Target: encoded[i+width]})
	}
	return pairs, nil
}

// Count 返回长度 n 的序列在给定宽度下产生的样本数。
func Count(n, width int) int {
	if width <= 0 || n <= width {
		return 0
	}
	// 满足 i+width < n 的起点 i ∈ {0, width, 2*width, ...}
	return (n-width-1)/width + 1
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var _ contract.Windower = (*Windower)(nil)
