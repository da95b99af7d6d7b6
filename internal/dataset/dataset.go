package dataset

import (
	"context"
	"errors"
	"fmt"

	"pianoseq/internal/vocab"
	"pianoseq/pkg/contract"
)

// DefaultWidth 默认窗口长度。
const DefaultWidth = 32

// Tensor: 行主序的整型张量。
type Tensor struct {
	Shape []int
	Data  []int
}

// Len 返回元素总数。
func (t Tensor) Len() int { return len(t.Data) }

// At 按多维下标取值；下标个数须与 Shape 一致。
func (t Tensor) At(idx ...int) int {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("dataset: tensor rank %d, got %d indices", len(t.Shape), len(idx)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.Shape[i] {
			panic(fmt.Sprintf("dataset: index %d out of range [0,%d) on axis %d", v, t.Shape[i], i))
		}
		off = off*t.Shape[i] + v
	}
	return t.Data[off]
}

// Dataset: 全部训练样本。
// Windows 形状 [N, W, 1]，Targets 形状 [N]；按歌曲拼接顺序、歌内窗口起点升序排列。
type Dataset struct {
	Width   int
	Windows Tensor
	Targets Tensor
}

// Len 样本数 N。
func (d Dataset) Len() int { return len(d.Targets.Data) }

// Pair 返回第 i 个样本（拷贝）。
func (d Dataset) Pair(i int) contract.Pair {
	w := make([]int, d.Width)
	copy(w, d.Windows.Data[i*d.Width:(i+1)*d.Width])
	return contract.Pair{Window: w, Target: d.Targets.Data[i]}
}

// Build 构建词表并生成训练样本：
//  1. 以 distinct 构建词表（双向映射同时建立）；
//  2. 过滤空歌曲；
//  3. 逐首编码（词表外 token 返回 LookupError，不跳过）；
//  4. 逐首用 w 切分，按顺序拼接为 [N, W, 1] 与 [N]。
func Build(ctx context.Context, songs [][]contract.Token, distinct contract.TokenSet, width int, w contract.Windower) (vocab.Vocabulary, Dataset, error) {
	if width <= 0 {
		return vocab.Vocabulary{}, Dataset{}, fmt.Errorf("%w: window width must be > 0, got %d", contract.ErrInvalidInput, width)
	}
	if w == nil {
		return vocab.Vocabulary{}, Dataset{}, errors.New("dataset: windower is nil")
	}
	v := vocab.Build(distinct)
	var wins, tgts []int
	for i, song := range songs {
		if err := ctx.Err(); err != nil {
			return vocab.Vocabulary{}, Dataset{}, err
		}
		if len(song) == 0 {
			continue
		}
		enc, err := v.Encode(song)
		if err != nil {
			return vocab.Vocabulary{}, Dataset{}, fmt.Errorf("dataset: song %d: %w", i, err)
		}
		pairs, err := w.Make(ctx, enc, width)
		if err != nil {
			return vocab.Vocabulary{}, Dataset{}, fmt.Errorf("dataset: song %d: %w", i, err)
		}
		for _, p := range pairs {
			if len(p.Window) != width {
				return vocab.Vocabulary{}, Dataset{}, fmt.Errorf("%w: song %d: window len %d != %d", contract.ErrInvariantViolation, i, len(p.Window), width)
			}
			wins = append(wins, p.Window...)
			tgts = append(tgts, p.Target)
		}
	}
	n := len(tgts)
	if wins == nil {
		wins = []int{}
		tgts = []int{}
	}
	ds := Dataset{
		Width:   width,
		Windows: Tensor{Shape: []int{n, width, 1}, Data: wins},
		Targets: Tensor{Shape: []int{n}, Data: tgts},
	}
	return v, ds, nil
}
