package contract

import "context"

// Windower: 将单首编码后的歌曲切分为 (window, target) 训练样本。
// 约束：
//  1. width 必须为正，否则返回 ErrInvalidInput；
//  2. 只在同一首歌内切片，不跨歌拼接；
//  3. 输出按窗口起点严格升序；
//  4. 返回的 Window 不得与输入切片共享底层数组。
type Windower interface {
	Make(ctx context.Context, encoded []int, width int) ([]Pair, error)
}
