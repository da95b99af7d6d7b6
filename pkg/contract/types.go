package contract

import "sort"

// FileID: 逻辑歌曲ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Token: 单个音乐事件的规范字符串编码。
// - 单音：音高名（如 "C4"、"F#3"、"B-2"）；
// - 和弦：normal order 音级以 '.' 连接（如 "0.4.7"）。
// 相同的音乐事件必须得到逐字节相同的 Token。
type Token string

// Pitch: MIDI 音高号（0..127，C4 = 60）。
type Pitch uint8

// PitchClass 返回音级（0..11）。
func (p Pitch) PitchClass() int { return int(p) % 12 }

// ElementKind: 声部流中元素的类别。
type ElementKind int

const (
	// KindOther: 其他元素（元事件等），抽取时忽略。
	KindOther ElementKind = iota
	// KindNote: 单音。
	KindNote
	// KindChord: 同一起点的多个音高。
	KindChord
	// KindRest: 休止（两次发声之间的空白）。
	KindRest
)

func (k ElementKind) String() string {
	switch k {
	case KindNote:
		return "note"
	case KindChord:
		return "chord"
	case KindRest:
		return "rest"
	default:
		return "other"
	}
}

// Element: 声部流中的一个元素。
// 约束：
//   - KindNote 恰有 1 个 Pitch；
//   - KindChord 至少 2 个 Pitch（升序、去重）；
//   - KindRest/KindOther 不携带 Pitch。
type Element struct {
	Kind     ElementKind
	Offset   int64 // 起点（tick，绝对）
	Duration int64 // 时值（tick）；未知为 0
	Pitches  []Pitch
}

// ProgramUnknown: 声部未出现 Program Change。
const ProgramUnknown = -1

// Instrument: 声部关联的乐器信息（最小集合）。
type Instrument struct {
	// Program: General MIDI 音色号（0..127）；ProgramUnknown 表示未声明。
	Program int
	// Channel: MIDI 通道（0..15）；9 为打击乐通道。
	Channel int
	// Name: 轨道名（可为空）。
	Name string
}

// Part: 单一乐器声部；Elements 按 Offset 升序（流顺序）。
type Part struct {
	ID         string
	Instrument Instrument
	Elements   []Element
}

// Score: 解析后的乐谱。Parts 的顺序即解析器遍历顺序。
type Score struct {
	FileID FileID
	// TicksPerQuarter: 时间分辨率；非节拍制文件为 0。
	TicksPerQuarter int
	Parts           []Part
}

// Pair: 训练样本（定长窗口 + 紧随其后的下一个 token 索引）。
type Pair struct {
	Window []int
	Target int
}

// TokenSet: 去重的 token 集合。
type TokenSet map[Token]struct{}

// Add 加入若干 token。
func (s TokenSet) Add(ts ...Token) {
	for _, t := range ts {
		s[t] = struct{}{}
	}
}

// Union 将 other 并入 s。
func (s TokenSet) Union(other TokenSet) {
	for t := range other {
		s[t] = struct{}{}
	}
}

// Sorted 按字节序返回全部 token（用于确定性的索引分配）。
func (s TokenSet) Sorted() []Token {
	out := make([]Token, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
