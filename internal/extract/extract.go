package extract

import (
	"fmt"
	"strings"

	"pianoseq/internal/theory"
	"pianoseq/pkg/contract"
)

// drumChannel: General MIDI 打击乐通道（第 10 通道，0 基为 9）。
const drumChannel = 9

// DefaultPrograms: 钢琴族 GM 音色（Acoustic Grand .. Electric Piano 2）。
var DefaultPrograms = []int{0, 1, 2, 3, 4, 5}

// Options 为目标乐器匹配规则（最小必要）。
type Options struct {
	// Programs: 视为目标乐器的 GM 音色号；为空使用 DefaultPrograms。
	Programs []int `json:"programs"`
	// TrackNames: 未声明音色的声部按轨道名匹配（大小写不敏感、完全相等）。
	// 例如 ["piano"]。
	TrackNames []string `json:"track_names"`
	// IncludeDrums: 是否允许打击乐通道参与匹配；默认 false。
	IncludeDrums bool `json:"include_drums"`
}

// Song: 单曲抽取结果。
type Song struct {
	FileID contract.FileID
	// Part: 被选中的声部 ID；无匹配时为空。
	Part string
	// Matched: 匹配到目标乐器的声部数量（>1 时以最后一个为准）。
	Matched  int
	Tokens   []contract.Token
	Distinct contract.TokenSet
}

// Extractor 将乐谱约简为目标乐器的 token 序列。
type Extractor struct {
	programs     map[int]struct{}
	names        map[string]struct{}
	includeDrums bool
}

// New 创建 Extractor。
func New(opts *Options) *Extractor {
	progs := DefaultPrograms
	var names []string
	drums := false
	if opts != nil {
		if len(opts.Programs) > 0 {
			progs = opts.Programs
		}
		names = opts.TrackNames
		drums = opts.IncludeDrums
	}
	e := &Extractor{programs: make(map[int]struct{}, len(progs)), names: make(map[string]struct{}, len(names)), includeDrums: drums}
	for _, p := range progs {
		e.programs[p] = struct{}{}
	}
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			e.names[n] = struct{}{}
		}
	}
	return e
}

// Matches 判断声部乐器是否为目标乐器。
func (e *Extractor) Matches(inst contract.Instrument) bool {
	if inst.Channel == drumChannel && !e.includeDrums {
		return false
	}
	if inst.Program != contract.ProgramUnknown {
		_, ok := e.programs[inst.Program]
		return ok
	}
	_, ok := e.names[strings.ToLower(strings.TrimSpace(inst.Name))]
	return ok
}

// Extract 选择目标声部并按流顺序输出 token。
// - 多个声部匹配时后者覆盖前者；
// - 无匹配返回空序列与空集合（非错误）；
// - 单音输出音高名，和弦输出 normal order，其余元素忽略。
func (e *Extractor) Extract(score contract.Score) (Song, error) {
	song := Song{FileID: score.FileID, Distinct: contract.TokenSet{}}
	var sel *contract.Part
	for i := range score.Parts {
		if e.Matches(score.Parts[i].Instrument) {
			sel = &score.Parts[i]
			song.Matched++
		}
	}
	if sel == nil {
		return song, nil
	}
	song.Part = sel.ID
	song.Tokens = make([]contract.Token, 0, len(sel.Elements))
	for i, el := range sel.Elements {
		var tok contract.Token
		switch el.Kind {
		case contract.KindNote:
			if len(el.Pitches) != 1 {
				return Song{}, fmt.Errorf("%w: %s part %s element %d: note with %d pitches", contract.ErrInvariantViolation, score.FileID, sel.ID, i, len(el.Pitches))
			}
			tok = theory.NoteToken(el.Pitches[0])
		case contract.KindChord:
			if len(el.Pitches) == 0 {
				return Song{}, fmt.Errorf("%w: %s part %s element %d: empty chord", contract.ErrInvariantViolation, score.FileID, sel.ID, i)
			}
			tok = theory.ChordToken(el.Pitches)
		default:
			continue
		}
		song.Tokens = append(song.Tokens, tok)
		song.Distinct.Add(tok)
	}
	return song, nil
}
