package smf

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2"
	gsmf "gitlab.com/gomidi/midi/v2/smf"

	"pianoseq/pkg/contract"
)

// Options 为 SMF 解析器的可选配置（最小必要）。
type Options struct {
	// OnsetTolerance: 起点差不超过该 tick 数的音合并为同一和弦；默认 0（严格同时）。
	OnsetTolerance int64 `json:"onset_tolerance"`
	// MinDuration: 短于该 tick 数的音被丢弃（过滤装饰性噪声）；默认 0 不过滤。
	MinDuration int64 `json:"min_duration"`
}

// Parser 将 Standard MIDI File 解码为 contract.Score。
// 每个 (轨道, 通道) 组合为一个声部；同一起点的多个音构成和弦，发声之间的空白记为休止。
type Parser struct {
	tolerance   int64
	minDuration int64
}

// New 创建 SMF 解析器。
func New(opts *Options) *Parser {
	p := &Parser{}
	if opts != nil {
		if opts.OnsetTolerance > 0 {
			p.tolerance = opts.OnsetTolerance
		}
		if opts.MinDuration > 0 {
			p.minDuration = opts.MinDuration
		}
	}
	return p
}

// noteEvent: 已配对的发声区间。
type noteEvent struct {
	onset int64
	end   int64
	key   uint8
}

// voice: 单个 (轨道, 通道) 的累积状态。
type voice struct {
	channel uint8
	program int
	notes   []noteEvent
	open    map[uint8][]int64 // key -> 未结束的起点（同键重叠按 FIFO 配对）
}

// Parse 实现 contract.ScoreParser。
func (p *Parser) Parse(ctx context.Context, fileID contract.FileID, r io.Reader) (contract.Score, error) {
	if err := ctxErr(ctx); err != nil {
		return contract.Score{}, err
	}
	f, err := gsmf.ReadFrom(r)
	if err != nil {
		return contract.Score{}, &contract.ParseError{FileID: fileID, Err: errors.Wrapf(err, "smf: decode %s", fileID)}
	}
	score := contract.Score{FileID: fileID}
	if tf, ok := f.TimeFormat.(gsmf.MetricTicks); ok {
		score.TicksPerQuarter = int(tf)
	}

	// 通道级兜底音色：部分文件把 Program Change 放在独立轨道
	global := map[uint8]int{}
	for _, tr := range f.Tracks {
		for _, ev := range tr {
			var ch, prog uint8
			if midi.Message(ev.Message).GetProgramChange(&ch, &prog) {
				if _, seen := global[ch]; !seen {
					global[ch] = int(prog)
				}
			}
		}
	}

	for ti, tr := range f.Tracks {
		if err := ctxErr(ctx); err != nil {
			return contract.Score{}, err
		}
		name, voices := p.scanTrack(tr)
		chans := make([]int, 0, len(voices))
		for ch := range voices {
			chans = append(chans, int(ch))
		}
		sort.Ints(chans)
		for _, c := range chans {
			v := voices[uint8(c)]
			if len(v.notes) == 0 {
				continue
			}
			prog := v.program
			if prog == contract.ProgramUnknown {
				if g, ok := global[v.channel]; ok {
					prog = g
				}
			}
			score.Parts = append(score.Parts, contract.Part{
				ID:         fmt.Sprintf("t%d-c%d", ti, c),
				Instrument: contract.Instrument{Program: prog, Channel: c, Name: name},
				Elements:   p.elements(v.notes),
			})
		}
	}
	return score, nil
}

// scanTrack 遍历轨道事件，按通道配对 note on/off。
func (p *Parser) scanTrack(tr gsmf.Track) (string, map[uint8]*voice) {
	var name string
	voices := map[uint8]*voice{}
	get := func(ch uint8) *voice {
		v, ok := voices[ch]
		if !ok {
			v = &voice{channel: ch, program: contract.ProgramUnknown, open: map[uint8][]int64{}}
			voices[ch] = v
		}
		return v
	}
	var abs int64
	for _, ev := range tr {
		abs += int64(ev.Delta)
		var s string
		if name == "" && ev.Message.GetMetaTrackName(&s) {
			name = s
			continue
		}
		msg := midi.Message(ev.Message)
		var ch, key, vel, prog uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			v := get(ch)
			v.open[key] = append(v.open[key], abs)
		case msg.GetNoteEnd(&ch, &key):
			v := get(ch)
			starts := v.open[key]
			if len(starts) == 0 {
				continue
			}
			v.open[key] = starts[1:]
			v.add(noteEvent{onset: starts[0], end: abs, key: key}, p.minDuration)
		case msg.GetProgramChange(&ch, &prog):
			v := get(ch)
			if v.program == contract.ProgramUnknown {
				v.program = int(prog)
			}
		}
	}
	// 轨道结束仍未释放的音延续到轨道末尾
	for _, v := range voices {
		for key, starts := range v.open {
			for _, on := range starts {
				v.add(noteEvent{onset: on, end: abs, key: key}, p.minDuration)
			}
		}
	}
	return name, voices
}

func (v *voice) add(n noteEvent, minDur int64) {
	if n.end-n.onset < minDur {
		return
	}
	v.notes = append(v.notes, n)
}

// elements 将发声区间按起点分组为 Note/Chord，并在空白处插入 Rest。
func (p *Parser) elements(notes []noteEvent) []contract.Element {
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].onset != notes[j].onset {
			return notes[i].onset < notes[j].onset
		}
		return notes[i].key < notes[j].key
	})
	var out []contract.Element
	var cursor int64
	for i := 0; i < len(notes); {
		start := notes[i].onset
		end := notes[i].end
		j := i
		var pitches []contract.Pitch
		for j < len(notes) && notes[j].onset-start <= p.tolerance {
			pitches = appendUnique(pitches, contract.Pitch(notes[j].key))
			if notes[j].end > end {
				end = notes[j].end
			}
			j++
		}
		if start > cursor {
			out = append(out, contract.Element{Kind: contract.KindRest, Offset: cursor, Duration: start - cursor})
		}
		sort.Slice(pitches, func(a, b int) bool { return pitches[a] < pitches[b] })
		el := contract.Element{Kind: contract.KindChord, Offset: start, Duration: end - start, Pitches: pitches}
		if len(pitches) == 1 {
			el.Kind = contract.KindNote
		}
		out = append(out, el)
		if end > cursor {
			cursor = end
		}
		i = j
	}
	return out
}

func appendUnique(ps []contract.Pitch, p contract.Pitch) []contract.Pitch {
	for _, x := range ps {
		if x == p {
			return ps
		}
	}
	return append(ps, p)
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var _ contract.ScoreParser = (*Parser)(nil)
