package theory

import (
	"sort"
	"strconv"
	"strings"

	"pianoseq/pkg/contract"
)

// 默认拼写：黑键 1/6/8 用升号，3/10 用降号；降号写作 '-'。
var pitchNames = [12]string{"C", "C#", "D", "E-", "E", "F", "F#", "G", "G#", "A", "B-", "B"}

// PitchName 返回音高名（音名 + 八度），C4 = 60。
func PitchName(p contract.Pitch) string {
	return pitchNames[p.PitchClass()] + strconv.Itoa(int(p)/12-1)
}

// NoteToken 单音 token。
func NoteToken(p contract.Pitch) contract.Token {
	return contract.Token(PitchName(p))
}

// ChordToken 和弦 token：normal order 以 '.' 连接。
func ChordToken(pitches []contract.Pitch) contract.Token {
	order := NormalOrder(pitches)
	parts := make([]string, len(order))
	for i, pc := range order {
		parts[i] = strconv.Itoa(pc)
	}
	return contract.Token(strings.Join(parts, "."))
}

// NormalOrder 计算音级集合的 normal order（不移位）。
// 规则：
//  1. 去重后按音级升序，枚举所有循环旋转；
//  2. 首末音级跨度（mod 12）最小者优先；
//  3. 跨度相同时，自左向右比较首音到第 2、3… 个音的距离，取较紧凑者；
//  4. 仍相同（对称集合）时取首音级较小者。
//
// 空输入返回 nil。
func NormalOrder(pitches []contract.Pitch) []int {
	pcs := pitchClassSet(pitches)
	n := len(pcs)
	if n == 0 {
		return nil
	}
	best := rotation(pcs, 0)
	for r := 1; r < n; r++ {
		cand := rotation(pcs, r)
		if packedBefore(cand, best) {
			best = cand
		}
	}
	return best
}

// pitchClassSet 去重并升序。
func pitchClassSet(pitches []contract.Pitch) []int {
	seen := [12]bool{}
	out := make([]int, 0, len(pitches))
	for _, p := range pitches {
		pc := p.PitchClass()
		if seen[pc] {
			continue
		}
		seen[pc] = true
		out = append(out, pc)
	}
	sort.Ints(out)
	return out
}

func rotation(pcs []int, r int) []int {
	out := make([]int, len(pcs))
	for i := range pcs {
		out[i] = pcs[(r+i)%len(pcs)]
	}
	return out
}

func interval(from, to int) int { return ((to-from)%12 + 12) % 12 }

// packedBefore 判断 a 是否应排在 b 之前（更紧凑）。
func packedBefore(a, b []int) bool {
	n := len(a)
	if sa, sb := interval(a[0], a[n-1]), interval(b[0], b[n-1]); sa != sb {
		return sa < sb
	}
	for i := 1; i < n-1; i++ {
		if da, db := interval(a[0], a[i]), interval(b[0], b[i]); da != db {
			return da < db
		}
	}
	return a[0] < b[0]
}
