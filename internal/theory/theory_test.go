package theory

import (
	"reflect"
	"testing"

	"pianoseq/pkg/contract"
)

func ps(in ...int) []contract.Pitch {
	out := make([]contract.Pitch, len(in))
	for i, v := range in {
		out[i] = contract.Pitch(v)
	}
	return out
}

// TestPitchName 覆盖默认拼写与八度换算。
func TestPitchName(t *testing.T) {
	cases := map[int]string{
		60:  "C4",
		61:  "C#4",
		63:  "E-4",
		66:  "F#4",
		68:  "G#4",
		70:  "B-4",
		71:  "B4",
		21:  "A0",
		0:   "C-1",
		127: "G9",
	}
	for p, want := range cases {
		if got := PitchName(contract.Pitch(p)); got != want {
			t.Errorf("PitchName(%d)=%s, 预期 %s", p, got, want)
		}
	}
	if NoteToken(60) != contract.Token("C4") {
		t.Fatalf("NoteToken 错误")
	}
}

// TestNormalOrder 覆盖跨度、紧凑度与对称集合的判定。
func TestNormalOrder(t *testing.T) {
	tests := []struct {
		name    string
		pitches []contract.Pitch
		want    []int
	}{
		{"C 大三和弦", ps(60, 64, 67), []int{0, 4, 7}},
		{"第一转位", ps(64, 67, 72), []int{0, 4, 7}},
		{"八度重复", ps(48, 60, 64, 67, 72), []int{0, 4, 7}},
		{"D 大三和弦", ps(62, 66, 69), []int{2, 6, 9}},
		{"A 小三和弦跨越 0", ps(57, 60, 64), []int{9, 0, 4}},
		{"减七和弦", ps(60, 63, 66, 69), []int{0, 3, 6, 9}},
		{"增三和弦", ps(64, 68, 72), []int{0, 4, 8}},
		{"紧凑度决胜", ps(60, 64, 67, 68), []int{4, 7, 8, 0}},
		{"对称取小", ps(60, 61, 66, 67), []int{0, 1, 6, 7}},
		{"单音级", ps(60, 72), []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalOrder(tt.pitches); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("NormalOrder=%v, 预期 %v", got, tt.want)
			}
		})
	}
	if NormalOrder(nil) != nil {
		t.Fatalf("空输入应返回 nil")
	}
}

// TestChordToken 相同和弦不同写法必须得到相同 token。
func TestChordToken(t *testing.T) {
	if got := ChordToken(ps(60, 64, 67)); got != "0.4.7" {
		t.Fatalf("ChordToken=%s", got)
	}
	a := ChordToken(ps(67, 60, 64))
	b := ChordToken(ps(72, 76, 79, 84))
	if a != b {
		t.Fatalf("同一和弦 token 不一致: %s vs %s", a, b)
	}
	if got := ChordToken(ps(57, 60, 64)); got != "9.0.4" {
		t.Fatalf("ChordToken=%s", got)
	}
}
