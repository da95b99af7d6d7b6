package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"pianoseq/internal/extract"
	"pianoseq/pkg/contract"
	"pianoseq/plugins/windower/fixed"
)

// synthReader 生成 n 首合成歌曲，每首 tokens 个元素。
type synthReader struct{ n, tokens int }

func (r synthReader) Iterate(ctx context.Context, roots []string, yield func(contract.FileID, io.ReadCloser) error) error {
	for i := 0; i < r.n; i++ {
		var sb strings.Builder
		for j := 0; j < r.tokens; j++ {
			p := 48 + (i*7+j*5)%36
			if j%4 == 3 {
				fmt.Fprintf(&sb, "%d+%d+%d ", p, p+4, p+7)
			} else {
				fmt.Fprintf(&sb, "%d ", p)
			}
		}
		if err := yield(contract.FileID(fmt.Sprintf("song-%04d.mid", i)), io.NopCloser(strings.NewReader(sb.String()))); err != nil {
			return err
		}
	}
	return nil
}

// BenchmarkPipeline 测试完整流水线（解析桩 + 真实抽取/词表/窗口）的吞吐。
func BenchmarkPipeline(b *testing.B) {
	for _, n := range []int{10, 100} {
		b.Run(fmt.Sprintf("songs=%d", n), func(b *testing.B) {
			comp := Components{
				Reader:    synthReader{n: n, tokens: 512},
				Parser:    &stubParser{},
				Extractor: extract.New(nil),
				Windower:  fixed.New(nil),
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := Run(context.Background(), comp, Settings{WindowLen: 32}, nil); err != nil {
					b.Fatalf("run: %v", err)
				}
			}
		})
	}
}
