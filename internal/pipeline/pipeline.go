package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"pianoseq/internal/dataset"
	"pianoseq/internal/diag"
	"pianoseq/internal/extract"
	"pianoseq/internal/vocab"
	"pianoseq/pkg/contract"
)

// - 单线程、同步：逐文件 解析→抽取，全部歌曲就绪后一次性构建词表与数据集。
// - 失败策略：解析失败按 OnParseError 处理（fail 中止 / skip 记录后继续）；其余错误一律中止。
// - 缓存（可选）：按 (file_id, 内容摘要) 复用抽取结果，不缓存词表与数据集。

// 解析失败策略。
const (
	PolicyFail = "fail"
	PolicySkip = "skip"
)

// 单曲状态。
const (
	StatusDone    = "done"
	StatusNoPiano = "no_piano"
	StatusEmpty   = "empty"
	StatusSkipped = "skip"
)

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader    contract.Reader
	Parser    contract.ScoreParser
	Extractor *extract.Extractor
	Windower  contract.Windower
	// Cache 可选；nil 表示不缓存。
	Cache contract.TokenCache
	// Writer 可选；非 nil 时在构建成功后写出运行报告。
	Writer contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Inputs    []string
	WindowLen int
	// OnParseError: fail（默认）| skip
	OnParseError string
	// MaxFiles: 最多处理的文件数；<=0 不限制。
	MaxFiles int
	// CacheSalt: 抽取配置指纹，参与缓存摘要；配置变化时旧条目自然失效。
	CacheSalt string
}

// SongResult: 单个文件的处理结果。
type SongResult struct {
	FileID contract.FileID `json:"file_id"`
	Part   string          `json:"part,omitempty"`
	Tokens int             `json:"tokens"`
	Status string          `json:"status"`
	Cached bool            `json:"cached,omitempty"`
}

// Stats 运行统计。
type Stats struct {
	Files     int `json:"files"`
	Songs     int `json:"songs"`
	Skipped   int `json:"skipped"`
	NoPiano   int `json:"no_piano"`
	Empty     int `json:"empty"`
	CacheHits int `json:"cache_hits"`
	// CacheEntries: 运行结束时缓存中的条目数（缓存支持计数时）。
	CacheEntries int `json:"cache_entries,omitempty"`
	Tokens       int `json:"tokens"`
	Pairs        int `json:"pairs"`
}

// Result 流水线输出：词表、数据集与逐文件明细。
type Result struct {
	Vocab   vocab.Vocabulary
	Dataset dataset.Dataset
	Songs   []SongResult
	Stats   Stats
}

// 运行报告工件。
const (
	ManifestID contract.ArtifactID = "manifest.jsonl"
	StatsID    contract.ArtifactID = "stats.json"
)

// Report: stats.json 的内容。
type Report struct {
	Stats        Stats `json:"stats"`
	VocabSize    int   `json:"vocab_size"`
	WindowsShape []int `json:"windows_shape"`
	TargetsShape []int `json:"targets_shape"`
}

// cacheCounter: 可统计条目数的缓存（如 sqlite）。
type cacheCounter interface {
	Len(ctx context.Context) (int, error)
}

// errMaxFiles: 达到 MaxFiles 时用于提前结束遍历。
var errMaxFiles = errors.New("pipeline: max files reached")

// Run 执行完整流水线：Reader → (Cache) → Parser → Extractor → dataset.Build。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Result, error) {
	if err := sanity(comp, set); err != nil {
		return Result{}, fmt.Errorf("sanity: %w", err)
	}
	policy := set.OnParseError
	if policy == "" {
		policy = PolicyFail
	}

	var (
		res      Result
		seqs     [][]contract.Token
		distinct = contract.TokenSet{}
	)

	perFile := func(fileID contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		if t := diag.GetTerminal(); t != nil {
			t.FileStart(string(fileID))
		}
		fileStart := time.Now()
		timer := logger.StartWith("pipeline", "file", string(fileID), "")

		data, err := io.ReadAll(rc)
		if err != nil {
			fail(logger, "reader", err, fileID)
			finishTerm("fail", 0, fileStart)
			return fmt.Errorf("read %s: %w", fileID, err)
		}
		key := contract.CacheKey{FileID: fileID, Digest: digest(set.CacheSalt, data)}

		song := SongResult{FileID: fileID}
		var entry contract.CacheEntry
		hit := false
		if comp.Cache != nil {
			entry, hit, err = comp.Cache.Get(ctx, key)
			if err != nil {
				fail(logger, "cache", err, fileID)
				finishTerm("fail", 0, fileStart)
				return err
			}
		}
		if hit {
			song.Cached = true
			res.Stats.CacheHits++
			diag.IncOp("cache", "get", "hit")
			distinct.Add(entry.Tokens...)
		} else {
			score, err := comp.Parser.Parse(ctx, fileID, bytes.NewReader(data))
			if err != nil {
				if errors.Is(err, contract.ErrParse) && policy == PolicySkip {
					logger.WarnWith("parser", string(diag.Classify(err)), err.Error(), string(fileID), map[string]string{"policy": PolicySkip})
					diag.IncOp("parser", "parse", "skip")
					diag.IncError("parser", string(diag.Classify(err)))
					res.Stats.Files++
					res.Stats.Skipped++
					song.Status = StatusSkipped
					res.Songs = append(res.Songs, song)
					finishTerm(StatusSkipped, 0, fileStart)
					return nil
				}
				fail(logger, "parser", err, fileID)
				finishTerm("fail", 0, fileStart)
				return err
			}
			ex, err := comp.Extractor.Extract(score)
			if err != nil {
				fail(logger, "extract", err, fileID)
				finishTerm("fail", 0, fileStart)
				return fmt.Errorf("extract %s: %w", fileID, err)
			}
			entry = contract.CacheEntry{Tokens: ex.Tokens, Part: ex.Part, Matched: ex.Matched}
			distinct.Union(ex.Distinct)
			if comp.Cache != nil {
				if err := comp.Cache.Put(ctx, key, entry); err != nil {
					fail(logger, "cache", err, fileID)
					finishTerm("fail", 0, fileStart)
					return err
				}
				diag.IncOp("cache", "get", "miss")
			}
		}

		if entry.Matched > 1 {
			logger.DebugWith("extract", "multiple piano parts, last wins", string(fileID), entry.Part, map[string]string{"matched": strconv.Itoa(entry.Matched)})
		}
		toks := entry.Tokens
		song.Part = entry.Part
		res.Stats.Files++
		song.Tokens = len(toks)
		switch {
		case len(toks) > 0:
			song.Status = StatusDone
			res.Stats.Songs++
		case song.Part == "":
			song.Status = StatusNoPiano
			res.Stats.NoPiano++
		default:
			song.Status = StatusEmpty
			res.Stats.Empty++
		}
		res.Stats.Tokens += len(toks)
		res.Songs = append(res.Songs, song)
		seqs = append(seqs, toks)

		timer.Finish("file", int64(len(toks)))
		diag.IncOp("pipeline", "file", "success")
		diag.ObserveDuration("pipeline", "file", time.Since(fileStart).Milliseconds())
		if song.Status == StatusDone {
			finishTerm(StatusDone, len(toks), fileStart)
		} else {
			finishTerm(StatusEmpty, 0, fileStart)
		}
		if set.MaxFiles > 0 && res.Stats.Files >= set.MaxFiles {
			return errMaxFiles
		}
		return nil
	}

	rtimer := logger.Start("reader", "iterate")
	err := comp.Reader.Iterate(ctx, set.Inputs, perFile)
	if err != nil && !errors.Is(err, errMaxFiles) {
		logger.ErrorWith("reader", string(diag.Classify(err)), "iterate failed", nil, "")
		diag.IncOp("reader", "iterate", "error")
		return Result{}, fmt.Errorf("reader iterate: %w", err)
	}
	rtimer.Finish("iterate", int64(res.Stats.Files))

	btimer := logger.Start("dataset", "build")
	v, ds, err := dataset.Build(ctx, seqs, distinct, set.WindowLen, comp.Windower)
	if err != nil {
		code := diag.Classify(err)
		logger.ErrorWith("dataset", string(code), err.Error(), nil, "")
		diag.IncOp("dataset", "build", "error")
		diag.IncError("dataset", string(code))
		return Result{}, fmt.Errorf("dataset build: %w", err)
	}
	btimer.Finish("build", int64(ds.Len()))
	diag.IncOp("dataset", "build", "success")

	res.Vocab = v
	res.Dataset = ds
	res.Stats.Pairs = ds.Len()
	if c, ok := comp.Cache.(cacheCounter); ok {
		n, err := c.Len(ctx)
		if err != nil {
			fail(logger, "cache", err, "")
			return Result{}, err
		}
		res.Stats.CacheEntries = n
	}

	if comp.Writer != nil {
		wtimer := logger.Start("writer", "report")
		if err := writeReport(ctx, comp.Writer, res); err != nil {
			fail(logger, "writer", err, "")
			return Result{}, err
		}
		wtimer.Finish("report", int64(len(res.Songs)))
		diag.IncOp("writer", "report", "success")
	}
	return res, nil
}

// writeReport 写出 manifest.jsonl（逐文件一行，经管道流式写出）与 stats.json。
func writeReport(ctx context.Context, w contract.Writer, res Result) error {
	pr, pw := io.Pipe()
	go func() {
		enc := json.NewEncoder(pw)
		for _, s := range res.Songs {
			if err := enc.Encode(s); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()
	if err := w.Write(ctx, ManifestID, pr); err != nil {
		// 解除编码协程的阻塞
		pr.CloseWithError(err)
		return fmt.Errorf("writer write(manifest): %w", err)
	}
	pr.Close()

	b, err := json.MarshalIndent(Report{
		Stats:        res.Stats,
		VocabSize:    res.Vocab.Size(),
		WindowsShape: res.Dataset.Windows.Shape,
		TargetsShape: res.Dataset.Targets.Shape,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := w.Write(ctx, StatsID, bytes.NewReader(append(b, '\n'))); err != nil {
		return fmt.Errorf("writer write(stats): %w", err)
	}
	return nil
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Parser == nil || c.Extractor == nil || c.Windower == nil {
		return errors.New("pipeline: missing components")
	}
	if s.WindowLen <= 0 {
		return fmt.Errorf("%w: window_len must be > 0", contract.ErrInvalidInput)
	}
	switch s.OnParseError {
	case "", PolicyFail, PolicySkip:
	default:
		return fmt.Errorf("%w: on_parse_error %q", contract.ErrInvalidInput, s.OnParseError)
	}
	return nil
}

// fail 记录组件级错误事件与计数。
func fail(logger *diag.Logger, comp string, err error, fileID contract.FileID) {
	code := diag.Classify(err)
	logger.ErrorWith(comp, string(code), err.Error(), nil, string(fileID))
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

func finishTerm(status string, tokens int, start time.Time) {
	if t := diag.GetTerminal(); t != nil {
		t.FileFinish(status, tokens, time.Since(start))
	}
}

// digest: sha256(salt || 0x00 || data) 的十六进制。
func digest(salt string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
