package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	cfgpkg "pianoseq/internal/config"
	"pianoseq/internal/diag"
	"pianoseq/internal/pipeline"
	"pianoseq/pkg/contract"
)

var pipelineRun = pipeline.Run

// stdout 为摘要输出目标（测试可替换）。
var stdout io.Writer = os.Stdout

// pianoseq [flags] ROOT...
// ROOT 为文件、目录、数据集根，或 "-"（STDIN，不能与其他根混用）。
// 退出码：0 成功，1 运行失败，3 配置/参数错误。
func main() {
	os.Exit(run())
}

// cliFlags 命令行覆盖项。
type cliFlags struct {
	config       string
	window       int
	onParseError string
	limit        int
	reader       string
	cache        string
	report       string
	initDir      string
	status       bool
	vocab        bool
}

func parseFlags() (cliFlags, []string, error) {
	var f cliFlags
	fs := flag.CommandLine
	fs.StringVar(&f.config, "config", "", "配置文件（JSON 或 YAML）；缺省查找 ./config.json、./config.yaml")
	fs.IntVar(&f.window, "window", 0, "训练窗口长度 W（默认 32）")
	fs.StringVar(&f.onParseError, "on-parse-error", "", "解析失败策略 fail|skip")
	fs.IntVar(&f.limit, "limit", 0, "最多处理的文件数（0 不限制）")
	fs.StringVar(&f.reader, "reader", "", "语料 Reader：fs|lakh")
	fs.StringVar(&f.cache, "cache", "", "token 缓存实现，如 sqlite（缺省不缓存）")
	fs.StringVar(&f.report, "report", "", "运行报告目录：写出 manifest.jsonl 与 stats.json")
	fs.StringVar(&f.initDir, "init-config", "", "在目录下生成 config.json 与 .env 模板后退出；不带值时为当前目录")
	fs.BoolVar(&f.status, "status", true, "stderr 状态提示（TTY 单行刷新，非 TTY 逐行）")
	fs.BoolVar(&f.vocab, "vocab", false, "摘要中附带完整词表（索引序）")
	normalizeInitArg()
	err := fs.Parse(os.Args[1:])
	return f, fs.Args(), err
}

// overlay 把 CLI 旗标转为最高优先级的配置覆盖。
func (f cliFlags) overlay(roots []string) cfgpkg.Config {
	over := cfgpkg.Config{
		Inputs:       roots,
		WindowLen:    f.window,
		OnParseError: strings.TrimSpace(f.onParseError),
		MaxFiles:     f.limit,
	}
	over.Components.Reader = strings.TrimSpace(f.reader)
	over.Components.Cache = strings.TrimSpace(f.cache)
	if dir := strings.TrimSpace(f.report); dir != "" {
		over.Components.Writer = "fs"
		over.Options.Writer, _ = json.Marshal(map[string]string{"output_dir": dir})
	}
	return over
}

func run() int {
	start := time.Now()
	corrID := uuid.NewString()
	diag.ResetMetrics()
	// .env 先于一切 ENV 读取；不覆盖已有变量
	_ = loadDotEnv(".env")
	logger := diag.NewLogger(corrID, "info")
	defer func() { _ = logger.Close() }()
	configErr := func(stage string, err error) int {
		fprintf(os.Stderr, "%s: %v\n", stage, err)
		logger.ErrorWith("config", string(diag.Classify(err)), stage, &start, "")
		return 3
	}

	flags, roots, err := parseFlags()
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 3
	}
	if dir := strings.TrimSpace(flags.initDir); dir != "" {
		if err := initConfig(dir); err != nil {
			return configErr("生成默认配置失败", err)
		}
		return 0
	}

	cfg, err := loadConfig(flags.config)
	if err != nil {
		return configErr("配置加载失败", err)
	}
	cfg = cfgpkg.Merge(cfg, flags.overlay(roots))
	if err := cfgpkg.Validate(cfg); err != nil {
		_ = dumpConfig(cfg)
		return configErr("配置校验失败", err)
	}

	// 按最终日志级别重建 logger
	_ = logger.Close()
	logger = diag.NewLogger(corrID, cfg.Logging.Level)

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return configErr("装配失败", err)
	}
	if comp.Cache != nil {
		defer func() { _ = comp.Cache.Close() }()
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(os.Stderr, flags.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	parserName := cfg.Components.Parser
	if parserName == "" {
		parserName = cfgpkg.Defaults().Components.Parser
	}
	term.RunStart(set.WindowLen, parserName)

	// debug: 输出运行时配置信息
	logger.DebugWith("config", "effective", "", "", map[string]string{
		"inputs_count":   strconv.Itoa(len(cfg.Inputs)),
		"window_len":     strconv.Itoa(cfg.WindowLen),
		"on_parse_error": cfg.OnParseError,
		"max_files":      strconv.Itoa(cfg.MaxFiles),
		"reader":         cfg.Components.Reader,
		"parser":         parserName,
		"windower":       cfg.Components.Windower,
		"cache":          cfg.Components.Cache,
		"writer":         cfg.Components.Writer,
	})

	// Ctrl-C 取消整个语料遍历
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 运行流水线
	t := logger.Start("pipeline", "run")
	res, err := pipelineRun(ctx, comp, set, logger)
	if err != nil {
		// 分类到最接近的退出码（运行期错误）
		code := string(diag.Classify(err))
		logger.ErrorWith("pipeline", code, err.Error(), &start, "")
		diag.IncOp("pipeline", "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, 0, 0, 0, time.Since(start))
		return 1
	}
	t.Finish("run", int64(res.Stats.Pairs))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	term.RunFinish(true, res.Stats.Songs, res.Stats.Pairs, res.Vocab.Size(), time.Since(start))

	if err := writeSummary(stdout, corrID, res, flags.vocab); err != nil {
		fprintf(os.Stderr, "摘要输出失败: %v\n", err)
		return 1
	}
	return 0
}

// Summary: 运行结束后写到 stdout 的 JSON 摘要。
// 数据集本身不落盘，只给出形状与统计。
type Summary struct {
	CorrID       string                `json:"corr_id"`
	Stats        pipeline.Stats        `json:"stats"`
	VocabSize    int                   `json:"vocab_size"`
	WindowsShape []int                 `json:"windows_shape"`
	TargetsShape []int                 `json:"targets_shape"`
	Songs        []pipeline.SongResult `json:"songs"`
	Vocab        []contract.Token      `json:"vocab,omitempty"`
	Metrics      []diag.Sample         `json:"metrics"`
}

func writeSummary(w io.Writer, corrID string, res pipeline.Result, withVocab bool) error {
	s := Summary{
		CorrID:       corrID,
		Stats:        res.Stats,
		VocabSize:    res.Vocab.Size(),
		WindowsShape: res.Dataset.Windows.Shape,
		TargetsShape: res.Dataset.Targets.Shape,
		Songs:        res.Songs,
		Metrics:      diag.Snapshot(),
	}
	if withVocab {
		s.Vocab = res.Vocab.Tokens()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }
