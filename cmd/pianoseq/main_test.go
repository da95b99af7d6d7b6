package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	gsmf "gitlab.com/gomidi/midi/v2/smf"

	cfgpkg "pianoseq/internal/config"
	"pianoseq/internal/diag"
	"pianoseq/internal/pipeline"
)

func resetFlag(args []string) {
	flag.CommandLine = flag.NewFlagSet(args[0], flag.ContinueOnError)
	os.Args = args
}

// chdir 切换到临时目录（日志与默认配置都相对工作目录）。
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	return dir
}

// captureStdout 替换摘要输出目标。
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })
	return &buf
}

// stubRun 替换 pipelineRun 并记录收到的 Settings。
func stubRun(t *testing.T, err error) *pipeline.Settings {
	t.Helper()
	got := &pipeline.Settings{}
	orig := pipelineRun
	pipelineRun = func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) (pipeline.Result, error) {
		*got = set
		return pipeline.Result{}, err
	}
	t.Cleanup(func() { pipelineRun = orig })
	return got
}

// writeMIDI 写出单轨 SMF：program 音色，notes 依次各占 120 tick。
func writeMIDI(t *testing.T, path string, program uint8, notes ...uint8) {
	t.Helper()
	var tr gsmf.Track
	tr.Add(0, midi.ProgramChange(0, program))
	for _, n := range notes {
		tr.Add(0, midi.NoteOn(0, n, 100))
		tr.Add(120, midi.NoteOff(0, n))
	}
	tr.Close(0)
	s := gsmf.New()
	if err := s.Add(tr); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWriteConfig(t *testing.T) {
	cfg := cfgpkg.Defaults()
	dir := t.TempDir()
	file := filepath.Join(dir, "c.json")
	if err := writeConfig(file, cfg); err != nil {
		t.Fatalf("writeConfig file: %v", err)
	}
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if err := writeConfig(file, cfg); err == nil {
		t.Fatalf("已存在文件不应覆盖")
	}
}

func TestDumpConfig(t *testing.T) {
	devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	old := os.Stderr
	os.Stderr = devnull
	defer func() { os.Stderr = old; devnull.Close() }()
	if err := dumpConfig(cfgpkg.Defaults()); err != nil {
		t.Fatalf("dumpConfig: %v", err)
	}
}

func TestRunInitConfig(t *testing.T) {
	dir := chdir(t)
	outDir := filepath.Join(dir, "out")
	resetFlag([]string{"pianoseq", "--init-config", outDir})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	cfg, err := cfgpkg.LoadJSON(filepath.Join(outDir, "config.json"), nil)
	if err != nil {
		t.Fatalf("模板无法解析: %v", err)
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		t.Fatalf("模板无法通过校验: %v", err)
	}
	env, err := os.ReadFile(filepath.Join(outDir, ".env"))
	if err != nil || !strings.Contains(string(env), "PIANOSEQ_WINDOW_LEN=") {
		t.Fatalf(".env 模板错误: %v %q", err, env)
	}
	// 再次生成：config.json 已存在 → 3
	resetFlag([]string{"pianoseq", "--init-config", outDir})
	if code := run(); code != 3 {
		t.Fatalf("已存在时应返回 3, got %d", code)
	}
}

func TestRunInitConfigDefault(t *testing.T) {
	dir := chdir(t)
	resetFlag([]string{"pianoseq", "--status=false", "--init-config"})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		t.Fatalf("config not generated: %v", err)
	}
}

func TestRunConfigJSONEnv(t *testing.T) {
	chdir(t)
	captureStdout(t)
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.WindowLen = 12
	b, _ := json.Marshal(cfg)
	t.Setenv("PIANOSEQ_CONFIG_JSON", string(b))
	got := stubRun(t, nil)
	resetFlag([]string{"pianoseq", "--status=false"})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if got.WindowLen != 12 || got.Inputs[0] != "." {
		t.Fatalf("settings=%+v", got)
	}
}

func TestRunYAMLConfigFile(t *testing.T) {
	dir := chdir(t)
	captureStdout(t)
	path := filepath.Join(dir, "cfg.yaml")
	yml := "inputs: [songs]\nwindow_len: 8\non_parse_error: skip\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	got := stubRun(t, nil)
	resetFlag([]string{"pianoseq", "--status=false", "--config", path})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if got.WindowLen != 8 || got.OnParseError != "skip" || got.Inputs[0] != "songs" {
		t.Fatalf("settings=%+v", got)
	}
}

func TestRunDefaultConfigFile(t *testing.T) {
	dir := chdir(t)
	captureStdout(t)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"inputs":["x"],"window_len":4}`), 0o644); err != nil {
		t.Fatal(err)
	}
	got := stubRun(t, nil)
	resetFlag([]string{"pianoseq", "--status=false"})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if got.WindowLen != 4 {
		t.Fatalf("应读取 ./config.json: %+v", got)
	}
}

// 优先级：CLI > ENV > 文件
func TestRunCLIOverrides(t *testing.T) {
	dir := chdir(t)
	captureStdout(t)
	path := filepath.Join(dir, "c.json")
	if err := os.WriteFile(path, []byte(`{"inputs":["a"],"window_len":4,"max_files":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIANOSEQ_WINDOW_LEN", "6")
	t.Setenv("PIANOSEQ_MAX_FILES", "2")
	got := stubRun(t, nil)
	resetFlag([]string{"pianoseq", "--status=false", "--config", path, "--window", "9", "--on-parse-error", "skip", "r1", "r2"})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	if got.WindowLen != 9 || got.MaxFiles != 2 || got.OnParseError != "skip" || len(got.Inputs) != 2 {
		t.Fatalf("settings=%+v", got)
	}
}

func TestRunConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"配置文件不存在", []string{"--config", "nope.json", "a"}, nil},
		{"缺少输入", []string{}, nil},
		{"非法窗口", []string{"--window", "-1", "a"}, nil},
		{"未知策略", []string{"--on-parse-error", "retry", "a"}, nil},
		{"未注册 reader", []string{"--reader", "s3", "a"}, nil},
		{"ENV 数值错误", []string{"a"}, map[string]string{"PIANOSEQ_WINDOW_LEN": "wide"}},
		{"未知选项", []string{"a"}, map[string]string{"PIANOSEQ_OPTIONS_PARSER_JSON": `{"nope":1}`}},
		{"未知旗标", []string{"--bogus"}, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			chdir(t)
			for k, v := range c.env {
				t.Setenv(k, v)
			}
			devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
			old := os.Stderr
			os.Stderr = devnull
			defer func() { os.Stderr = old; devnull.Close() }()
			stubRun(t, nil)
			resetFlag(append([]string{"pianoseq", "--status=false"}, c.args...))
			if code := run(); code != 3 {
				t.Fatalf("应返回 3, got %d", code)
			}
		})
	}
}

func TestRunPipelineError(t *testing.T) {
	chdir(t)
	captureStdout(t)
	stubRun(t, errors.New("boom"))
	devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	old := os.Stderr
	os.Stderr = devnull
	defer func() { os.Stderr = old; devnull.Close() }()
	resetFlag([]string{"pianoseq", "--status=false", "a"})
	if code := run(); code != 1 {
		t.Fatalf("运行失败应返回 1, got %d", code)
	}
}

// 同一进程内连续两次 run：摘要中的指标只统计本次
func TestRunMetricsPerRun(t *testing.T) {
	chdir(t)
	out := captureStdout(t)
	stubRun(t, nil)
	for i := 0; i < 2; i++ {
		out.Reset()
		resetFlag([]string{"pianoseq", "--status=false", "a"})
		if code := run(); code != 0 {
			t.Fatalf("第 %d 次运行返回 %d", i+1, code)
		}
	}
	var s Summary
	if err := json.Unmarshal(out.Bytes(), &s); err != nil {
		t.Fatalf("摘要非 JSON: %v", err)
	}
	found := false
	for _, m := range s.Metrics {
		if m.Name == "op_total" && m.Labels == "pipeline|finish|success" {
			found = true
			if m.Value != 1 {
				t.Fatalf("指标跨运行累加: %+v", m)
			}
		}
	}
	if !found {
		t.Fatalf("缺少 pipeline finish 指标: %+v", s.Metrics)
	}
}

// 端到端：真实 MIDI 文件 → 摘要 JSON
func TestRunEndToEnd(t *testing.T) {
	dir := chdir(t)
	out := captureStdout(t)
	songs := filepath.Join(dir, "songs")
	writeMIDI(t, filepath.Join(songs, "a.mid"), 0, 60, 62, 64, 65, 67, 69, 71, 72, 74)
	writeMIDI(t, filepath.Join(songs, "b.mid"), 40, 60, 62, 64) // 小提琴，无钢琴
	if err := os.WriteFile(filepath.Join(songs, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	diag.ResetMetrics()
	resetFlag([]string{"pianoseq", "--status=false", "--window", "4", "--vocab", songs})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	var s Summary
	if err := json.Unmarshal(out.Bytes(), &s); err != nil {
		t.Fatalf("摘要非 JSON: %v\n%s", err, out.String())
	}
	if s.Stats.Files != 2 || s.Stats.Songs != 1 || s.Stats.NoPiano != 1 {
		t.Fatalf("stats=%+v", s.Stats)
	}
	// L=9, W=4 → 2 个样本
	if s.Stats.Pairs != 2 || s.VocabSize != 9 {
		t.Fatalf("pairs=%d vocab=%d", s.Stats.Pairs, s.VocabSize)
	}
	if len(s.WindowsShape) != 3 || s.WindowsShape[0] != 2 || s.WindowsShape[1] != 4 || s.WindowsShape[2] != 1 {
		t.Fatalf("windows shape=%v", s.WindowsShape)
	}
	if len(s.Vocab) != 9 || s.Vocab[0] != "A4" {
		t.Fatalf("vocab=%v", s.Vocab)
	}
	if s.CorrID == "" || len(s.Metrics) == 0 {
		t.Fatalf("摘要缺少 corr_id/metrics")
	}
	if _, err := os.Stat(filepath.Join(dir, "logs", "pianoseq-current.txt")); err != nil {
		t.Fatalf("日志未写入: %v", err)
	}
}

// 端到端：--report 写出 manifest.jsonl 与 stats.json
func TestRunEndToEndReport(t *testing.T) {
	dir := chdir(t)
	_ = captureStdout(t)
	writeMIDI(t, filepath.Join(dir, "songs", "a.mid"), 0, 60, 62, 64, 65)
	writeMIDI(t, filepath.Join(dir, "songs", "b.mid"), 40, 60)
	reports := filepath.Join(dir, "reports")
	resetFlag([]string{"pianoseq", "--status=false", "--window", "2", "--report", reports, "songs"})
	if code := run(); code != 0 {
		t.Fatalf("run return %d", code)
	}
	b, err := os.ReadFile(filepath.Join(reports, string(pipeline.ManifestID)))
	if err != nil {
		t.Fatalf("manifest 未写出: %v", err)
	}
	if n := strings.Count(string(b), "\n"); n != 2 {
		t.Fatalf("manifest 行数=%d\n%s", n, b)
	}
	b, err = os.ReadFile(filepath.Join(reports, string(pipeline.StatsID)))
	if err != nil {
		t.Fatalf("stats 未写出: %v", err)
	}
	var rep pipeline.Report
	if err := json.Unmarshal(b, &rep); err != nil {
		t.Fatalf("stats 非 JSON: %v", err)
	}
	// L=4, W=2 → 1 个样本
	if rep.Stats.Pairs != 1 || rep.Stats.NoPiano != 1 || rep.VocabSize != 4 {
		t.Fatalf("report=%+v", rep)
	}
}

// 端到端：SQLite 缓存二次运行命中，无钢琴歌曲的状态保持不变
func TestRunEndToEndCache(t *testing.T) {
	dir := chdir(t)
	out := captureStdout(t)
	writeMIDI(t, filepath.Join(dir, "songs", "a.mid"), 1, 60, 61, 62, 63, 64)
	writeMIDI(t, filepath.Join(dir, "songs", "b.mid"), 40, 60, 62)
	t.Setenv("PIANOSEQ_OPTIONS_CACHE_JSON", `{"path":"`+filepath.ToSlash(filepath.Join(dir, "cache.db"))+`"}`)
	for i := 0; i < 2; i++ {
		out.Reset()
		resetFlag([]string{"pianoseq", "--status=false", "--cache", "sqlite", "--window", "2", "songs"})
		if code := run(); code != 0 {
			t.Fatalf("第 %d 次运行返回 %d", i+1, code)
		}
	}
	var s Summary
	if err := json.Unmarshal(out.Bytes(), &s); err != nil {
		t.Fatalf("摘要非 JSON: %v", err)
	}
	if s.Stats.CacheHits != 2 || s.Stats.Pairs != 2 || s.Stats.CacheEntries != 2 {
		t.Fatalf("二次运行应命中缓存: %+v", s.Stats)
	}
	if s.Stats.NoPiano != 1 || s.Stats.Empty != 0 || len(s.Songs) != 2 {
		t.Fatalf("命中后状态错误: %+v", s.Stats)
	}
	if s.Songs[0].Part == "" || s.Songs[1].Status != pipeline.StatusNoPiano {
		t.Fatalf("songs=%+v", s.Songs)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	content := "# c\nexport PIANOSEQ_T_A=1\nPIANOSEQ_T_B=\"x\\ty\"\nPIANOSEQ_T_C='q'\nbad\nPIANOSEQ_T_D=keep\n"
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIANOSEQ_T_D", "orig")
	for _, k := range []string{"PIANOSEQ_T_A", "PIANOSEQ_T_B", "PIANOSEQ_T_C"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	if err := loadDotEnv(p); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if os.Getenv("PIANOSEQ_T_A") != "1" || os.Getenv("PIANOSEQ_T_B") != "x\ty" || os.Getenv("PIANOSEQ_T_C") != "q" {
		t.Fatalf("解析结果错误")
	}
	if os.Getenv("PIANOSEQ_T_D") != "orig" {
		t.Fatalf("不应覆盖已有 ENV")
	}
	if err := loadDotEnv(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("缺失文件应忽略: %v", err)
	}
}

func TestNormalizeInitArg(t *testing.T) {
	cases := []struct{ in, want []string }{
		{[]string{"p", "--init-config"}, []string{"p", "--init-config", "."}},
		{[]string{"p", "--init-config", "--status=false"}, []string{"p", "--init-config", ".", "--status=false"}},
		{[]string{"p", "--init-config", "out"}, []string{"p", "--init-config", "out"}},
		{[]string{"p", "--init-config=out"}, []string{"p", "--init-config=out"}},
	}
	old := os.Args
	defer func() { os.Args = old }()
	for _, c := range cases {
		os.Args = c.in
		normalizeInitArg()
		if strings.Join(os.Args, " ") != strings.Join(c.want, " ") {
			t.Fatalf("normalize(%v)=%v", c.in, os.Args)
		}
	}
}
