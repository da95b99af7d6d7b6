package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level 日志级别。
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = [...]string{Debug: "debug", Info: "info", Warn: "warn", Error: "error"}

func (l Level) String() string {
	if l < Debug || l > Error {
		return "info"
	}
	return levelNames[l]
}

// parseLevel 未知或空串按 info。
func parseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	for lv, name := range levelNames {
		if name == s {
			return Level(lv)
		}
	}
	return Info
}

const (
	// DefaultLogDir 相对工作目录。
	DefaultLogDir = "logs"
	logMaxBytes   = 10 << 20
)

// Logger 单行 JSON 结构化日志；写入轮转文件，失败时回落 stderr。
// nil *Logger 可安全调用（什么也不写）。
type Logger struct {
	mu       sync.Mutex
	corrID   string
	level    Level
	sink     *RotatingFile
	fallback io.Writer
}

// NewLogger 写入 logs/（10MiB 轮转）。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerTo(corrID, level, DefaultLogDir)
}

// NewLoggerTo 写入 dir；dir 为空时只写 stderr。
func NewLoggerTo(corrID, level, dir string) *Logger {
	l := &Logger{corrID: corrID, level: parseLevel(level), fallback: os.Stderr}
	if dir != "" {
		l.sink = NewRotatingFile(dir, logMaxBytes)
	}
	return l
}

// Event 一行日志。Stage: start|finish|skip|error|debug。
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"`
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	FileID string            `json:"file_id,omitempty"`
	Part   string            `json:"part_id,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

func (l *Logger) emit(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level, ev.TS, ev.CorrID = lv.String(), NowUTC(), l.corrID
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink != nil {
		err = l.sink.WriteLine(b)
		if err == nil {
			return
		}
		fmt.Fprintf(l.fallback, "logger sink error: %v\n", err)
	}
	_, _ = l.fallback.Write(append(b, '\n'))
}

// Start 记录 start 并返回计时器。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWith(comp, msg, "", "")
}

// StartWith 同 Start，附带 file_id 与声部 id。
func (l *Logger) StartWith(comp, msg, fileID, part string) *Timer {
	l.emit(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Part: part, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, part: part, t0: time.Now()}
}

// InfoFinish 以给定起点记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.emit(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// WarnWith 被策略吸收的错误（如 skip 下的解析失败）。
func (l *Logger) WarnWith(comp, code, msg, fileID string, kv map[string]string) {
	l.emit(Warn, Event{Comp: comp, Stage: "skip", Code: code, Msg: msg, FileID: fileID, KV: kv})
}

// ErrorWith 终止性错误；durSince 非 nil 时带耗时。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID string) {
	ev := Event{Comp: comp, Stage: "error", Code: code, Msg: msg, FileID: fileID}
	if durSince != nil {
		ev.DurMS = time.Since(*durSince).Milliseconds()
	}
	l.emit(Error, ev)
}

func (l *Logger) DebugWith(comp, msg, fileID, part string, kv map[string]string) {
	l.emit(Debug, Event{Comp: comp, Stage: "debug", FileID: fileID, Part: part, Msg: msg, KV: kv})
}

func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Timer start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	part   string
	t0     time.Time
}

// Finish 记录 finish 与计数。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil {
		return
	}
	t.l.emit(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, Part: t.part, Msg: msg})
}
