package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Terminal 终端状态提示（不是日志）。
// TTY 下进度单行 \r 覆盖，非 TTY 下关键节点分行打印。写失败后静默禁用。
type Terminal struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	isTTY   bool

	runStart  time.Time
	filesDone int
	tokens    int64
	curFile   string

	lastLen   int
	lastFlush time.Time
}

// progressEvery TTY 进度行的最小刷新间隔。
const progressEvery = 100 * time.Millisecond

// 进程级终端，供 pipeline 旁路调用。
var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端；nil 清除。
func SetTerminal(t *Terminal) {
	termMu.Lock()
	term = t
	termMu.Unlock()
}

// GetTerminal 可能返回 nil。
func GetTerminal() *Terminal {
	termMu.RLock()
	defer termMu.RUnlock()
	return term
}

// NewTerminal enabled=false 时所有方法为 no-op；CI 环境按非 TTY 处理。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	if f, ok := w.(*os.File); ok && os.Getenv("CI") == "" {
		fd := f.Fd()
		t.isTTY = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return t
}

// locked 在持锁且启用时执行 fn。
func (t *Terminal) locked(fn func()) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		fn()
	}
}

// RunStart 重置计数并打印窗口长度与解析器。
func (t *Terminal) RunStart(window int, parser string) {
	t.locked(func() {
		t.runStart, t.filesDone, t.tokens = time.Now(), 0, 0
		t.println(fmt.Sprintf("[run] 窗口=%d | parser=%s", window, safe(parser)))
	})
}

// FileStart 标记当前文件；TTY 下节流刷新进度行。
func (t *Terminal) FileStart(fileID string) {
	t.locked(func() {
		t.curFile = shortenBase(fileID, 48)
		if !t.isTTY {
			return
		}
		now := time.Now()
		if now.Sub(t.lastFlush) < progressEvery {
			return
		}
		t.lastFlush = now
		t.printInline(fmt.Sprintf("[file] %s | 已完成 %d | tokens %s | 用时 %s",
			t.curFile, t.filesDone, humanize.Comma(t.tokens), formatDur(time.Since(t.runStart))))
	})
}

// FileFinish status 取 done|empty|skip|fail。TTY 下只有 skip/fail 单独成行。
func (t *Terminal) FileFinish(status string, tokens int, dur time.Duration) {
	t.locked(func() {
		t.filesDone++
		t.tokens += int64(tokens)
		if t.isTTY {
			if status == "done" || status == "empty" {
				return
			}
			t.clearInline()
		}
		t.println(fmt.Sprintf("[%s] %s | tokens %s | 用时 %s",
			status, t.curFile, humanize.Comma(int64(tokens)), formatDur(dur)))
	})
}

// RunFinish 打印总览。
func (t *Terminal) RunFinish(ok bool, songs, pairs, vocab int, dur time.Duration) {
	t.locked(func() {
		tag := "ok"
		if !ok {
			tag = "fail"
		}
		t.clearInline()
		t.println(fmt.Sprintf("[%s] 全部完成 | 文件 %d | 歌曲 %d | 样本 %s | 词表 %d | 总用时 %s",
			tag, t.filesDone, songs, humanize.Comma(int64(pairs)), vocab, formatDur(dur)))
	})
}

func (t *Terminal) write(s string) bool {
	if !t.enabled {
		return false
	}
	if _, err := io.WriteString(t.w, s); err != nil {
		t.enabled = false
		return false
	}
	return true
}

func (t *Terminal) println(s string) {
	t.write(s + "\n")
	t.lastLen = 0
}

// printInline 回到行首覆盖；新行较短时补空格抹掉残留。
func (t *Terminal) printInline(s string) {
	n := visLen(s)
	pad := ""
	if t.lastLen > n {
		pad = strings.Repeat(" ", t.lastLen-n)
	}
	if t.write("\r" + s + pad) {
		t.lastLen = n
	}
}

func (t *Terminal) clearInline() {
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if visLen(base) <= max {
		return base
	}
	rs := []rune(base)
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

// formatDur 一秒内按毫秒，否则保留一位小数的秒。
func formatDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", max(d.Milliseconds(), 0))
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
