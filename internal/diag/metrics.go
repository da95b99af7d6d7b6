package diag

import (
	"sort"
	"strings"
	"sync"
)

// 进程内最小指标：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计毫秒）
var (
	metricsMu sync.Mutex
	ops       = map[string]int64{}
	errs      = map[string]int64{}
	durs      = map[string]int64{}
)

func key(parts ...string) string { return strings.Join(parts, "|") }

// IncOp 累加操作计数（result=success|skip|error）。
func IncOp(comp, stage, result string) {
	metricsMu.Lock()
	ops[key(comp, stage, result)]++
	metricsMu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metricsMu.Lock()
	errs[key(comp, code)]++
	metricsMu.Unlock()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metricsMu.Lock()
	durs[key(comp, stage)] += durMS
	metricsMu.Unlock()
}

// Sample: 单个指标值。
type Sample struct {
	Name   string `json:"name"`
	Labels string `json:"labels"`
	Value  int64  `json:"value"`
}

// Snapshot 返回当前全部指标（按名称、标签排序）。
func Snapshot() []Sample {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	out := make([]Sample, 0, len(ops)+len(errs)+len(durs))
	add := func(name string, m map[string]int64) {
		for k, v := range m {
			out = append(out, Sample{Name: name, Labels: k, Value: v})
		}
	}
	add("op_total", ops)
	add("error_total", errs)
	add("op_duration_ms", durs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Labels < out[j].Labels
	})
	return out
}

// ResetMetrics 清空全部指标；CLI 在每次 run 开始时调用，摘要只反映本次运行。
func ResetMetrics() {
	metricsMu.Lock()
	ops = map[string]int64{}
	errs = map[string]int64{}
	durs = map[string]int64{}
	metricsMu.Unlock()
}
