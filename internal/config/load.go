package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"pianoseq/internal/dataset"
	"pianoseq/internal/pipeline"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "PIANOSEQ_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Inputs 不设默认（必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		WindowLen:    dataset.DefaultWidth,
		OnParseError: pipeline.PolicyFail,
		Components: Components{
			Reader:   "fs",
			Parser:   "smf",
			Windower: "fixed",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile 按扩展名加载配置文件：.yaml/.yml 走 YAML，其余按 JSON。
// YAML 先转为等价 JSON，再走 LoadJSON 的严格解码，两种格式的字段与校验完全一致。
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		raw, err := yamlToJSON(b)
		if err != nil {
			return Config{}, fmt.Errorf("config: yaml %s: %w", path, err)
		}
		return LoadJSON("", raw)
	default:
		return LoadJSON(path, nil)
	}
}

func yamlToJSON(b []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	// 顶层
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.WindowLen != 0 {
		out.WindowLen = over.WindowLen
	}
	if s := strings.TrimSpace(over.OnParseError); s != "" {
		out.OnParseError = s
	}
	if over.MaxFiles != 0 {
		out.MaxFiles = over.MaxFiles
	}
	// Logging（仅 level）
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}

	// 抽取规则（列表整体替换；include_drums 只能被打开）
	if len(over.Extractor.Programs) > 0 {
		out.Extractor.Programs = append([]int(nil), over.Extractor.Programs...)
	}
	if len(over.Extractor.TrackNames) > 0 {
		out.Extractor.TrackNames = cloneStrings(over.Extractor.TrackNames)
	}
	if over.Extractor.IncludeDrums {
		out.Extractor.IncludeDrums = true
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Parser != "" {
		out.Components.Parser = over.Components.Parser
	}
	if over.Components.Windower != "" {
		out.Components.Windower = over.Components.Windower
	}
	if over.Components.Cache != "" {
		out.Components.Cache = over.Components.Cache
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Parser) > 0 {
		out.Options.Parser = cloneRaw(over.Options.Parser)
	}
	if len(over.Options.Windower) > 0 {
		out.Options.Windower = cloneRaw(over.Options.Windower)
	}
	if len(over.Options.Cache) > 0 {
		out.Options.Cache = cloneRaw(over.Options.Cache)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 PIANOSEQ_；集合之外的键忽略。
// 支持：INPUTS, WINDOW_LEN, ON_PARSE_ERROR, MAX_FILES, LOG_LEVEL,
// EXTRACTOR_{PROGRAMS,TRACK_NAMES,INCLUDE_DRUMS}, COMPONENTS_*, OPTIONS_*_JSON。
// 数值解析失败返回错误（不静默忽略）。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[:eq]
		val := kv[eq+1:]
		// 空值视为未设置（.env 模板中的占位行）
		if strings.TrimSpace(val) == "" {
			continue
		}
		nk := strings.TrimPrefix(key, EnvPrefix)
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "WINDOW_LEN":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("config: %s: %w", key, err)
			}
			over.WindowLen = v
		case "ON_PARSE_ERROR":
			over.OnParseError = strings.TrimSpace(val)
		case "MAX_FILES":
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("config: %s: %w", key, err)
			}
			over.MaxFiles = v
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "EXTRACTOR_PROGRAMS":
			for _, s := range splitComma(val) {
				v, err := atoi(s)
				if err != nil {
					return over, fmt.Errorf("config: %s: %w", key, err)
				}
				over.Extractor.Programs = append(over.Extractor.Programs, v)
			}
		case "EXTRACTOR_TRACK_NAMES":
			over.Extractor.TrackNames = splitComma(val)
		case "EXTRACTOR_INCLUDE_DRUMS":
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return over, fmt.Errorf("config: %s: %w", key, err)
			}
			over.Extractor.IncludeDrums = b
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_PARSER":
			over.Components.Parser = strings.TrimSpace(val)
		case "COMPONENTS_WINDOWER":
			over.Components.Windower = strings.TrimSpace(val)
		case "COMPONENTS_CACHE":
			over.Components.Cache = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "OPTIONS_READER_JSON":
			over.Options.Reader = json.RawMessage(val)
		case "OPTIONS_PARSER_JSON":
			over.Options.Parser = json.RawMessage(val)
		case "OPTIONS_WINDOWER_JSON":
			over.Options.Windower = json.RawMessage(val)
		case "OPTIONS_CACHE_JSON":
			over.Options.Cache = json.RawMessage(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = json.RawMessage(val)
		default:
			// CONFIG_FILE / CONFIG_JSON 由 CLI 自行处理；其余忽略。
		}
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
