package config

import (
	"encoding/json"

	"pianoseq/internal/extract"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。YAML 文件经同一结构严格解码。
type Config struct {
	Inputs []string `json:"inputs"`
	// WindowLen: 训练窗口长度 W（>0）。
	WindowLen int `json:"window_len"`
	// OnParseError: fail | skip。
	OnParseError string `json:"on_parse_error"`
	// MaxFiles: 最多处理的文件数；0 不限制。
	MaxFiles int     `json:"max_files"`
	Logging  Logging `json:"logging"`

	// Extractor: 目标乐器匹配规则。
	Extractor extract.Options `json:"extractor"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
// Cache 为空表示不启用缓存；Writer 为空表示不输出运行报告。
type Components struct {
	Reader   string `json:"reader"`
	Parser   string `json:"parser"`
	Windower string `json:"windower"`
	Cache    string `json:"cache"`
	Writer   string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader   json.RawMessage `json:"reader"`
	Parser   json.RawMessage `json:"parser"`
	Windower json.RawMessage `json:"windower"`
	Cache    json.RawMessage `json:"cache"`
	Writer   json.RawMessage `json:"writer"`
}
