package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pianoseq/internal/extract"
	"pianoseq/internal/pipeline"
	"pianoseq/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if cfg.WindowLen <= 0 {
		return errors.New("config: window_len must be > 0")
	}
	switch cfg.OnParseError {
	case "", pipeline.PolicyFail, pipeline.PolicySkip:
	default:
		return fmt.Errorf("config: on_parse_error must be %q or %q, got %q", pipeline.PolicyFail, pipeline.PolicySkip, cfg.OnParseError)
	}
	if cfg.MaxFiles < 0 {
		return errors.New("config: max_files must be >= 0")
	}
	for _, p := range cfg.Extractor.Programs {
		if p < 0 || p > 127 {
			return fmt.Errorf("config: extractor program %d out of range 0..127", p)
		}
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Parser, d.Components.Parser); registry.Parser[name] == nil {
		return fmt.Errorf("config: parser %q not registered", name)
	}
	if name := effName(cfg.Components.Windower, d.Components.Windower); registry.Windower[name] == nil {
		return fmt.Errorf("config: windower %q not registered", name)
	}
	if name := cfg.Components.Cache; name != "" && registry.Cache[name] == nil {
		return fmt.Errorf("config: cache %q not registered", name)
	}
	if name := cfg.Components.Writer; name != "" && registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
// 启用缓存时调用方负责 Close。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	// 有效名称
	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	pn := effName(cfg.Components.Parser, d.Components.Parser)
	wn := effName(cfg.Components.Windower, d.Components.Windower)

	// 构造实例
	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: reader %s options: %w", rn, err)
	}
	p, err := registry.Parser[pn](cfg.Options.Parser)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: parser %s options: %w", pn, err)
	}
	w, err := registry.Windower[wn](cfg.Options.Windower)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: windower %s options: %w", wn, err)
	}
	ext := cfg.Extractor
	comp := pipeline.Components{
		Reader:    r,
		Parser:    p,
		Extractor: extract.New(&ext),
		Windower:  w,
	}
	if wn := cfg.Components.Writer; wn != "" {
		rw, err := registry.Writer[wn](cfg.Options.Writer)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: writer %s options: %w", wn, err)
		}
		comp.Writer = rw
	}
	// 缓存最后构造：前面任一步失败都不会留下打开的数据库
	if cn := cfg.Components.Cache; cn != "" {
		c, err := registry.Cache[cn](cfg.Options.Cache)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: cache %s: %w", cn, err)
		}
		comp.Cache = c
	}

	set := pipeline.Settings{
		Inputs:       cloneStrings(cfg.Inputs),
		WindowLen:    cfg.WindowLen,
		OnParseError: cfg.OnParseError,
		MaxFiles:     cfg.MaxFiles,
		CacheSalt:    cacheSalt(pn, cfg.Options.Parser, ext),
	}
	return comp, set, nil
}

// cacheSalt: 解析器名 + 解析器选项 + 抽取规则的指纹；任一变化都会使旧缓存失效。
func cacheSalt(parser string, parserOpts json.RawMessage, ext extract.Options) string {
	eb, _ := json.Marshal(ext)
	return parser + "|" + strings.TrimSpace(string(parserOpts)) + "|" + string(eb)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
