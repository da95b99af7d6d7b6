package config

import (
	"encoding/json"

	"pianoseq/internal/extract"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 默认输入为当前目录（递归收录 .mid/.midi）；
// - 组件名采用仓库内置实现，缓存与运行报告默认关闭；
// - 选项给出全部键与安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:       []string{"."},
		WindowLen:    d.WindowLen,
		OnParseError: d.OnParseError,
		Logging:      Logging{Level: "info"},
		Extractor: extract.Options{
			Programs:   append([]int(nil), extract.DefaultPrograms...),
			TrackNames: []string{"piano"},
		},
		Components: d.Components,
	}
	// Options：包含所有键（值可为空/默认），确保键存在。
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "logs"],
  "allow_exts": [".mid", ".midi"],
  "sniff_header": false
}`)
	cfg.Options.Parser = json.RawMessage(`{
  "onset_tolerance": 0,
  "min_duration": 0
}`)
	cfg.Options.Windower = json.RawMessage(`{}`)
	cfg.Options.Cache = json.RawMessage(`{
  "path": ".cache/pianoseq.db"
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "reports",
  "atomic": true
}`)
	return cfg
}
