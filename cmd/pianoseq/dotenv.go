package main

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	cfgpkg "pianoseq/internal/config"
)

// loadDotEnv 把 .env 中的 KEY=VALUE 注入进程环境，已存在的变量不覆盖。
// 文件不存在不算错误。支持 "export " 前缀与 # 注释；
// 双引号值按 Go 字符串转义解析，单引号值原样保留。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := parseDotEnvLine(sc.Text())
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(key); !set {
			_ = os.Setenv(key, val)
		}
	}
	return sc.Err()
}

func parseDotEnvLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, unquote(strings.TrimSpace(val)), true
}

func unquote(v string) string {
	if len(v) < 2 || v[0] != v[len(v)-1] {
		return v
	}
	switch v[0] {
	case '"':
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
		return v[1 : len(v)-1]
	case '\'':
		return v[1 : len(v)-1]
	}
	return v
}

// dotEnvKeys .env 模板分组（与 config.EnvOverlay 支持的键一致）。
var dotEnvKeys = []struct {
	title string
	keys  []string
}{
	{"配置来源（二选一）", []string{"CONFIG_FILE", "CONFIG_JSON"}},
	{"运行参数", []string{"INPUTS", "WINDOW_LEN", "ON_PARSE_ERROR", "MAX_FILES", "LOG_LEVEL"}},
	{"目标乐器", []string{"EXTRACTOR_PROGRAMS", "EXTRACTOR_TRACK_NAMES", "EXTRACTOR_INCLUDE_DRUMS"}},
	{"组件选择", []string{"COMPONENTS_READER", "COMPONENTS_PARSER", "COMPONENTS_WINDOWER", "COMPONENTS_CACHE", "COMPONENTS_WRITER"}},
	{"组件选项（原样 JSON）", []string{"OPTIONS_READER_JSON", "OPTIONS_PARSER_JSON", "OPTIONS_WINDOWER_JSON", "OPTIONS_CACHE_JSON", "OPTIONS_WRITER_JSON"}},
}

// writeDotEnv 生成 .env 模板；文件已存在时跳过。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# pianoseq .env（--init-config 生成）\n# 优先级：CLI > ENV(.env) > 配置文件；空值表示未设置。\n")
	for _, g := range dotEnvKeys {
		b.WriteString("\n# " + g.title + "\n")
		for _, k := range g.keys {
			b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}
