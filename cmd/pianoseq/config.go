package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	cfgpkg "pianoseq/internal/config"
)

// defaultConfigNames 未指定配置来源时在工作目录依次查找。
var defaultConfigNames = []string{"config.json", "config.yaml", "config.yml"}

// loadConfig 得到 Defaults < 配置文件 < ENV 的合并结果（CLI 覆盖由调用方叠加）。
// 配置来源：PIANOSEQ_CONFIG_JSON > --config > PIANOSEQ_CONFIG_FILE > 默认文件名。
func loadConfig(path string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	var (
		file cfgpkg.Config
		err  error
	)
	switch raw := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); {
	case raw != "":
		file, err = cfgpkg.LoadJSON("", []byte(raw))
		err = errors.Wrap(err, "config json")
	default:
		if path == "" {
			path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
		}
		if path == "" {
			path = firstExisting(defaultConfigNames)
		}
		if path == "" {
			break
		}
		file, err = cfgpkg.LoadFile(path)
		err = errors.Wrapf(err, "config file %s", path)
	}
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, file)

	env, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, errors.Wrap(err, "env")
	}
	return cfgpkg.Merge(cfg, env), nil
}

func firstExisting(names []string) string {
	for _, n := range names {
		if st, err := os.Stat(n); err == nil && !st.IsDir() {
			return n
		}
	}
	return ""
}

// initConfig 在 dir 下生成 config.json 与 .env 模板。
// config.json 已存在时报错；.env 已存在时跳过。
func initConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeConfig(filepath.Join(dir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
		return err
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

// writeConfig 以 O_EXCL 写出，不覆盖已有文件；path 为 "-" 时写 stdout。
func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(b)
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// dumpConfig 校验失败时把有效配置打到 stderr 便于排查。
func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	fprintf(os.Stderr, "有效配置:\n%s\n", b)
	return nil
}

// normalizeInitArg 让不带值的 --init-config 等价于 --init-config .
func normalizeInitArg() {
	if len(os.Args) <= 1 {
		return
	}
	out := make([]string, 0, len(os.Args)+1)
	out = append(out, os.Args[0])
	for i, a := range os.Args[1:] {
		out = append(out, a)
		if a != "--init-config" && a != "-init-config" {
			continue
		}
		next := i + 2
		if next >= len(os.Args) || (len(os.Args[next]) > 0 && os.Args[next][0] == '-') {
			out = append(out, ".")
		}
	}
	os.Args = out
}
