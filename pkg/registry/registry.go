package registry

import (
	"bytes"
	"encoding/json"

	"pianoseq/pkg/contract"
	csql "pianoseq/plugins/cache/sqlite"
	psmf "pianoseq/plugins/parser/smf"
	rfs "pianoseq/plugins/reader/filesystem"
	rlakh "pianoseq/plugins/reader/lakh"
	wfix "pianoseq/plugins/windower/fixed"
	wfs "pianoseq/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewParser 工厂签名：接收原样 JSON Options。
type NewParser func(raw json.RawMessage) (contract.ScoreParser, error)

// NewWindower 工厂签名：接收原样 JSON Options。
type NewWindower func(raw json.RawMessage) (contract.Windower, error)

// NewCache 工厂签名：接收原样 JSON Options。
type NewCache func(raw json.RawMessage) (contract.TokenCache, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
	// lakh: 按 cleansed_ids 索引遍历 Lakh Piano Dataset
	"lakh": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rlakh.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rlakh.New(&opts), nil
	},
}

// Parser 工厂注册表。
var Parser = map[string]NewParser{
	// smf: Standard MIDI File
	"smf": func(raw json.RawMessage) (contract.ScoreParser, error) {
		var opts psmf.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return psmf.New(&opts), nil
	},
}

// Windower 工厂注册表。
var Windower = map[string]NewWindower{
	// fixed: 定长不重叠窗口
	"fixed": func(raw json.RawMessage) (contract.Windower, error) {
		var opts wfix.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfix.New(&opts), nil
	},
}

// Cache 工厂注册表（可选组件）。
var Cache = map[string]NewCache{
	// sqlite: 本地 SQLite 文件
	"sqlite": func(raw json.RawMessage) (contract.TokenCache, error) {
		var opts csql.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return csql.Open(&opts)
	},
}

// Writer 工厂注册表（可选组件：运行报告）。
var Writer = map[string]NewWriter{
	// fs: 报告写入本地目录（默认原子替换）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
