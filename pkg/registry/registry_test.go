package registry

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	if err := strictUnmarshal(nil, &o); err != nil || o.A != 0 {
		t.Fatalf("nil 输入失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1}`), &o); err != nil || o.A != 1 {
		t.Fatalf("合法 JSON 解析失败: %v", err)
	}
	if err := strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o); err == nil {
		t.Fatalf("未知字段应报错")
	}
}

// TestFactories 遍历注册表入口。
func TestFactories(t *testing.T) {
	for _, name := range []string{"fs", "lakh"} {
		t.Run("reader-"+name, func(t *testing.T) {
			if _, err := Reader[name](json.RawMessage(`{}`)); err != nil {
				t.Fatalf("reader: %v", err)
			}
			if _, err := Reader[name](json.RawMessage(`{"x":1}`)); err == nil {
				t.Fatalf("reader 未对未知字段报错")
			}
		})
	}
	t.Run("parser", func(t *testing.T) {
		if _, err := Parser["smf"](json.RawMessage(`{"onset_tolerance":10}`)); err != nil {
			t.Fatalf("parser: %v", err)
		}
		if _, err := Parser["smf"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("parser 未对未知字段报错")
		}
	})
	t.Run("windower", func(t *testing.T) {
		if _, err := Windower["fixed"](nil); err != nil {
			t.Fatalf("windower: %v", err)
		}
		if _, err := Windower["fixed"](json.RawMessage(`{"x":1}`)); err == nil {
			t.Fatalf("windower 未对未知字段报错")
		}
		// 不提供步长：窗口只能不重叠
		if _, err := Windower["fixed"](json.RawMessage(`{"stride":1}`)); err == nil {
			t.Fatalf("windower 不应接受 stride")
		}
	})
	t.Run("cache", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "c.db")
		c, err := Cache["sqlite"](json.RawMessage(fmt.Sprintf(`{"path":%q}`, p)))
		if err != nil {
			t.Fatalf("cache: %v", err)
		}
		c.Close()
		if _, err := Cache["sqlite"](json.RawMessage(`{"path":"x","y":1}`)); err == nil {
			t.Fatalf("cache 未对未知字段报错")
		}
	})
	t.Run("writer", func(t *testing.T) {
		if _, err := Writer["fs"](json.RawMessage(fmt.Sprintf(`{"output_dir":%q}`, t.TempDir()))); err != nil {
			t.Fatalf("writer: %v", err)
		}
		if _, err := Writer["fs"](nil); err == nil {
			t.Fatalf("writer 缺少 output_dir 应报错")
		}
		if _, err := Writer["fs"](json.RawMessage(`{"output_dir":"x","flat":true}`)); err == nil {
			t.Fatalf("writer 未对未知字段报错")
		}
	})
}
