package lakh

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"pianoseq/pkg/contract"
)

const ids = `# lpd msd
aaa111    TRABCD12345678
bbb222    TRXYZW00000001

ccc333    TRQQQQ99999999
`

// TestLoadIndex 双向映射与顺序。
func TestLoadIndex(t *testing.T) {
	idx, err := LoadIndex(strings.NewReader(ids))
	if err != nil {
		t.Fatalf("LoadIndex err: %v", err)
	}
	if idx.Len() != 3 || idx.LPDToMSD["bbb222"] != "TRXYZW00000001" || idx.MSDToLPD["TRQQQQ99999999"] != "ccc333" {
		t.Fatalf("映射错误: %+v", idx)
	}
	want := []string{"TRABCD12345678", "TRXYZW00000001", "TRQQQQ99999999"}
	if !reflect.DeepEqual(idx.MSDIDs(), want) {
		t.Fatalf("MSDIDs=%v", idx.MSDIDs())
	}
}

// TestLoadIndexDuplicate 重复 ID 后者覆盖前者。
func TestLoadIndexDuplicate(t *testing.T) {
	idx, err := LoadIndex(strings.NewReader("a M1\nb M1\na M2\n"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if idx.Len() != 2 || idx.LPDToMSD["a"] != "M2" || idx.MSDToLPD["M1"] != "b" || idx.MSDToLPD["M2"] != "a" {
		t.Fatalf("覆盖语义错误: %+v", idx)
	}
}

// TestLoadIndexMalformed 列数不对时报错并带行号。
func TestLoadIndexMalformed(t *testing.T) {
	_, err := LoadIndex(strings.NewReader("a M1\nonlyone\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("预期第 2 行报错, got %v", err)
	}
}

// TestPaths 路径计算。
func TestPaths(t *testing.T) {
	d, err := MSDDirs("TRABCD12345678")
	if err != nil || filepath.ToSlash(d) != "A/B/C/TRABCD12345678" {
		t.Fatalf("MSDDirs=%s %v", d, err)
	}
	if _, err := MSDDirs("TRA"); !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("短 ID 预期 ErrPathInvalid, got %v", err)
	}
	l := Layout{Root: "/data"}
	cases := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{"h5", func() (string, error) { return l.H5Path("TRABCD12345678") }, "/data/Lakh Piano Dataset/Metadata/lmd_matched_h5/A/B/C/TRABCD12345678.h5"},
		{"npz", func() (string, error) { return l.NPZPath("TRABCD12345678", "aaa111") }, "/data/Lakh Piano Dataset/lpd_5/lpd_5_cleansed/A/B/C/TRABCD12345678/aaa111.npz"},
		{"midi", func() (string, error) { return l.MidiPath("aaa111") }, "/data/Lakh Piano Dataset/lpd_5_midi/aaa111.mid"},
		{"ids", func() (string, error) { return l.IDsPath(), nil }, "/data/Lakh Piano Dataset/cleansed_ids.txt"},
	}
	for _, c := range cases {
		got, err := c.fn()
		if err != nil || filepath.ToSlash(got) != c.want {
			t.Fatalf("%s: %s %v, 预期 %s", c.name, got, err, c.want)
		}
	}
	if _, err := l.MidiPath("../x"); !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("非法 lpd id 预期 ErrPathInvalid")
	}
	if _, err := l.NPZPath("TRABCD12345678", ""); !errors.Is(err, contract.ErrPathInvalid) {
		t.Fatalf("空 md5 预期 ErrPathInvalid")
	}
}

// makeDataset 构造数据集目录；missing 中的 lpd 不生成 MIDI。
func makeDataset(t *testing.T, missing ...string) string {
	t.Helper()
	root := t.TempDir()
	l := Layout{Root: root}
	os.MkdirAll(filepath.Join(root, DatasetDir, MidiDir), 0o755)
	if err := os.WriteFile(l.IDsPath(), []byte(ids), 0o644); err != nil {
		t.Fatalf("写索引失败: %v", err)
	}
	skip := map[string]bool{}
	for _, m := range missing {
		skip[m] = true
	}
	for _, lpd := range []string{"aaa111", "bbb222", "ccc333"} {
		if skip[lpd] {
			continue
		}
		p, _ := l.MidiPath(lpd)
		os.WriteFile(p, []byte(lpd), 0o644)
	}
	return root
}

func iterate(r *Reader, roots ...string) ([]string, error) {
	var got []string
	err := r.Iterate(context.Background(), roots, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		b, _ := io.ReadAll(rc)
		got = append(got, string(b))
		if !strings.HasSuffix(string(id), string(b)+".mid") {
			return errors.New("file id mismatch: " + string(id))
		}
		return nil
	})
	return got, err
}

// TestIterate 按索引顺序遍历并支持 limit。
func TestIterate(t *testing.T) {
	root := makeDataset(t)
	got, err := iterate(New(nil), root)
	if err != nil || !reflect.DeepEqual(got, []string{"aaa111", "bbb222", "ccc333"}) {
		t.Fatalf("遍历=%v %v", got, err)
	}
	got, err = iterate(New(&Options{Limit: 2}), root)
	if err != nil || len(got) != 2 {
		t.Fatalf("limit 未生效: %v %v", got, err)
	}
}

// TestIterateMissing 缺失文件默认报错，SkipMissing 时跳过。
func TestIterateMissing(t *testing.T) {
	root := makeDataset(t, "bbb222")
	if _, err := iterate(New(nil), root); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("预期 ErrNotExist, got %v", err)
	}
	got, err := iterate(New(&Options{SkipMissing: true}), root)
	if err != nil || !reflect.DeepEqual(got, []string{"aaa111", "ccc333"}) {
		t.Fatalf("skip_missing 结果=%v %v", got, err)
	}
}

// TestIterateIDsOverride 自定义索引文件。
func TestIterateIDsOverride(t *testing.T) {
	root := makeDataset(t)
	alt := filepath.Join(t.TempDir(), "ids.txt")
	os.WriteFile(alt, []byte("ccc333 TRQQQQ99999999\n"), 0o644)
	got, err := iterate(New(&Options{IDsFile: alt}), root)
	if err != nil || !reflect.DeepEqual(got, []string{"ccc333"}) {
		t.Fatalf("ids_file 结果=%v %v", got, err)
	}
}

// TestIterateNoRoot 未给出根目录。
func TestIterateNoRoot(t *testing.T) {
	if _, err := iterate(New(nil)); !errors.Is(err, contract.ErrInvalidInput) {
		t.Fatalf("预期 ErrInvalidInput, got %v", err)
	}
}
