package lakh

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"pianoseq/pkg/contract"
)

// 数据集目录布局（相对数据集根目录）。
const (
	DatasetDir  = "Lakh Piano Dataset"
	IDsFile     = "cleansed_ids.txt"
	MetadataDir = "Metadata"
	H5Dir       = "lmd_matched_h5"
	NPZDir      = "lpd_5/lpd_5_cleansed"
	MidiDir     = "lpd_5_midi"
)

// Index: LPD ID 与 MSD ID 的双向映射。
// 同一 ID 重复出现时后出现的行覆盖前者。
type Index struct {
	LPDToMSD map[string]string
	MSDToLPD map[string]string
	// order: LPD ID 首次出现的顺序
	order []string
}

// LoadIndex 读取 cleansed_ids 格式：每行 "lpd_id msd_id"（任意空白分隔）。
// 空行与 '#' 开头的行忽略；列数不为 2 视为格式错误。
func LoadIndex(r io.Reader) (*Index, error) {
	idx := &Index{LPDToMSD: map[string]string{}, MSDToLPD: map[string]string{}}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		f := strings.Fields(s)
		if len(f) != 2 {
			return nil, errors.Errorf("lakh: line %d: want 2 fields, got %d", line, len(f))
		}
		lpd, msd := f[0], f[1]
		if _, seen := idx.LPDToMSD[lpd]; !seen {
			idx.order = append(idx.order, lpd)
		}
		idx.LPDToMSD[lpd] = msd
		idx.MSDToLPD[msd] = lpd
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "lakh: read index")
	}
	return idx, nil
}

// LoadIndexFile 从文件读取索引。
func LoadIndexFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "lakh: open index %s", path)
	}
	defer f.Close()
	return LoadIndex(f)
}

// Len 索引中的 LPD ID 数。
func (x *Index) Len() int { return len(x.order) }

// MSDIDs 按 LPD ID 首次出现顺序返回对应的 MSD ID（可能重复）。
func (x *Index) MSDIDs() []string {
	out := make([]string, len(x.order))
	for i, lpd := range x.order {
		out[i] = x.LPDToMSD[lpd]
	}
	return out
}

// MSDDirs 返回 MSD ID 的分层前缀：TRABCD12345678 -> A/B/C/TRABCD12345678。
func MSDDirs(msdID string) (string, error) {
	if len(msdID) < 5 {
		return "", errors.Wrapf(contract.ErrPathInvalid, "lakh: msd id %q too short", msdID)
	}
	return filepath.Join(msdID[2:3], msdID[3:4], msdID[4:5], msdID), nil
}

// Layout: 数据集根目录下的路径计算。
type Layout struct {
	Root string
}

func (l Layout) base() string { return filepath.Join(l.Root, DatasetDir) }

// IDsPath cleansed_ids.txt 路径。
func (l Layout) IDsPath() string { return filepath.Join(l.base(), IDsFile) }

// H5Path MSD 元数据（h5）路径。
func (l Layout) H5Path(msdID string) (string, error) {
	d, err := MSDDirs(msdID)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.base(), MetadataDir, H5Dir, d+".h5"), nil
}

// NPZPath 钢琴卷帘（npz）路径；文件名为 MIDI 的 md5（即 LPD ID）。
func (l Layout) NPZPath(msdID, md5 string) (string, error) {
	d, err := MSDDirs(msdID)
	if err != nil {
		return "", err
	}
	if md5 == "" {
		return "", errors.Wrap(contract.ErrPathInvalid, "lakh: empty md5")
	}
	return filepath.Join(l.base(), NPZDir, d, md5+".npz"), nil
}

// MidiPath 渲染后的 MIDI 路径。
func (l Layout) MidiPath(lpdID string) (string, error) {
	if lpdID == "" || strings.ContainsAny(lpdID, `/\`) {
		return "", errors.Wrapf(contract.ErrPathInvalid, "lakh: bad lpd id %q", lpdID)
	}
	return filepath.Join(l.base(), MidiDir, lpdID+".mid"), nil
}

// Options 为 Lakh Reader 的可选配置（最小必要）。
type Options struct {
	// IDsFile: 覆盖默认的 <root>/Lakh Piano Dataset/cleansed_ids.txt。
	IDsFile string `json:"ids_file"`
	// Limit: 每个根目录最多访问的索引条目数；<=0 不限制。
	Limit int `json:"limit"`
	// SkipMissing: 缺失的 MIDI 文件跳过而非报错。
	SkipMissing bool `json:"skip_missing"`
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
}

// Reader 按 cleansed_ids 索引遍历 Lakh Piano Dataset 中渲染好的 MIDI 文件。
type Reader struct {
	opts Options
}

// New 创建 Lakh Reader。
func New(opts *Options) *Reader {
	r := &Reader{}
	if opts != nil {
		r.opts = *opts
	}
	if r.opts.BufSize <= 0 {
		r.opts.BufSize = 64 * 1024
	}
	return r
}

type bufferedFile struct {
	*bufio.Reader
	io.Closer
}

// Iterate 对每个数据集根目录：读取索引，按顺序把 MSD ID 经 MSDToLPD 解析为 MIDI 文件并交给 yield。
func (r *Reader) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if len(roots) == 0 {
		return errors.Wrap(contract.ErrInvalidInput, "lakh: no dataset root")
	}
	for _, root := range roots {
		if err := r.iterateRoot(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) iterateRoot(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	layout := Layout{Root: root}
	idsPath := r.opts.IDsFile
	if idsPath == "" {
		idsPath = layout.IDsPath()
	}
	idx, err := LoadIndexFile(idsPath)
	if err != nil {
		return err
	}
	msds := idx.MSDIDs()
	if r.opts.Limit > 0 && len(msds) > r.opts.Limit {
		msds = msds[:r.opts.Limit]
	}
	for _, msd := range msds {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := layout.MidiPath(idx.MSDToLPD[msd])
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			if os.IsNotExist(err) && r.opts.SkipMissing {
				continue
			}
			return errors.Wrapf(err, "lakh: msd %s", msd)
		}
		rc := bufferedFile{Reader: bufio.NewReaderSize(f, r.opts.BufSize), Closer: f}
		if err := yield(contract.NormalizeFileID(p), rc); err != nil {
			_ = f.Close()
			return err
		}
	}
	return nil
}

var _ contract.Reader = (*Reader)(nil)
