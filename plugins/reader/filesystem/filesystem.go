package filesystem

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pianoseq/pkg/contract"
)

// DefaultExts: 默认收录的 MIDI 扩展名。
var DefaultExts = []string{".mid", ".midi"}

// smfMagic: SMF 头块标识。
var smfMagic = []byte("MThd")

// Options 语料遍历选项。
type Options struct {
	// BufSize 读缓冲（字节）；<=0 为 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames 递归时跳过的目录基名（大小写不敏感），如 [".git","Metadata"]。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// AllowExts 递归时收录的扩展名（含点，大小写不敏感）；空为 DefaultExts。
	// 显式给出的单文件 root 不受限制。
	AllowExts []string `json:"allow_exts"`
	// SniffHeader 递归时只收录以 "MThd" 开头的文件；显式单文件 root 不受影响。
	SniffHeader bool `json:"sniff_header"`
}

// FileSystem 文件系统 / STDIN 语料 Reader。
// 目录内先子目录后文件，各自按字典序；目录符号链接不跟随。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	allowExt   map[string]struct{}
	sniff      bool
}

func New(opts *Options) *FileSystem {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.BufSize <= 0 {
		o.BufSize = 64 * 1024
	}
	if len(o.AllowExts) == 0 {
		o.AllowExts = DefaultExts
	}
	return &FileSystem{
		bufSize:    o.BufSize,
		excludeDir: lowerSet(o.ExcludeDirNames),
		allowExt:   lowerSet(o.AllowExts),
		sniff:      o.SniffHeader,
	}
}

func lowerSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, s := range items {
		if s != "" {
			m[strings.ToLower(s)] = struct{}{}
		}
	}
	return m
}

// Iterate 按稳定顺序对每个候选文件调用 yield。
// roots 为空或仅为 "-" 时读取 STDIN（FileID 为 "stdin"）。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield("stdin", newBufReadCloser(os.Stdin, r.bufSize))
	}
	for _, s := range roots {
		if s == "-" {
			return errors.New("stdin '-' cannot be mixed with other roots")
		}
	}
	for _, root := range roots {
		paths, err := r.scanRoot(ctx, root)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.emit(p, yield); err != nil {
				return err
			}
		}
	}
	return nil
}

// scanRoot 列出一个 root 下的全部候选文件。
func (r *FileSystem) scanRoot(ctx context.Context, root string) ([]string, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return nil, err
	}
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		regular, err := symlinkToRegular(root)
		if err != nil || !regular {
			return nil, err
		}
		return []string{root}, nil
	case info.IsDir():
		var out []string
		err := r.scanDir(ctx, root, &out)
		return out, err
	case info.Mode().IsRegular():
		return []string{root}, nil
	}
	return nil, nil
}

func (r *FileSystem) scanDir(ctx context.Context, dir string, out *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var files []fs.DirEntry
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e)
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.scanDir(ctx, filepath.Join(dir, e.Name()), out); err != nil {
			return err
		}
	}
	for _, e := range files {
		if _, ok := r.allowExt[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
			continue
		}
		p := filepath.Join(dir, e.Name())
		ok, err := r.candidate(p, e.Type())
		if err != nil {
			return err
		}
		if ok {
			*out = append(*out, p)
		}
	}
	return nil
}

// candidate 判断目录内条目是否收录：常规文件或指向常规文件的符号链接，可选头部嗅探。
func (r *FileSystem) candidate(p string, mode fs.FileMode) (bool, error) {
	if mode&fs.ModeSymlink != 0 {
		regular, err := symlinkToRegular(p)
		if err != nil || !regular {
			return false, err
		}
	} else if !mode.IsRegular() {
		// FIFO、设备等
		return false, nil
	}
	if !r.sniff {
		return true, nil
	}
	return hasSMFHeader(p)
}

func symlinkToRegular(p string) (bool, error) {
	t, err := os.Stat(p)
	if err != nil {
		return false, err
	}
	return t.Mode().IsRegular(), nil
}

func hasSMFHeader(p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(smfMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		// 过短的文件视为非 SMF
		return false, nil
	}
	return bytes.Equal(head, smfMagic), nil
}

// emit 打开文件交给 yield；yield 出错时代为关闭。
func (r *FileSystem) emit(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	rc := newBufReadCloser(f, r.bufSize)
	if err := yield(contract.NormalizeFileID(p), rc); err != nil {
		_ = rc.Close()
		return err
	}
	return nil
}

type bufReadCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufReadCloser(c io.ReadCloser, bufSize int) *bufReadCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufReadCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufReadCloser) Close() error { return b.c.Close() }

var _ contract.Reader = (*FileSystem)(nil)
