package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pianoseq/pkg/contract"
)

// DefaultPath 默认缓存库位置（相对工作目录）。
const DefaultPath = ".cache/pianoseq.db"

// schemaVersion 记录在 PRAGMA user_version；旧版本的表直接重建（缓存可丢弃）。
const schemaVersion = 2

// Options 为 SQLite 缓存的可选配置（最小必要）。
type Options struct {
	// Path: 数据库文件；":memory:" 为进程内缓存。
	Path string `json:"path"`
}

// Cache 基于 SQLite 的逐文件 token 缓存。
// 键为 (file_id, digest)；digest 由调用方根据文件内容与抽取配置计算。
type Cache struct {
	db *sql.DB
}

// Open 打开（必要时创建）缓存库。
func Open(opts *Options) (*Cache, error) {
	p := DefaultPath
	if opts != nil && opts.Path != "" {
		p = opts.Path
	}
	if p != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("cache: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", p, err)
	}
	// 单连接：":memory:" 每个连接是独立数据库
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: init schema: %w", err)
	}
	return &Cache{db: db}, nil
}

func initSchema(db *sql.DB) error {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return err
	}
	if v != schemaVersion {
		if _, err := db.Exec("DROP TABLE IF EXISTS song_tokens"); err != nil {
			return err
		}
	}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS song_tokens(
			file_id TEXT NOT NULL,
			digest TEXT NOT NULL,
			tokens TEXT NOT NULL,
			part TEXT NOT NULL,
			matched INTEGER NOT NULL,
			n INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY(file_id, digest)
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// Get 读取缓存；未命中返回 ok=false。
func (c *Cache) Get(ctx context.Context, key contract.CacheKey) (contract.CacheEntry, bool, error) {
	var (
		raw string
		e   contract.CacheEntry
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT tokens, part, matched FROM song_tokens WHERE file_id = ? AND digest = ?",
		string(key.FileID), key.Digest).Scan(&raw, &e.Part, &e.Matched)
	if errors.Is(err, sql.ErrNoRows) {
		return contract.CacheEntry{}, false, nil
	}
	if err != nil {
		return contract.CacheEntry{}, false, fmt.Errorf("cache: get %s: %w", key.FileID, err)
	}
	e.Tokens = []contract.Token{}
	if err := json.Unmarshal([]byte(raw), &e.Tokens); err != nil {
		return contract.CacheEntry{}, false, fmt.Errorf("cache: decode %s: %w", key.FileID, err)
	}
	return e, true, nil
}

// Put 写入（覆盖）缓存条目。
func (c *Cache) Put(ctx context.Context, key contract.CacheKey, entry contract.CacheEntry) error {
	tokens := entry.Tokens
	if tokens == nil {
		tokens = []contract.Token{}
	}
	b, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key.FileID, err)
	}
	_, err = c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO song_tokens(file_id, digest, tokens, part, matched, n, created_at) VALUES(?,?,?,?,?,?,?)",
		string(key.FileID), key.Digest, string(b), entry.Part, entry.Matched, len(tokens), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", key.FileID, err)
	}
	return nil
}

// Len 返回条目数（运行结束时写入统计）。
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM song_tokens").Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, nil
}

// Close 关闭数据库。
func (c *Cache) Close() error { return c.db.Close() }

var _ contract.TokenCache = (*Cache)(nil)
