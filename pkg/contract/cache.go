package contract

import "context"

// CacheKey: 抽取结果缓存键（文件 ID + 内容摘要 + 抽取配置指纹）。
type CacheKey struct {
	FileID FileID
	Digest string
}

// CacheEntry: 单曲抽取结果。
// Part 为空表示没有匹配的目标声部；命中与未命中据此得到相同的状态。
type CacheEntry struct {
	Tokens  []Token
	Part    string
	Matched int
}

// TokenCache: 可选的逐文件抽取结果缓存。
// 仅缓存单曲抽取结果；词表与窗口数据集不落盘。
// 未命中返回 ok=false 且 err=nil。
type TokenCache interface {
	Get(ctx context.Context, key CacheKey) (entry CacheEntry, ok bool, err error)
	Put(ctx context.Context, key CacheKey, entry CacheEntry) error
	Close() error
}
