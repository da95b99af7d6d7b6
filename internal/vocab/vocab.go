package vocab

import (
	"fmt"

	"pianoseq/pkg/contract"
)

// Vocabulary: token 与稠密索引 [0, Size) 的双向映射。
// 索引按 token 字节序分配，同一集合总得到同一映射。
type Vocabulary struct {
	tokens []contract.Token
	index  map[contract.Token]int
}

// Build 由去重集合构建词表。
func Build(set contract.TokenSet) Vocabulary {
	toks := set.Sorted()
	idx := make(map[contract.Token]int, len(toks))
	for i, t := range toks {
		idx[t] = i
	}
	return Vocabulary{tokens: toks, index: idx}
}

// Size 词表大小。
func (v Vocabulary) Size() int { return len(v.tokens) }

// Tokens 返回按索引排列的 token 副本。
func (v Vocabulary) Tokens() []contract.Token {
	out := make([]contract.Token, len(v.tokens))
	copy(out, v.tokens)
	return out
}

// Index 查询 token 的索引。
func (v Vocabulary) Index(t contract.Token) (int, bool) {
	i, ok := v.index[t]
	return i, ok
}

// Token 查询索引对应的 token。
func (v Vocabulary) Token(i int) (contract.Token, bool) {
	if i < 0 || i >= len(v.tokens) {
		return "", false
	}
	return v.tokens[i], true
}

// Encode 将 token 序列映射为索引序列；遇到词表外 token 返回 *contract.LookupError。
func (v Vocabulary) Encode(seq []contract.Token) ([]int, error) {
	out := make([]int, len(seq))
	for i, t := range seq {
		idx, ok := v.index[t]
		if !ok {
			return nil, &contract.LookupError{Token: t}
		}
		out[i] = idx
	}
	return out, nil
}

// Decode 为 Encode 的逆操作；索引越界返回 ErrInvalidInput。
func (v Vocabulary) Decode(ids []int) ([]contract.Token, error) {
	out := make([]contract.Token, len(ids))
	for i, id := range ids {
		t, ok := v.Token(id)
		if !ok {
			return nil, fmt.Errorf("%w: index %d out of range [0,%d)", contract.ErrInvalidInput, id, len(v.tokens))
		}
		out[i] = t
	}
	return out, nil
}
