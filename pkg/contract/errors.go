package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（用于上层策略判定与日志归类）。
var (
	// ErrParse: 输入无法解码为乐谱结构（损坏或不支持的格式）。
	ErrParse = errors.New("score parse failed")
	// ErrLookup: 编码时 token 不在词表中（抽取与建表之间的前置条件违例）。
	ErrLookup = errors.New("token not in vocabulary")
	// ErrInvalidInput: 参数非法（如窗口长度 <= 0）。
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrPathInvalid: 标识映射为无效路径（如空 ID、越界）。
	ErrPathInvalid = errors.New("path invalid")
)

// ParseError 携带出错文件；errors.Is(err, ErrParse) 为真。
type ParseError struct {
	FileID FileID
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parse %s: %v", e.FileID, ErrParse)
	}
	return fmt.Sprintf("parse %s: %v", e.FileID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// LookupError 记录未命中的 token；errors.Is(err, ErrLookup) 为真。
type LookupError struct {
	Token Token
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%v: %q", ErrLookup, string(e.Token))
}

func (e *LookupError) Is(target error) bool { return target == ErrLookup }
