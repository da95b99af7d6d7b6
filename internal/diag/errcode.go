package diag

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"time"

	"pianoseq/pkg/contract"
)

// Code 错误分类，仅用于日志与指标汇总。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeParse     Code = "parse"
	CodeLookup    Code = "lookup"
	CodeInvariant Code = "invariant"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// 按顺序匹配；取消排在最前，一个被取消的解析仍记为 cancel。
var sentinelCodes = []struct {
	target error
	code   Code
}{
	{context.Canceled, CodeCancel},
	{context.DeadlineExceeded, CodeCancel},
	{contract.ErrParse, CodeParse},
	{contract.ErrLookup, CodeLookup},
	{contract.ErrInvariantViolation, CodeInvariant},
	{contract.ErrInvalidInput, CodeInvariant},
	{contract.ErrPathInvalid, CodeInvariant},
	{io.ErrUnexpectedEOF, CodeIO},
	{io.ErrClosedPipe, CodeIO},
}

// Classify 只看哨兵错误与 *fs.PathError，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.target) {
			return sc.code
		}
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return CodeIO
	}
	return CodeUnknown
}

// NowUTC 日志 ts 字段（RFC3339, UTC）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
