package errors

import (
	"errors"
	"fmt"
)

type CodeError struct {
	Code    int
	Message string
	Err     error
}

// Error 返回带错误码的可读文本（用于日志输出）。
func (e *CodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%d %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap 返回底层错误，便于 errors.Is/errors.As 继续判断。
func (e *CodeError) Unwrap() error { return e.Err }

// New 构造一个仅包含错误码与消息的 CodeError。
func New(code int, msg string) *CodeError { return &CodeError{Code: code, Message: msg} }

// Wrap 将底层错误包装为带错误码的 CodeError。
// 参数：
// - code: 错误码
// - msg: 错误描述
// - err: 底层错误（可为 nil）
func Wrap(code int, msg string, err error) *CodeError {
	return &CodeError{Code: code, Message: msg, Err: err}
}

// WithMessage 为错误追加上下文消息。
// 规则：
// - 若 err 为 CodeError，则保留 code，替换 message 并保留底层 err
// - 否则使用 fmt.Errorf("%s: %w", ...) 保留可追溯性
func WithMessage(err error, msg string) error {
	if err == nil {
		return nil
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return &CodeError{Code: ce.Code, Message: msg, Err: ce.Err}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Code 提取错误码。
// 返回：
// - 0: err 为 nil
// - CodeError: 返回其中的 Code
// - 其它错误: 默认返回 CodeInternal
func Code(err error) int {
	if err == nil {
		return 0
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// Malformed 构造一个报文格式错误（头部过短、声明长度越界等）。
// 该类错误只在接收循环内部处理：丢弃当前单元，不影响计数。
func Malformed(msg string, err error) *CodeError { return Wrap(CodeMalformedPacket, msg, err) }

// Transport 构造一个传输层致命错误（bind/accept/read/write 失败）。
// 该类错误会终止接收循环，并由上层触发整体关闭。
func Transport(msg string, err error) *CodeError { return Wrap(CodeTransport, msg, err) }

// IsMalformed 判断 err 是否为报文格式错误。
func IsMalformed(err error) bool { return Code(err) == CodeMalformedPacket }

// IsTransport 判断 err 是否为传输层致命错误。
func IsTransport(err error) bool { return Code(err) == CodeTransport }

const (
	CodeInternal        = 600
	CodeMalformedPacket = 601
	CodeTransport       = 602
	CodeBadConfig       = 603
	CodeClosed          = 604
)
