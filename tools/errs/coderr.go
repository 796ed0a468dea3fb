package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// 与线上协议对齐的 RPC 错误码（客户端据此展示友好文案）
const (
	CodeBadRequest       = 1
	CodeNotAuthenticated = 2
	CodeRateLimited      = 3
	CodeInternal         = 4
	CodeInvalidPeer      = 5
	CodeInvalidMsgID     = 6
	CodeInvalidUserID    = 7
	CodeAlreadyInChat    = 8
	CodeInvalidSpaceID   = 9
	CodeInvalidChatID    = 10
)

var (
	ErrBadRequest       = NewCodeError(CodeBadRequest, "bad request")
	ErrNotAuthenticated = NewCodeError(CodeNotAuthenticated, "not authenticated")
	ErrRateLimited      = NewCodeError(CodeRateLimited, "rate limited")
	ErrInternal         = NewCodeError(CodeInternal, "internal server error")
	ErrInvalidPeer      = NewCodeError(CodeInvalidPeer, "invalid peer")
	ErrInvalidMsgID     = NewCodeError(CodeInvalidMsgID, "invalid message id")
	ErrInvalidChatID    = NewCodeError(CodeInvalidChatID, "invalid chat id")
	ErrChatNotFound     = NewCodeError(CodeInvalidChatID, "chat not found")
)

type CodeErrorI interface {
	ECode() int
	EMsg() string
	error
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) ECode() int   { return e.Code }
func (e *CodeError) EMsg() string { return e.Msg }

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	r := e.clone()
	if r.Detail == "" {
		r.Detail = detail
	} else {
		r.Detail += ", " + detail
	}
	return r
}

// WrapMsg 附加上下文后返回新错误；kv 成对拼接
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	r := e.clone()
	if msg != "" || len(kv) > 0 {
		d := toString(msg, kv)
		if r.Detail == "" {
			r.Detail = d
		} else {
			r.Detail += ", " + d
		}
	}
	return r
}

func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// New 格式化构造普通错误（非 CodeError）
func New(format string, args ...any) error {
	if len(args) == 0 {
		return errors.New(format)
	}
	return fmt.Errorf(format, args...)
}

func toString(msg string, kv []any) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		}
	}
	return sb.String()
}
