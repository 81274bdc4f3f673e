// Package apperror は HTTP 境界まで伝搬するアプリケーションエラーの分類を提供する
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind はエラーの分類
type Kind string

const (
	// KindInvalidArgument は呼び出し側の入力が不正であることを示す（再試行不可）
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindServiceUnavailable はエンコーダやインデックスなどの依存先に到達できないことを示す（再試行可）
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	// KindModelLoading はリモート生成モデルがコールドスタート中であることを示す（待機後に再試行可）
	KindModelLoading Kind = "MODEL_LOADING"
	// KindUnexpectedResponseFormat はリモートのレスポンス形式が契約と異なることを示す（再試行不可）
	KindUnexpectedResponseFormat Kind = "UNEXPECTED_RESPONSE_FORMAT"
	// KindUpstream はリモートサービスがその他のエラーを返したことを示す
	KindUpstream Kind = "UPSTREAM_ERROR"
)

// Error は分類付きのアプリケーションエラー
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// StatusCode と Body は KindUpstream の場合のみ設定される
	StatusCode int
	Body       string

	// RetryAfter は KindModelLoading でリモートが待機時間を示した場合に設定される
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Kind == KindUpstream && msg == "" {
		msg = fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Detail は利用者に返す説明文を返す。Upstream の場合はリモートのボディをそのまま返す。
func (e *Error) Detail() string {
	if e.Kind == KindUpstream && e.Body != "" {
		return e.Body
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// Retryable は同じ入力での再試行に意味があるかを返す
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindServiceUnavailable, KindModelLoading, KindUpstream:
		return true
	default:
		return false
	}
}

// WithCause は原因エラーを設定する
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: msg}
}

// ServiceUnavailable creates a service unavailable error.
func ServiceUnavailable(msg string, cause error) *Error {
	return &Error{Kind: KindServiceUnavailable, Message: msg, Cause: cause}
}

// ModelLoading creates a model loading error. retryAfter may be zero when unknown.
func ModelLoading(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindModelLoading, Message: msg, RetryAfter: retryAfter}
}

// UnexpectedResponseFormat creates an unexpected response format error.
func UnexpectedResponseFormat(msg string, cause error) *Error {
	return &Error{Kind: KindUnexpectedResponseFormat, Message: msg, Cause: cause}
}

// Upstream creates an upstream error carrying the remote status and body.
func Upstream(statusCode int, body string) *Error {
	return &Error{Kind: KindUpstream, StatusCode: statusCode, Body: body}
}

// As は err のチェーンから *Error を取り出す
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf は err のチェーンに含まれる *Error の分類を返す
func KindOf(err error) (Kind, bool) {
	appErr, ok := As(err)
	if !ok {
		return "", false
	}
	return appErr.Kind, true
}

// Is は err が指定した分類のエラーかを判定する
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsInvalidArgument reports whether err is classified as KindInvalidArgument.
func IsInvalidArgument(err error) bool { return Is(err, KindInvalidArgument) }

// IsServiceUnavailable reports whether err is classified as KindServiceUnavailable.
func IsServiceUnavailable(err error) bool { return Is(err, KindServiceUnavailable) }

// IsModelLoading reports whether err is classified as KindModelLoading.
func IsModelLoading(err error) bool { return Is(err, KindModelLoading) }

// HTTPStatus は err に対応する HTTP ステータスコードを返す。
// 分類されていないエラーは 500 とする。
func HTTPStatus(err error) int {
	appErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch appErr.Kind {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindServiceUnavailable, KindModelLoading:
		return http.StatusServiceUnavailable
	case KindUnexpectedResponseFormat:
		return http.StatusUnprocessableEntity
	case KindUpstream:
		if appErr.StatusCode >= 400 && appErr.StatusCode <= 599 {
			return appErr.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
