package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across task adapters.
type ErrorCode string

// Upstream service error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrModelOverloaded    ErrorCode = "MODEL_OVERLOADED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Task error codes
const (
	ErrDecodeFailed  ErrorCode = "DECODE_FAILED"
	ErrEmptyResponse ErrorCode = "EMPTY_RESPONSE"
	ErrInvalidInput  ErrorCode = "INVALID_INPUT"
)

// API error codes
const (
	ErrNotFound      ErrorCode = "NOT_FOUND"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
	ErrRunFailed     ErrorCode = "RUN_FAILED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error renders "[CODE] message" followed by the cause, if any.
func (e *Error) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// The With* setters mutate and return e so construction reads as one chain.

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider names the upstream service.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsRetryable plugs into a workflow retry policy's RetryIf.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable
}

// GetErrorCode is empty for errors without an *Error in their chain.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

type statusMapping struct {
	code      ErrorCode
	retryable bool
}

var statusMappings = map[int]statusMapping{
	400: {ErrInvalidRequest, false},
	401: {ErrUnauthorized, false},
	402: {ErrQuotaExceeded, false},
	403: {ErrForbidden, false},
	408: {ErrTimeout, true},
	429: {ErrRateLimited, true},
	502: {ErrServiceUnavailable, true},
	503: {ErrServiceUnavailable, true},
	504: {ErrServiceUnavailable, true},
	529: {ErrModelOverloaded, true},
}

// MapHTTPStatus 把上游非 2xx 响应转成 *Error。未列出的 5xx 可重试，其余不可。
func MapHTTPStatus(status int, msg, provider string) *Error {
	m, ok := statusMappings[status]
	if !ok {
		m = statusMapping{ErrUpstreamError, status >= 500}
	}
	return &Error{
		Code:       m.code,
		Message:    msg,
		HTTPStatus: status,
		Retryable:  m.retryable,
		Provider:   provider,
	}
}
