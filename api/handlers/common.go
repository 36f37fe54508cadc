package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
	"go.uber.org/zap"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// =============================================================================
// 📦 响应信封
// =============================================================================

// Response 所有 JSON 接口共用的响应信封
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 失败响应中的错误描述
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON 写出任意 JSON 值
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// 头已写出，编码失败只能放弃
	_ = json.NewEncoder(w).Encode(v)
}

// envelope 从 RequestID 中间件写入的响应头回填请求 ID
func envelope(w http.ResponseWriter) Response {
	return Response{Timestamp: time.Now(), RequestID: w.Header().Get("X-Request-ID")}
}

// WriteSuccess 写出 200 成功信封
func WriteSuccess(w http.ResponseWriter, data any) {
	resp := envelope(w)
	resp.Success = true
	resp.Data = data
	WriteJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ❌ 错误响应
// =============================================================================

// statusByCode 错误码到 HTTP 状态码；未列出的按 500 处理
var statusByCode = map[types.ErrorCode]int{
	types.ErrInvalidRequest:     http.StatusBadRequest,
	types.ErrInvalidInput:       http.StatusBadRequest,
	types.ErrUnauthorized:       http.StatusUnauthorized,
	types.ErrForbidden:          http.StatusForbidden,
	types.ErrNotFound:           http.StatusNotFound,
	types.ErrRateLimited:        http.StatusTooManyRequests,
	types.ErrQuotaExceeded:      http.StatusPaymentRequired,
	types.ErrRunFailed:          http.StatusUnprocessableEntity,
	types.ErrTimeout:            http.StatusGatewayTimeout,
	types.ErrModelOverloaded:    http.StatusServiceUnavailable,
	types.ErrServiceUnavailable: http.StatusServiceUnavailable,
	types.ErrUpstreamError:      http.StatusBadGateway,
	types.ErrDecodeFailed:       http.StatusBadGateway,
	types.ErrEmptyResponse:      http.StatusBadGateway,
}

// StatusOf 返回 err 应使用的 HTTP 状态码，显式设置的 HTTPStatus 优先
func StatusOf(err *types.Error) int {
	if err.HTTPStatus != 0 {
		return err.HTTPStatus
	}
	if status, ok := statusByCode[err.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteError 写出错误信封。5xx 记 Error 日志，其余记 Warn。
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := StatusOf(err)
	resp := envelope(w)
	resp.Error = &ErrorInfo{Code: string(err.Code), Message: err.Message, Retryable: err.Retryable}

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.Int("status", status),
			zap.String("request_id", resp.RequestID),
		}
		if err.Cause != nil {
			fields = append(fields, zap.Error(err.Cause))
		}
		if status >= http.StatusInternalServerError {
			logger.Error(err.Message, fields...)
		} else {
			logger.Warn(err.Message, fields...)
		}
	}
	WriteJSON(w, status, resp)
}

// WriteErrorMessage 以给定状态码写出简单错误
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// RunError 把工作流执行错误转换为 API 错误。节点失败不会走到这里，
// 它们记录在运行日志里；这里只处理整个运行失败的情况。
func RunError(err error) *types.Error {
	if apiErr, ok := types.AsError(err); ok {
		return apiErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrTimeout, "run timed out").WithCause(err)
	case errors.Is(err, context.Canceled):
		return types.NewError(types.ErrServiceUnavailable, "run cancelled").WithCause(err)
	case errors.Is(err, workflow.ErrInvalidState):
		return types.NewError(types.ErrInvalidInput, err.Error())
	case errors.Is(err, workflow.ErrExecutionLimit),
		errors.Is(err, workflow.ErrRouting),
		errors.Is(err, workflow.ErrConflictingWrite):
		return types.NewError(types.ErrRunFailed, err.Error())
	default:
		return types.NewError(types.ErrInternalError, "run failed").WithCause(err)
	}
}

// WriteRunError 写出 RunError(err)
func WriteRunError(w http.ResponseWriter, err error, logger *zap.Logger) {
	WriteError(w, RunError(err), logger)
}

// =============================================================================
// 🛡️ 请求校验
// =============================================================================

// DecodeJSONBody 严格解码 JSON 请求体（拒绝未知字段与多余内容）。
// 失败时已写出错误响应，调用方直接返回即可。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	apiErr := decodeJSON(w, r, dst)
	if apiErr != nil {
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) *types.Error {
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewError(types.ErrInvalidRequest, "request body is empty")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return types.NewError(types.ErrInvalidRequest, "request body is too large").
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		return types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
	}
	if dec.More() {
		return types.NewError(types.ErrInvalidRequest, "request body must contain a single JSON object")
	}
	return nil
}

// ValidateContentType 要求 application/json，否则写出 400 并返回 false
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "application/json" {
		return true
	}
	WriteError(w, types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json"), logger)
	return false
}
