package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteSuccess_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-1")

	WriteSuccess(w, map[string]int{"entities": 3})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))

	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"entities": float64(3)}, resp.Data)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-7")

	WriteError(w, types.NewError(types.ErrRateLimited, "slow down").WithRetryable(true), zap.NewNop())

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decodeEnvelope(t, w)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Data)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrRateLimited), resp.Error.Code)
	assert.Equal(t, "slow down", resp.Error.Message)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, "req-7", resp.RequestID)
}

func TestWriteErrorMessage_ExplicitStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorMessage(w, http.StatusConflict, types.ErrInvalidInput, "state conflict", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "state conflict", decodeEnvelope(t, w).Error.Message)
}

func TestWriteError_LogLevelFollowsStatus(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	WriteError(httptest.NewRecorder(), types.NewError(types.ErrNotFound, "run not found"), logger)
	WriteError(httptest.NewRecorder(), types.NewError(types.ErrInternalError, "store down").WithCause(assert.AnError), logger)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "run not found", entries[0].Message)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, assert.AnError.Error(), entries[1].ContextMap()["error"])
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrInvalidInput, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrRateLimited, http.StatusTooManyRequests},
		{types.ErrRunFailed, http.StatusUnprocessableEntity},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{types.ErrUpstreamError, http.StatusBadGateway},
		{types.ErrDecodeFailed, http.StatusBadGateway},
		{types.ErrInternalError, http.StatusInternalServerError},
		{types.ErrorCode("SOMETHING_NEW"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(types.NewError(tt.code, "x")))
		})
	}

	assert.Equal(t, http.StatusTeapot,
		StatusOf(types.NewError(types.ErrNotFound, "x").WithHTTPStatus(http.StatusTeapot)))
}

func TestRunError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code types.ErrorCode
	}{
		{"deadline", fmt.Errorf("step 3: %w", context.DeadlineExceeded), types.ErrTimeout},
		{"cancelled", context.Canceled, types.ErrServiceUnavailable},
		{"invalid state", fmt.Errorf("%w: text is required", workflow.ErrInvalidState), types.ErrInvalidInput},
		{"step limit", fmt.Errorf("%w: 25 steps", workflow.ErrExecutionLimit), types.ErrRunFailed},
		{"routing", fmt.Errorf("%w: unknown target", workflow.ErrRouting), types.ErrRunFailed},
		{"conflict", fmt.Errorf("%w: tags", workflow.ErrConflictingWrite), types.ErrRunFailed},
		{"typed", types.NewError(types.ErrUpstreamError, "llm down"), types.ErrUpstreamError},
		{"other", assert.AnError, types.ErrInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, RunError(tt.err).Code)
		})
	}

	w := httptest.NewRecorder()
	WriteRunError(w, context.DeadlineExceeded, zap.NewNop())
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestRunError_HidesInternalDetail(t *testing.T) {
	apiErr := RunError(fmt.Errorf("dial postgres: %w", assert.AnError))
	assert.Equal(t, "run failed", apiErr.Message)
	assert.ErrorIs(t, apiErr.Cause, assert.AnError)
}

type extractBody struct {
	Text string `json:"text"`
}

func decodeRequest(body string) (*httptest.ResponseRecorder, extractBody, error) {
	var dst extractBody
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(http.MethodPost, "/api/v1/extract", nil)
	} else {
		r = httptest.NewRequest(http.MethodPost, "/api/v1/extract", strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	err := DecodeJSONBody(w, r, &dst, zap.NewNop())
	return w, dst, err
}

func TestDecodeJSONBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"empty body", "", http.StatusBadRequest, "request body is empty"},
		{"malformed", `{"text":`, http.StatusBadRequest, "invalid JSON body"},
		{"unknown field", `{"text":"a","extra":1}`, http.StatusBadRequest, "invalid JSON body"},
		{"trailing object", `{"text":"a"}{"text":"b"}`, http.StatusBadRequest, "single JSON object"},
		{"too large", `{"text":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge, "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _, err := decodeRequest(tt.body)
			require.Error(t, err)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, decodeEnvelope(t, w).Error.Message, tt.message)
		})
	}

	t.Run("valid", func(t *testing.T) {
		w, dst, err := decodeRequest(`{"text":"GPT-4 was trained on WebText."}`)
		require.NoError(t, err)
		assert.Equal(t, "GPT-4 was trained on WebText.", dst.Text)
		assert.Equal(t, 0, w.Body.Len())
	})

	t.Run("just under the limit", func(t *testing.T) {
		_, dst, err := decodeRequest(`{"text":"` + strings.Repeat("a", maxBodyBytes-20) + `"}`)
		require.NoError(t, err)
		assert.Len(t, dst.Text, maxBodyBytes-20)
	})
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		ok          bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"APPLICATION/JSON", true},
		{"text/plain", false},
		{"application/x-www-form-urlencoded", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/publish", nil)
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()

			assert.Equal(t, tt.ok, ValidateContentType(w, r, zap.NewNop()))
			if !tt.ok {
				assert.Equal(t, http.StatusBadRequest, w.Code)
			}
		})
	}
}
