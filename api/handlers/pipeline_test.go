package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/graphflow/api"
	"github.com/BaSui01/graphflow/pipeline/extraction"
	"github.com/BaSui01/graphflow/pipeline/publication"
	"github.com/BaSui01/graphflow/tasks/entity"
	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExtraction struct {
	ctx      context.Context
	gotText  string
	gotTypes []string
	deadline bool
	err      error
}

func (f *fakeExtraction) Run(ctx context.Context, text string, types []string) (*extraction.Result, error) {
	f.ctx, f.gotText, f.gotTypes = ctx, text, types
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}

	log := workflow.NewRunLog("run-x", "entity_extraction")
	log.Record(workflow.RunLogEntry{Step: 1, Node: "ner", Status: workflow.NodeStatusFailed, Error: "ner down", Attempts: 3})
	log.Complete(2, nil)
	return &extraction.Result{
		Entities:    []entity.Entity{{Name: "gpt-4", Type: "Model", Method: entity.MethodLLM}},
		LLMEntities: []entity.Entity{{Name: "gpt-4", Type: "Model", Method: entity.MethodLLM}},
		Run:         &workflow.Result{RunID: "run-x", Steps: 2, Log: log},
	}, nil
}

type fakePublication struct {
	err error
}

func (f *fakePublication) Run(ctx context.Context, text string) (*publication.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	log := workflow.NewRunLog("run-p", "publication_info")
	log.Complete(6, nil)
	return &publication.Result{
		ManagerDecision: "focus on the benchmark",
		TLDR:            []string{"short"},
		Title:           []string{"A Title"},
		Tags:            []string{"pytorch"},
		References:      []publication.Reference{{URL: "https://example.com", Title: "Example"}},
		Feedback:        map[string]string{"tldr": ""},
		Rounds:          2,
		RevisionLimited: true,
		Run:             &workflow.Result{RunID: "run-p", Steps: 6, Log: log},
	}, nil
}

func postJSON(t *testing.T, h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	if dst != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, dst))
	}
	return raw.Response
}

func TestExtractionHandler_HandleExtract(t *testing.T) {
	runner := &fakeExtraction{}
	h := NewExtractionHandler(runner, time.Minute, zap.NewNop())

	w := postJSON(t, h.HandleExtract, "/api/v1/extract", `{"text":"GPT-4 is a model","entity_types":["Model"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.ExtractResponse
	decodeData(t, w, &resp)
	assert.Equal(t, "run-x", resp.RunID)
	assert.Equal(t, 2, resp.Steps)
	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "gpt-4", resp.Entities[0].Name)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "ner", resp.Failures[0].Node)
	assert.Equal(t, 3, resp.Failures[0].Attempts)

	assert.Equal(t, "GPT-4 is a model", runner.gotText)
	assert.Equal(t, []string{"Model"}, runner.gotTypes)
	assert.True(t, runner.deadline)
	_, ok := types.LLMModel(runner.ctx)
	assert.False(t, ok)
}

func TestExtractionHandler_ModelOverride(t *testing.T) {
	runner := &fakeExtraction{}
	h := NewExtractionHandler(runner, 0, zap.NewNop())

	w := postJSON(t, h.HandleExtract, "/api/v1/extract", `{"text":"GPT-4","model":" gpt-4o "}`)
	require.Equal(t, http.StatusOK, w.Code)

	model, ok := types.LLMModel(runner.ctx)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", model)
}

func TestExtractionHandler_RejectsBadRequests(t *testing.T) {
	h := NewExtractionHandler(&fakeExtraction{}, 0, nil)

	tests := []struct {
		name string
		body string
	}{
		{"empty text", `{"text":"   "}`},
		{"blank entity type", `{"text":"x","entity_types":["Model",""]}`},
		{"unknown field", `{"text":"x","bogus":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h.HandleExtract, "/api/v1/extract", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/extract", strings.NewReader(`{"text":"x"}`))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.HandleExtract(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtractionHandler_RejectsOversizedText(t *testing.T) {
	h := NewExtractionHandler(&fakeExtraction{}, 0, nil)
	body := `{"text":"` + strings.Repeat("a", maxTextBytes+1) + `"}`
	w := postJSON(t, h.HandleExtract, "/api/v1/extract", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestExtractionHandler_MapsRunErrors(t *testing.T) {
	h := NewExtractionHandler(&fakeExtraction{err: &workflow.ExecutionLimitExceeded{MaxSteps: 25}}, 0, nil)
	w := postJSON(t, h.HandleExtract, "/api/v1/extract", `{"text":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decodeData(t, w, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "RUN_FAILED", resp.Error.Code)
}

func TestPublicationHandler_HandlePublish(t *testing.T) {
	h := NewPublicationHandler(&fakePublication{}, 0, zap.NewNop())

	w := postJSON(t, h.HandlePublish, "/api/v1/publish", `{"text":"A paper about benchmarks."}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.PublishResponse
	decodeData(t, w, &resp)
	assert.Equal(t, "run-p", resp.RunID)
	assert.Equal(t, []string{"A Title"}, resp.Title)
	assert.Equal(t, []string{"pytorch"}, resp.Tags)
	assert.Equal(t, "https://example.com", resp.References[0].URL)
	assert.Equal(t, 2, resp.Rounds)
	assert.True(t, resp.RevisionLimited)
	assert.Empty(t, resp.Failures)
}

func TestPublicationHandler_Errors(t *testing.T) {
	h := NewPublicationHandler(&fakePublication{err: errors.New("db gone")}, 0, nil)

	w := postJSON(t, h.HandlePublish, "/api/v1/publish", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, h.HandlePublish, "/api/v1/publish", `{"text":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
