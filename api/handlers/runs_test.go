package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/graphflow/api"
	"github.com/BaSui01/graphflow/internal/runstore"
	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunStore struct {
	filter runstore.Filter
	runs   map[string]runstore.RunRecord
}

func (s *fakeRunStore) List(ctx context.Context, f runstore.Filter) ([]runstore.RunRecord, error) {
	s.filter = f
	out := make([]runstore.RunRecord, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, runstore.RunRecord{RunID: r.RunID, Graph: r.Graph, Status: r.Status})
	}
	return out, nil
}

func (s *fakeRunStore) Get(ctx context.Context, id string) (*runstore.RunRecord, error) {
	r, ok := s.runs[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "run not found")
	}
	return &r, nil
}

func newFakeRunStore() *fakeRunStore {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeRunStore{runs: map[string]runstore.RunRecord{
		"run-1": {
			RunID:      "run-1",
			Graph:      "publication_info",
			Status:     "completed",
			Steps:      4,
			FailedNode: 1,
			StartedAt:  at,
			Entries: []runstore.EntryRecord{
				{Seq: 0, Step: 1, Node: "manager", Status: "completed", DurationMS: 120, At: at},
				{Seq: 1, Step: 2, Node: "references", Status: "failed", Error: "search down", Attempts: 3, At: at},
			},
		},
	}}
}

func TestRunsHandler_HandleList(t *testing.T) {
	store := newFakeRunStore()
	h := NewRunsHandler(store, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/runs?graph=publication_info&status=failed&since=2026-03-01T00:00:00Z&limit=5&offset=10", nil)
	w := httptest.NewRecorder()
	h.HandleList(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "publication_info", store.filter.Graph)
	assert.Equal(t, workflow.RunStatusFailed, store.filter.Status)
	assert.Equal(t, 5, store.filter.Limit)
	assert.Equal(t, 10, store.filter.Offset)
	assert.True(t, store.filter.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	var runs []api.RunSummary
	decodeData(t, w, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Empty(t, runs[0].Entries)
}

func TestRunsHandler_HandleListRejectsBadQuery(t *testing.T) {
	h := NewRunsHandler(newFakeRunStore(), nil)

	for _, q := range []string{"status=running", "since=yesterday", "limit=-1", "offset=abc"} {
		w := httptest.NewRecorder()
		h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestRunsHandler_HandleGet(t *testing.T) {
	h := NewRunsHandler(newFakeRunStore(), nil)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil)
	r.SetPathValue("id", "run-1")
	w := httptest.NewRecorder()
	h.HandleGet(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var run api.RunSummary
	decodeData(t, w, &run)
	assert.Equal(t, 1, run.FailedNodes)
	require.Len(t, run.Entries, 2)
	assert.Equal(t, "references", run.Entries[1].Node)
	assert.Equal(t, "search down", run.Entries[1].Error)

	r = httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil)
	r.SetPathValue("id", "missing")
	w = httptest.NewRecorder()
	h.HandleGet(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
