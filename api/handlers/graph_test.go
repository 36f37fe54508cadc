package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BaSui01/graphflow/api"
	"github.com/BaSui01/graphflow/pipeline/extraction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newGraphHandler(t *testing.T) *GraphHandler {
	t.Helper()
	p, err := extraction.New(extraction.Config{}, extraction.Deps{})
	require.NoError(t, err)

	h := NewGraphHandler(zap.NewNop())
	h.Register(p)
	return h
}

func TestGraphHandler_HandleList(t *testing.T) {
	h := newGraphHandler(t)

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/graphs", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var graphs []api.GraphInfo
	decodeData(t, w, &graphs)
	require.Len(t, graphs, 1)
	assert.Equal(t, "entity_extraction", graphs[0].Name)
	assert.Equal(t, 4, graphs[0].Nodes)
	assert.Empty(t, graphs[0].Mermaid)
}

func TestGraphHandler_HandleGet(t *testing.T) {
	h := newGraphHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/graphs/entity_extraction", nil)
	r.SetPathValue("name", "entity_extraction")
	w := httptest.NewRecorder()
	h.HandleGet(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var info api.GraphInfo
	decodeData(t, w, &info)
	assert.Contains(t, info.Mermaid, "flowchart")
	assert.Contains(t, info.Definition, "name: entity_extraction")
	assert.Nil(t, info.Revision)
}

func TestGraphHandler_HandleGetMermaid(t *testing.T) {
	h := newGraphHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/graphs/entity_extraction?format=mermaid", nil)
	r.SetPathValue("name", "entity_extraction")
	w := httptest.NewRecorder()
	h.HandleGet(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "flowchart")
}

func TestGraphHandler_HandleGetUnknown(t *testing.T) {
	h := newGraphHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/graphs/nope", nil)
	r.SetPathValue("name", "nope")
	w := httptest.NewRecorder()
	h.HandleGet(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
