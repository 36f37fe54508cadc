package handlers

import (
	"net/http"
	"sort"
	"sync"

	"github.com/BaSui01/graphflow/api"
	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
	"go.uber.org/zap"
)

// GraphSource 提供已构建的图及其定义；两个 pipeline 均满足该接口
type GraphSource interface {
	Graph() *workflow.Graph
	Definition() *workflow.Definition
}

// GraphHandler 图查看处理器
type GraphHandler struct {
	mu      sync.RWMutex
	sources map[string]GraphSource
	logger  *zap.Logger
}

// NewGraphHandler 创建图查看处理器
func NewGraphHandler(logger *zap.Logger) *GraphHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphHandler{sources: make(map[string]GraphSource), logger: logger}
}

// Register 以图名注册
func (h *GraphHandler) Register(src GraphSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources[src.Graph().Name()] = src
}

// HandleList 列出已注册的图
// @Summary 图列表
// @Tags 图
// @Produce json
// @Success 200 {array} api.GraphInfo
// @Router /api/v1/graphs [get]
func (h *GraphHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	out := make([]api.GraphInfo, 0, len(h.sources))
	for name, src := range h.sources {
		out = append(out, api.GraphInfo{Name: name, Nodes: len(src.Graph().Nodes())})
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	WriteSuccess(w, out)
}

// HandleGet 返回单个图的 Mermaid 与定义；?format=mermaid 直接返回文本
// @Summary 图详情
// @Tags 图
// @Produce json
// @Param name path string true "图名"
// @Param format query string false "mermaid"
// @Success 200 {object} api.GraphInfo
// @Failure 404 {object} Response
// @Router /api/v1/graphs/{name} [get]
func (h *GraphHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h.mu.RLock()
	src, ok := h.sources[name]
	h.mu.RUnlock()
	if !ok {
		WriteError(w, types.NewError(types.ErrNotFound, "graph not found: "+name), h.logger)
		return
	}

	g := src.Graph()
	if r.URL.Query().Get("format") == "mermaid" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(g.Mermaid()))
		return
	}

	info := api.GraphInfo{
		Name:     g.Name(),
		Nodes:    len(g.Nodes()),
		Mermaid:  g.Mermaid(),
		Revision: api.RevisionInfoOf(g),
	}
	if def := src.Definition(); def != nil {
		data, err := def.YAML()
		if err != nil {
			WriteError(w, types.NewError(types.ErrInternalError, "render definition").WithCause(err), h.logger)
			return
		}
		info.Definition = string(data)
	}
	WriteSuccess(w, info)
}
