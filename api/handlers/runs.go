package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/graphflow/api"
	"github.com/BaSui01/graphflow/internal/runstore"
	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
	"go.uber.org/zap"
)

// RunStore 运行日志查询接口；*runstore.Store 满足该接口
type RunStore interface {
	List(ctx context.Context, f runstore.Filter) ([]runstore.RunRecord, error)
	Get(ctx context.Context, runID string) (*runstore.RunRecord, error)
}

// RunsHandler 运行日志处理器
type RunsHandler struct {
	store  RunStore
	logger *zap.Logger
}

// NewRunsHandler 创建运行日志处理器
func NewRunsHandler(store RunStore, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{store: store, logger: logger}
}

// HandleList 按条件列出运行记录
// @Summary 运行记录列表
// @Tags 运行
// @Produce json
// @Param graph query string false "图名"
// @Param status query string false "completed|failed"
// @Param since query string false "RFC3339 时间"
// @Param limit query int false "条数"
// @Param offset query int false "偏移"
// @Success 200 {array} api.RunSummary
// @Router /api/v1/runs [get]
func (h *RunsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	f, apiErr := parseFilter(r)
	if apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	recs, err := h.store.List(r.Context(), f)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "list runs").WithCause(err), h.logger)
		return
	}

	out := make([]api.RunSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summaryOf(rec))
	}
	WriteSuccess(w, out)
}

// HandleGet 返回单次运行及其日志条目
// @Summary 运行详情
// @Tags 运行
// @Produce json
// @Param id path string true "运行 ID"
// @Success 200 {object} api.RunSummary
// @Failure 404 {object} Response
// @Router /api/v1/runs/{id} [get]
func (h *RunsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if apiErr, ok := types.AsError(err); ok {
			WriteError(w, apiErr, h.logger)
			return
		}
		WriteError(w, types.NewError(types.ErrInternalError, "load run").WithCause(err), h.logger)
		return
	}

	out := summaryOf(*rec)
	out.Entries = api.RunEntriesFrom(rec.LogEntries())
	WriteSuccess(w, out)
}

func parseFilter(r *http.Request) (runstore.Filter, *types.Error) {
	q := r.URL.Query()
	f := runstore.Filter{Graph: q.Get("graph")}

	switch status := workflow.RunStatus(q.Get("status")); status {
	case "", workflow.RunStatusCompleted, workflow.RunStatusFailed:
		f.Status = status
	default:
		return f, types.NewError(types.ErrInvalidRequest, "status must be completed or failed")
	}

	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, types.NewError(types.ErrInvalidRequest, "since must be an RFC3339 timestamp")
		}
		f.Since = t
	}

	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, types.NewError(types.ErrInvalidRequest, key+" must be a non-negative integer")
		}
		*dst = n
	}
	return f, nil
}

func summaryOf(rec runstore.RunRecord) api.RunSummary {
	return api.RunSummary{
		RunID:       rec.RunID,
		Graph:       rec.Graph,
		Status:      rec.Status,
		Steps:       rec.Steps,
		Error:       rec.Error,
		FailedNodes: rec.FailedNode,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
		DurationMS:  rec.DurationMS,
	}
}
