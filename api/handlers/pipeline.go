package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/graphflow/api"
	"github.com/BaSui01/graphflow/pipeline/extraction"
	"github.com/BaSui01/graphflow/pipeline/publication"
	"github.com/BaSui01/graphflow/types"
	"go.uber.org/zap"
)

// maxTextBytes 单次请求文本上限
const maxTextBytes = 512 << 10

// =============================================================================
// 🔍 实体抽取 Handler
// =============================================================================

// ExtractionRunner 运行实体抽取图；*extraction.Pipeline 满足该接口
type ExtractionRunner interface {
	Run(ctx context.Context, text string, types []string) (*extraction.Result, error)
}

// ExtractionHandler 实体抽取处理器
type ExtractionHandler struct {
	runner  ExtractionRunner
	timeout time.Duration
	logger  *zap.Logger
}

// NewExtractionHandler 创建实体抽取处理器；timeout 为 0 表示不限制
func NewExtractionHandler(runner ExtractionRunner, timeout time.Duration, logger *zap.Logger) *ExtractionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractionHandler{runner: runner, timeout: timeout, logger: logger}
}

// HandleExtract 处理实体抽取请求
// @Summary 实体抽取
// @Tags 抽取
// @Accept json
// @Produce json
// @Param request body api.ExtractRequest true "抽取请求"
// @Success 200 {object} api.ExtractResponse
// @Failure 400 {object} Response "无效请求"
// @Router /api/v1/extract [post]
func (h *ExtractionHandler) HandleExtract(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ExtractRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validateText(req.Text); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	for _, t := range req.EntityTypes {
		if strings.TrimSpace(t) == "" {
			WriteError(w, types.NewError(types.ErrInvalidRequest, "entity_types must not contain empty values"), h.logger)
			return
		}
	}

	ctx, cancel := withTimeout(withModel(r.Context(), req.Model), h.timeout)
	defer cancel()

	res, err := h.runner.Run(ctx, req.Text, req.EntityTypes)
	if err != nil {
		WriteRunError(w, err, h.logger)
		return
	}

	resp := api.NewExtractResponse(res)

	h.logger.Info("extraction completed",
		zap.String("run_id", resp.RunID),
		zap.Int("entities", len(resp.Entities)),
		zap.Int("failures", len(resp.Failures)),
	)
	WriteSuccess(w, resp)
}

// =============================================================================
// 📰 发布信息 Handler
// =============================================================================

// PublicationRunner 运行发布信息图；*publication.Pipeline 满足该接口
type PublicationRunner interface {
	Run(ctx context.Context, text string) (*publication.Result, error)
}

// PublicationHandler 发布信息处理器
type PublicationHandler struct {
	runner  PublicationRunner
	timeout time.Duration
	logger  *zap.Logger
}

// NewPublicationHandler 创建发布信息处理器
func NewPublicationHandler(runner PublicationRunner, timeout time.Duration, logger *zap.Logger) *PublicationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublicationHandler{runner: runner, timeout: timeout, logger: logger}
}

// HandlePublish 处理发布信息生成请求
// @Summary 生成发布信息
// @Tags 发布
// @Accept json
// @Produce json
// @Param request body api.PublishRequest true "发布请求"
// @Success 200 {object} api.PublishResponse
// @Failure 400 {object} Response "无效请求"
// @Router /api/v1/publish [post]
func (h *PublicationHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.PublishRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := validateText(req.Text); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	ctx, cancel := withTimeout(withModel(r.Context(), req.Model), h.timeout)
	defer cancel()

	res, err := h.runner.Run(ctx, req.Text)
	if err != nil {
		WriteRunError(w, err, h.logger)
		return
	}

	resp := api.NewPublishResponse(res)

	h.logger.Info("publication completed",
		zap.String("run_id", resp.RunID),
		zap.Int("rounds", resp.Rounds),
		zap.Bool("revision_limited", resp.RevisionLimited),
	)
	WriteSuccess(w, resp)
}

func validateText(text string) *types.Error {
	switch {
	case strings.TrimSpace(text) == "":
		return types.NewError(types.ErrInvalidRequest, "text is required")
	case len(text) > maxTextBytes:
		return types.NewError(types.ErrInvalidRequest, "text is too long").WithHTTPStatus(http.StatusRequestEntityTooLarge)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// withModel 应用请求中的模型覆盖
func withModel(ctx context.Context, model string) context.Context {
	if model = strings.TrimSpace(model); model == "" {
		return ctx
	}
	return types.WithLLMModel(ctx, model)
}
