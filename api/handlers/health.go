package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// 健康状态
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const defaultReadyTimeout = 5 * time.Second

// HealthCheck 依赖探测接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

type registeredCheck struct {
	HealthCheck
	critical bool
}

// HealthHandler 存活、就绪与版本端点。
// 关键依赖失败时就绪检查返回 503；可选依赖（如 LLM 响应缓存）
// 失败只把状态降级为 degraded，流水线仍可服务。
type HealthHandler struct {
	logger  *zap.Logger
	version string
	timeout time.Duration

	mu     sync.RWMutex
	checks []registeredCheck
	graphs []string
}

// HealthResponse 健康状态响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Graphs    []string               `json:"graphs,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个依赖的探测结果
type CheckResult struct {
	Status   string `json:"status"` // "pass", "fail"
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Details  any    `json:"details,omitempty"`
}

// DetailedCheck 可选接口，探测成功时附带诊断信息（连接池、命中率等）
type DetailedCheck interface {
	Details() any
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger,
		version: version,
		timeout: defaultReadyTimeout,
	}
}

// WithTimeout 设置就绪检查的整体超时
func (h *HealthHandler) WithTimeout(d time.Duration) *HealthHandler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

// RegisterCheck 注册依赖探测；critical 为 false 时失败只导致降级
func (h *HealthHandler) RegisterCheck(check HealthCheck, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{HealthCheck: check, critical: critical})
}

// RegisterGraph 记录已装配的工作流图，在存活响应中列出
func (h *HealthHandler) RegisterGraph(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.graphs = append(h.graphs, name)
	sort.Strings(h.graphs)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleLive 处理 /health 与 /healthz（存活探针，不探测依赖）
// @Summary 存活检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthResponse "服务处于活动状态"
// @Router /health [get]
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	graphs := append([]string(nil), h.graphs...)
	h.mu.RUnlock()

	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   h.version,
		Graphs:    graphs,
	})
}

// HandleReady 处理 /ready 与 /readyz，并行探测所有依赖
// @Summary 就绪检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthResponse "服务已就绪（可能降级）"
// @Failure 503 {object} HealthResponse "关键依赖不可用"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]registeredCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = h.probe(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, check := range checks {
		resp.Checks[check.Name()] = results[i]
		if results[i].Status == "pass" {
			continue
		}
		if check.critical {
			resp.Status = StatusUnhealthy
		} else if resp.Status == StatusHealthy {
			resp.Status = StatusDegraded
		}
	}

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, resp)
}

func (h *HealthHandler) probe(ctx context.Context, check registeredCheck) CheckResult {
	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)

	res := CheckResult{Status: "pass", Critical: check.critical, Latency: latency.String()}
	if err != nil {
		res.Status = "fail"
		res.Message = err.Error()
		h.logger.Warn("health check failed",
			zap.String("check", check.Name()),
			zap.Bool("critical", check.critical),
			zap.Error(err),
			zap.Duration("latency", latency),
		)
		return res
	}
	if d, ok := check.HealthCheck.(DetailedCheck); ok {
		res.Details = d.Details()
	}
	return res
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    h.version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置探测
// =============================================================================

// PingCheck 以 ping 函数实现的探测（数据库、Redis 等）
type PingCheck struct {
	name    string
	ping    func(ctx context.Context) error
	details func() any
}

// NewPingCheck 创建 ping 探测
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

// WithDetails 设置探测成功时附带的诊断信息
func (c *PingCheck) WithDetails(fn func() any) *PingCheck {
	c.details = fn
	return c
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Details() any {
	if c.details == nil {
		return nil
	}
	return c.details()
}

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
