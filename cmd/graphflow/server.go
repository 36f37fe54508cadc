package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/BaSui01/graphflow/api/handlers"
	"github.com/BaSui01/graphflow/internal/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// skipAuthPaths 不需要认证的端点
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// Server 是 GraphFlow 的 HTTP API 服务
type Server struct {
	app    *App
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler      *handlers.HealthHandler
	extractionHandler  *handlers.ExtractionHandler
	publicationHandler *handlers.PublicationHandler
	graphHandler       *handlers.GraphHandler
	runsHandler        *handlers.RunsHandler
}

// NewServer 基于装配好的 App 创建服务器
func NewServer(app *App, logger *zap.Logger) *Server {
	s := &Server{app: app, logger: logger}
	s.initHandlers()
	return s
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	timeout := s.app.cfg.Server.WriteTimeout

	s.healthHandler = handlers.NewHealthHandler(Version, s.logger)
	s.healthHandler.RegisterGraph(s.app.extraction.Graph().Name())
	s.healthHandler.RegisterGraph(s.app.publication.Graph().Name())
	// 运行日志 API 依赖数据库；Redis 只是 LLM 响应缓存
	if s.app.pool != nil {
		pool := s.app.pool
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", pool.Ping).
			WithDetails(func() any { return pool.GetStats() }), true)
	}
	if s.app.cache != nil {
		cm := s.app.cache
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", cm.Ping).
			WithDetails(func() any {
				hits, misses := cm.Counts()
				return map[string]any{"hits": hits, "misses": misses, "probe_ok": cm.Healthy()}
			}), false)
	}

	s.extractionHandler = handlers.NewExtractionHandler(s.app.extraction, timeout, s.logger)
	s.publicationHandler = handlers.NewPublicationHandler(s.app.publication, timeout, s.logger)

	s.graphHandler = handlers.NewGraphHandler(s.logger)
	s.graphHandler.Register(s.app.extraction)
	s.graphHandler.Register(s.app.publication)

	if s.app.runs != nil {
		s.runsHandler = handlers.NewRunsHandler(s.app.runs, s.logger)
	}
}

// routes 注册路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", s.healthHandler.HandleLive)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleLive)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(BuildTime, GitCommit))

	// 流水线
	mux.HandleFunc("POST /api/v1/extract", s.extractionHandler.HandleExtract)
	mux.HandleFunc("POST /api/v1/publish", s.publicationHandler.HandlePublish)

	// 图
	mux.HandleFunc("GET /api/v1/graphs", s.graphHandler.HandleList)
	mux.HandleFunc("GET /api/v1/graphs/{name}", s.graphHandler.HandleGet)

	// 运行日志（需要数据库）
	if s.runsHandler != nil {
		mux.HandleFunc("GET /api/v1/runs", s.runsHandler.HandleList)
		mux.HandleFunc("GET /api/v1/runs/{id}", s.runsHandler.HandleGet)
	}
	return mux
}

// Handler 构建带中间件链的根 handler；ctx 控制限流器清理协程的生命周期
func (s *Server) Handler(ctx context.Context) http.Handler {
	cfg := s.app.cfg.Server

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
	}
	if s.app.telemetry.Enabled() {
		middlewares = append(middlewares, OTelTracing())
	}
	if s.app.collector != nil {
		middlewares = append(middlewares, MetricsMiddleware(s.app.collector))
	}
	middlewares = append(middlewares, CORS(cfg.CORSAllowedOrigins))
	if cfg.JWT.Enabled() {
		middlewares = append(middlewares, JWTAuth(cfg.JWT, skipAuthPaths, s.logger))
	}
	if len(cfg.APIKeys) > 0 {
		middlewares = append(middlewares, APIKeyAuth(cfg.APIKeys, skipAuthPaths, cfg.AllowQueryAPIKey, s.logger))
	}
	if cfg.RateLimitRPS > 0 {
		// 放在认证之后，已认证请求按 subject 限流
		middlewares = append(middlewares, RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, s.logger))
	}
	return Chain(s.routes(), middlewares...)
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

// Serve 启动 API 与 metrics 服务器，阻塞到 ctx 取消
func (s *Server) Serve(ctx context.Context) error {
	cfg := s.app.cfg

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.httpManager = server.NewManager("api", s.Handler(handlerCtx), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CertFile:        cfg.Server.TLSCertFile,
		KeyFile:         cfg.Server.TLSKeyFile,
	}, s.logger)

	s.metricsManager = s.newMetricsServer()

	s.logger.Info("HTTP server starting",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Bool("metrics", s.metricsManager != nil),
		zap.Bool("run_store", s.runsHandler != nil),
	)
	return server.ServeAll(ctx, s.httpManager, s.metricsManager)
}

// newMetricsServer 在独立地址暴露 /metrics；未启用时返回 nil
func (s *Server) newMetricsServer() *server.Manager {
	cfg := s.app.cfg
	if s.app.registry == nil || cfg.Metrics.ListenAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.app.registry, promhttp.HandlerOpts{}))

	return server.NewManager("metrics", mux, server.Config{
		Addr:            cfg.Metrics.ListenAddr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, s.logger)
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	var common commonFlags
	fs := newFlagSet("serve", &common)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	app, logger, err := openApp(ctx, common.configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	logger.Info("Starting GraphFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	if err := NewServer(app, logger).Serve(ctx); err != nil {
		return err
	}
	logger.Info("GraphFlow stopped")
	return nil
}
