package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/graphflow/config"
	"github.com/BaSui01/graphflow/internal/cache"
	"github.com/BaSui01/graphflow/internal/database"
	"github.com/BaSui01/graphflow/internal/metrics"
	"github.com/BaSui01/graphflow/internal/runstore"
	"github.com/BaSui01/graphflow/internal/telemetry"
	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/pipeline/extraction"
	"github.com/BaSui01/graphflow/pipeline/publication"
	"github.com/BaSui01/graphflow/tasks/gazetteer"
	"github.com/BaSui01/graphflow/tasks/llmextract"
	"github.com/BaSui01/graphflow/tasks/ner"
	"github.com/BaSui01/graphflow/tasks/websearch"
	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// =============================================================================
// 🧩 应用装配
// =============================================================================

// App 持有一次进程生命周期内装配好的全部组件
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	registry  *prometheus.Registry
	collector *metrics.Collector

	cache *cache.Manager
	pool  *database.PoolManager
	runs  *runstore.Store

	provider  llm.Provider
	llmex     *llmextract.Extractor
	ner       *ner.Client
	gazetteer *gazetteer.Gazetteer
	search    *websearch.Client

	extraction  *extraction.Pipeline
	publication *publication.Pipeline
}

// newApp 按配置装配遥测、指标、缓存、存储、抽取器与两条流水线。
// 可选组件（Redis、数据库）不可用时降级并记录警告。
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	providers, err := telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	a.telemetry = providers

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)
	}

	if cfg.Redis.Enabled {
		cc := cache.DefaultConfig()
		cc.Addr = cfg.Redis.Addr
		cc.Password = cfg.Redis.Password
		cc.DB = cfg.Redis.DB
		cc.DefaultTTL = cfg.LLM.CacheTTL
		cc.PoolSize = cfg.Redis.PoolSize
		cc.MinIdleConns = cfg.Redis.MinIdleConns
		a.cache, err = cache.NewManager(cc, logger)
		if err != nil {
			logger.Warn("redis not available, llm response cache disabled", zap.Error(err))
			a.cache = nil
		}
	}

	if cfg.Database.Enabled {
		if err := a.openRunStore(ctx); err != nil {
			logger.Warn("database not available, run logs will not be persisted", zap.Error(err))
		}
	}

	if err := a.buildProvider(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildTasks(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildPipelines(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openRunStore(ctx context.Context) error {
	pool, err := database.Open(a.cfg.Database, a.logger)
	if err != nil {
		return err
	}
	if a.collector != nil {
		pool.SetRecorder(a.collector)
	}
	store := runstore.New(pool, a.logger)
	if err := store.AutoMigrate(ctx); err != nil {
		_ = pool.Close()
		return err
	}
	a.pool, a.runs = pool, store
	return nil
}

// buildProvider 组装 OpenAI → 观测 → 缓存 的 Provider 链
func (a *App) buildProvider() error {
	base := llm.NewOpenAIProvider(llm.Config{
		ProviderName: "openai",
		APIKey:       a.cfg.LLM.APIKey,
		BaseURL:      a.cfg.LLM.BaseURL,
		DefaultModel: a.cfg.LLM.Model,
		Timeout:      a.cfg.LLM.Timeout,
	}, a.logger)

	instrumented, err := llm.NewInstrumentedProvider(base)
	if err != nil {
		return fmt.Errorf("instrument llm provider: %w", err)
	}
	if a.collector != nil {
		instrumented = instrumented.WithRecorder(a.collector)
	}
	a.provider = instrumented

	if a.cache != nil && a.cfg.LLM.CacheTTL > 0 {
		cached := llm.NewCachedProvider(instrumented, a.cache, a.cfg.LLM.CacheTTL, a.logger)
		if a.collector != nil {
			cached = cached.WithRecorder(a.collector)
		}
		a.provider = cached
	}
	return nil
}

func (a *App) buildTasks() error {
	var err error
	a.llmex, err = llmextract.New(a.provider, llmextract.Config{
		ChunkSize:    a.cfg.Extraction.ChunkSize,
		ChunkOverlap: a.cfg.Extraction.ChunkOverlap,
		BatchSize:    a.cfg.Extraction.EntityBatchSize,
		Workers:      a.cfg.Extraction.Workers,
		Model:        a.cfg.LLM.Model,
		Temperature:  float32(a.cfg.LLM.Temperature),
		MaxTokens:    a.cfg.LLM.MaxTokens,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("create llm extractor: %w", err)
	}

	a.ner, err = ner.New(ner.Config{
		Endpoint:       a.cfg.NER.Endpoint,
		Timeout:        a.cfg.NER.Timeout,
		ExcludedLabels: a.cfg.NER.ExcludedLabels,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("create ner client: %w", err)
	}

	if path := a.cfg.Extraction.GazetteerPath; path != "" {
		a.gazetteer, err = gazetteer.Load(path)
	} else {
		a.gazetteer, err = gazetteer.New()
	}
	if err != nil {
		return fmt.Errorf("load gazetteer: %w", err)
	}

	a.search, err = websearch.New(websearch.Config{
		Endpoint:     a.cfg.Search.Endpoint,
		APIKey:       a.cfg.Search.APIKey,
		Timeout:      a.cfg.Search.Timeout,
		RateLimit:    a.cfg.Search.RateLimit,
		Burst:        a.cfg.Search.Burst,
		MaxPageBytes: a.cfg.Search.MaxPageBytes,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("create search client: %w", err)
	}
	return nil
}

// executorOptions 把执行器配置与观察者转换为 workflow 选项
func (a *App) executorOptions() []workflow.Option {
	ec := a.cfg.Executor
	opts := []workflow.Option{
		workflow.WithMaxSteps(ec.MaxSteps),
		workflow.WithNodeTimeout(ec.NodeTimeout),
		workflow.WithConcurrency(ec.Concurrency),
		workflow.WithRetryPolicy(workflow.RetryPolicy{
			MaxAttempts:    ec.RetryMaxAttempts,
			InitialBackoff: ec.RetryInitialBackoff,
			MaxBackoff:     ec.RetryMaxBackoff,
			Multiplier:     2,
			RetryIf:        types.IsRetryable,
		}),
		workflow.WithTracer(a.telemetry.Tracer()),
	}
	if a.collector != nil {
		opts = append(opts, workflow.WithObserver(a.collector))
	}
	if a.runs != nil {
		opts = append(opts, workflow.WithObserver(runstore.NewObserver(a.runs)))
	}
	return opts
}

func loadDefinition(path string) (*workflow.Definition, error) {
	if path == "" {
		return nil, nil
	}
	def, err := workflow.LoadDefinitionFile(path)
	if err != nil {
		return nil, fmt.Errorf("load graph definition %s: %w", path, err)
	}
	return def, nil
}

func (a *App) buildPipelines() error {
	execOpts := a.executorOptions()

	extractionOpts := []extraction.Option{
		extraction.WithLogger(a.logger),
		extraction.WithExecutorOptions(execOpts...),
	}
	def, err := loadDefinition(a.cfg.Extraction.DefinitionPath)
	if err != nil {
		return err
	}
	if def != nil {
		extractionOpts = append(extractionOpts, extraction.WithDefinition(def))
	}
	a.extraction, err = extraction.New(extraction.Config{
		EntityTypes: a.cfg.Extraction.EntityTypes,
		MaxEntities: a.cfg.Extraction.MaxEntities,
		Model:       a.cfg.LLM.Model,
		Temperature: float32(a.cfg.LLM.Temperature),
		MaxTokens:   a.cfg.LLM.MaxTokens,
	}, extraction.Deps{
		LLM:        a.llmex,
		NER:        a.ner,
		Gazetteer:  a.gazetteer,
		Aggregator: a.provider,
	}, extractionOpts...)
	if err != nil {
		return fmt.Errorf("build extraction pipeline: %w", err)
	}

	publicationOpts := []publication.Option{
		publication.WithLogger(a.logger),
		publication.WithExecutorOptions(execOpts...),
	}
	def, err = loadDefinition(a.cfg.Publication.DefinitionPath)
	if err != nil {
		return err
	}
	if def != nil {
		publicationOpts = append(publicationOpts, publication.WithDefinition(def))
	}
	pc := a.cfg.Publication
	a.publication, err = publication.New(publication.Config{
		MaxRounds:       a.cfg.Revision.MaxRounds,
		MaxTLDR:         pc.MaxTLDR,
		MaxTitles:       pc.MaxTitles,
		MaxQueries:      pc.MaxQueries,
		ResultsPerQuery: pc.ResultsPerQuery,
		MaxPages:        pc.MaxPages,
		PreviewChars:    pc.PreviewChars,
		TagEntityTypes:  pc.TagEntityTypes,
		Model:           a.cfg.LLM.Model,
		Temperature:     float32(a.cfg.LLM.Temperature),
		MaxTokens:       a.cfg.LLM.MaxTokens,
	}, publication.Deps{
		LLM:    a.provider,
		Tags:   a.extraction,
		Search: a.search,
	}, publicationOpts...)
	if err != nil {
		return fmt.Errorf("build publication pipeline: %w", err)
	}
	return nil
}

// Close 释放外部连接并刷新遥测数据
func (a *App) Close() error {
	var errs []error
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
