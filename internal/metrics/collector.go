package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/BaSui01/graphflow/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	sizeBuckets     = prometheus.ExponentialBuckets(100, 10, 8)
	runBuckets      = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}
	nodeBuckets     = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}
	llmBuckets      = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}
	stepBuckets     = prometheus.LinearBuckets(1, 2, 13)
	frontierBuckets = prometheus.LinearBuckets(1, 1, 8)
)

type httpMetrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	requestSize  *prometheus.HistogramVec
	responseSize *prometheus.HistogramVec
}

type workflowMetrics struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runSteps     *prometheus.HistogramVec
	frontier     *prometheus.HistogramVec
	nodes        *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	attempts     *prometheus.CounterVec
	revisions    *prometheus.CounterVec
}

type llmMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
}

type storeMetrics struct {
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	dbOpen      *prometheus.GaugeVec
	dbIdle      *prometheus.GaugeVec
	dbQuery     *prometheus.HistogramVec
}

// Collector Prometheus 指标收集器。嵌入 NopObserver 并实现其中的
// 步骤、节点、评审与运行回调，可直接交给 workflow.WithObserver。
type Collector struct {
	workflow.NopObserver

	http     httpMetrics
	workflow workflowMetrics
	llm      llmMetrics
	store    storeMetrics
}

// vecs 给定 namespace/subsystem 的构造器
type vecs struct {
	f         promauto.Factory
	namespace string
	subsystem string
}

func (v vecs) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return v.f.NewCounterVec(prometheus.CounterOpts{
		Namespace: v.namespace, Subsystem: v.subsystem, Name: name, Help: help,
	}, labels)
}

func (v vecs) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return v.f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: v.namespace, Subsystem: v.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

func (v vecs) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return v.f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: v.namespace, Subsystem: v.subsystem, Name: name, Help: help,
	}, labels)
}

// NewCollector 创建收集器并注册到 reg（nil 时用默认 Registerer）。
// 同一 reg 上重复创建会 panic。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	sub := func(subsystem string) vecs { return vecs{f: f, namespace: namespace, subsystem: subsystem} }

	h := sub("http")
	w := sub("workflow")
	l := sub("llm")
	ch := sub("cache")
	db := sub("db")

	c := &Collector{
		http: httpMetrics{
			requests:     h.counter("requests_total", "HTTP requests by status class.", "method", "path", "status"),
			duration:     h.histogram("request_duration_seconds", "HTTP request latency.", prometheus.DefBuckets, "method", "path"),
			requestSize:  h.histogram("request_size_bytes", "HTTP request body size.", sizeBuckets, "method", "path"),
			responseSize: h.histogram("response_size_bytes", "HTTP response body size.", sizeBuckets, "method", "path"),
		},
		workflow: workflowMetrics{
			runs:         w.counter("runs_total", "Workflow runs by final status.", "graph", "status"),
			runDuration:  w.histogram("run_duration_seconds", "Wall time of a workflow run.", runBuckets, "graph"),
			runSteps:     w.histogram("run_steps", "Supersteps taken by a workflow run.", stepBuckets, "graph"),
			frontier:     w.histogram("step_frontier_size", "Nodes scheduled in one superstep.", frontierBuckets, "graph"),
			nodes:        w.counter("node_executions_total", "Node executions by outcome.", "graph", "node", "status"),
			nodeDuration: w.histogram("node_duration_seconds", "Node execution latency.", nodeBuckets, "graph", "node"),
			attempts:     w.counter("node_attempts_total", "Node task attempts including retries.", "graph", "node"),
			revisions:    w.counter("revision_rounds_total", "Completed review rounds.", "graph", "reviewer", "forced"),
		},
		llm: llmMetrics{
			requests: l.counter("requests_total", "LLM completions by outcome.", "provider", "model", "status"),
			duration: l.histogram("request_duration_seconds", "LLM completion latency.", llmBuckets, "provider", "model"),
			tokens:   l.counter("tokens_used_total", "Tokens consumed, split into prompt and completion.", "provider", "model", "type"),
		},
		store: storeMetrics{
			cacheHits:   ch.counter("hits_total", "Cache hits.", "cache_type"),
			cacheMisses: ch.counter("misses_total", "Cache misses.", "cache_type"),
			dbOpen:      db.gauge("connections_open", "Open database connections.", "database"),
			dbIdle:      db.gauge("connections_idle", "Idle database connections.", "database"),
			dbQuery:     db.histogram("query_duration_seconds", "Database query latency.", prometheus.DefBuckets, "database", "operation"),
		},
	}

	if logger != nil {
		logger.Debug("metrics registered", zap.String("namespace", namespace))
	}
	return c
}

// RecordHTTPRequest 记录一次 HTTP 请求；path 应已归一化
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.http.requests.WithLabelValues(method, path, statusClass(status)).Inc()
	c.http.duration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.http.requestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.http.responseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

func (c *Collector) OnStepStart(_ context.Context, graph string, _ int, frontier []string) {
	c.workflow.frontier.WithLabelValues(graph).Observe(float64(len(frontier)))
}

// OnNodeComplete 计数所有结果；跳过和达到评审上限的节点没有执行，不记耗时
func (c *Collector) OnNodeComplete(_ context.Context, graph string, entry workflow.RunLogEntry) {
	c.workflow.nodes.WithLabelValues(graph, entry.Node, string(entry.Status)).Inc()
	switch entry.Status {
	case workflow.NodeStatusSkipped, workflow.NodeStatusRevisionLimit:
		return
	}
	c.workflow.nodeDuration.WithLabelValues(graph, entry.Node).Observe(entry.Duration.Seconds())
	if entry.Attempts > 0 {
		c.workflow.attempts.WithLabelValues(graph, entry.Node).Add(float64(entry.Attempts))
	}
}

func (c *Collector) OnRevision(_ context.Context, graph, reviewer string, _ int, forced bool) {
	c.workflow.revisions.WithLabelValues(graph, reviewer, strconv.FormatBool(forced)).Inc()
}

func (c *Collector) OnRunComplete(_ context.Context, log *workflow.RunLog) {
	if log == nil {
		return
	}
	c.workflow.runs.WithLabelValues(log.Graph, string(log.Status)).Inc()
	c.workflow.runDuration.WithLabelValues(log.Graph).Observe(log.Duration.Seconds())
	c.workflow.runSteps.WithLabelValues(log.Graph).Observe(float64(log.Steps))
}

// RecordLLMRequest 记录一次 LLM 调用
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llm.requests.WithLabelValues(provider, model, status).Inc()
	c.llm.duration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llm.tokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llm.tokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

func (c *Collector) RecordCacheHit(cacheType string) {
	c.store.cacheHits.WithLabelValues(cacheType).Inc()
}

func (c *Collector) RecordCacheMiss(cacheType string) {
	c.store.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections 更新连接池快照
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.store.dbOpen.WithLabelValues(database).Set(float64(open))
	c.store.dbIdle.WithLabelValues(database).Set(float64(idle))
}

func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.store.dbQuery.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// statusClass 把状态码折叠为 "2xx" 这样的类别
func statusClass(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
