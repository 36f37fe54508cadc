package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/graphflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/graphflow/llm"

// Recorder receives one sample per completion. *metrics.Collector satisfies it.
type Recorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// InstrumentedProvider wraps a Provider with a span per call, otel
// instruments on the global MeterProvider and an optional Recorder.
type InstrumentedProvider struct {
	inner    Provider
	tracer   trace.Tracer
	recorder Recorder

	calls     metric.Int64Counter
	failures  metric.Int64Counter
	tokens    metric.Int64Counter
	cacheHits metric.Int64Counter
	latency   metric.Float64Histogram
}

func NewInstrumentedProvider(inner Provider) (*InstrumentedProvider, error) {
	meter := otel.Meter(instrumentationName)
	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}

	latency, err := meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	errs = append(errs, err)

	p := &InstrumentedProvider{
		inner:     inner,
		tracer:    otel.Tracer(instrumentationName),
		calls:     counter("llm.request.total", "LLM requests", "{request}"),
		failures:  counter("llm.error.total", "Failed LLM requests", "{error}"),
		tokens:    counter("llm.token.total", "Tokens consumed", "{token}"),
		cacheHits: counter("llm.cache.hit.total", "Responses served from cache", "{hit}"),
		latency:   latency,
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("llm: otel instruments: %w", err)
	}
	return p, nil
}

// WithRecorder also reports every call to r.
func (p *InstrumentedProvider) WithRecorder(r Recorder) *InstrumentedProvider {
	p.recorder = r
	return p
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

// spanAttributes tags the span with the workflow position found in ctx.
func spanAttributes(ctx context.Context, provider, model string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	}
	if id, ok := types.RunID(ctx); ok {
		attrs = append(attrs, attribute.String("workflow.run_id", id))
	}
	if node, ok := types.NodeName(ctx); ok {
		attrs = append(attrs, attribute.String("workflow.node", node))
	}
	return attrs
}

func (p *InstrumentedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	req = ResolveModel(ctx, req)
	name := p.inner.Name()

	ctx, span := p.tracer.Start(ctx, "llm.completion", trace.WithAttributes(spanAttributes(ctx, name, req.Model)...))
	defer span.End()

	start := time.Now()
	resp, err := p.inner.Completion(ctx, req)
	p.observe(ctx, span, name, req.Model, time.Since(start), resp, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *InstrumentedProvider) observe(ctx context.Context, span trace.Span, name, model string, elapsed time.Duration, resp *ChatResponse, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	byProvider := attribute.String("provider", name)
	p.calls.Add(ctx, 1, metric.WithAttributes(byProvider, attribute.String("status", outcome)))
	p.latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(byProvider, attribute.String("status", outcome)))

	// cached responses cost no tokens
	var prompt, completion int
	if err == nil && !resp.Cached {
		prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	if p.recorder != nil {
		p.recorder.RecordLLMRequest(name, model, outcome, elapsed, prompt, completion)
	}

	switch {
	case err != nil:
		p.failures.Add(ctx, 1, metric.WithAttributes(byProvider,
			attribute.String("error_code", string(types.GetErrorCode(err)))))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	case resp.Cached:
		p.cacheHits.Add(ctx, 1, metric.WithAttributes(byProvider))
		span.SetAttributes(attribute.Bool("llm.cache_hit", true))
	case prompt+completion > 0:
		p.tokens.Add(ctx, int64(prompt), metric.WithAttributes(byProvider, attribute.String("type", "prompt")))
		p.tokens.Add(ctx, int64(completion), metric.WithAttributes(byProvider, attribute.String("type", "completion")))
	}
	span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
}
