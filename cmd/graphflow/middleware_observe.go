package main

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/graphflow/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// 📈 Metrics
// =============================================================================

// MetricsMiddleware 记录请求耗时、状态码与请求/响应大小。
// 路径中的运行 ID 折叠为 ":id"，避免标签基数膨胀。
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := recordStatus(w)
			next.ServeHTTP(rec, r)

			collector.RecordHTTPRequest(r.Method, normalizePath(r.URL.Path), rec.Status(),
				time.Since(start), max(r.ContentLength, 0), rec.bytes)
		})
	}
}

// staticRoutes 不含动态段的路由，直接作为标签
var staticRoutes = map[string]struct{}{
	"/health": {}, "/healthz": {}, "/ready": {}, "/readyz": {}, "/version": {},
	"/api/v1/extract": {}, "/api/v1/publish": {}, "/api/v1/graphs": {}, "/api/v1/runs": {},
}

// idSegment 匹配 UUID、长十六进制串和纯数字
var idSegment = regexp.MustCompile(`^(?:[0-9a-fA-F]{8,}(?:-[0-9a-fA-F]{4,}){0,4}|[0-9]+)$`)

// normalizePath 把动态段替换为 ":id"；图名等可枚举的段保持原样：
//
//	/api/v1/runs/0b6c8f0e-3f4a-4c1e-9a51-2d7f0e1c9b3a -> /api/v1/runs/:id
//	/api/v1/graphs/entity_extraction                 -> /api/v1/graphs/entity_extraction
func normalizePath(path string) string {
	if _, ok := staticRoutes[path]; ok {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	for i, seg := range strings.Split(path, "/") {
		if i > 0 {
			b.WriteByte('/')
		}
		if seg != "" && idSegment.MatchString(seg) {
			b.WriteString(":id")
			continue
		}
		b.WriteString(seg)
	}
	return b.String()
}

// =============================================================================
// 🔭 Tracing
// =============================================================================

// OTelTracing 为每个请求开启 server span，并延续请求头中的 trace 上下文；
// 工作流运行的 span 挂在它下面。5xx 响应标记为 span 错误。
func OTelTracing() Middleware {
	tracer := otel.Tracer("graphflow/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			route := normalizePath(r.URL.Path)

			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			rec := recordStatus(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			status := rec.Status()
			span.SetAttributes(semconv.HTTPResponseStatusCode(status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}
