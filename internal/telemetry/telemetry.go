package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/BaSui01/graphflow/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// WorkflowTracerName 工作流执行器使用的 tracer 名称
const WorkflowTracerName = "github.com/BaSui01/graphflow/workflow"

// 支持的导出器
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Providers 持有 SDK 的 TracerProvider 与 MeterProvider。
// 未启用遥测时两者都为 nil；stdout 导出器只产生 trace，mp 为 nil。
type Providers struct {
	tp       *sdktrace.TracerProvider
	mp       *sdkmetric.MeterProvider
	exporter string
}

// Init 按 cfg 初始化并注册全局 provider。cfg.Enabled 为 false 时返回
// noop Providers，不连接任何外部服务。version 为空时取构建信息中的版本。
func Init(ctx context.Context, cfg config.TelemetryConfig, version string, logger *zap.Logger) (*Providers, error) {
	return setup(ctx, cfg, version, os.Stdout, logger)
}

// setup 是 Init 的实现，stdout 导出器写入 out
func setup(ctx context.Context, cfg config.TelemetryConfig, version string, out io.Writer, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Providers{}, nil
	}
	if version == "" {
		version = buildVersion()
	}
	kind := cfg.Exporter
	if kind == "" {
		kind = ExporterOTLP
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	spans, err := newSpanExporter(ctx, kind, cfg, out)
	if err != nil {
		return nil, err
	}
	rate := clampRate(cfg.SampleRate)
	p := &Providers{
		exporter: kind,
		// 节点与 LLM 调用的子 span 跟随运行 span 的采样决定
		tp: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spans),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
		),
	}

	if kind == ExporterOTLP {
		mopts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			mopts = append(mopts, otlpmetricgrpc.WithInsecure())
		}
		metrics, err := otlpmetricgrpc.New(ctx, mopts...)
		if err != nil {
			_ = p.tp.Shutdown(ctx)
			return nil, fmt.Errorf("telemetry metric exporter: %w", err)
		}
		p.mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(p.mp)
	}

	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	logger.Info("telemetry enabled",
		zap.String("exporter", kind),
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service", cfg.ServiceName),
		zap.String("version", version),
		zap.Float64("sample_rate", rate))
	return p, nil
}

func newSpanExporter(ctx context.Context, kind string, cfg config.TelemetryConfig, out io.Writer) (sdktrace.SpanExporter, error) {
	switch kind {
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("telemetry stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry trace exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("telemetry: unsupported exporter %q", kind)
	}
}

// Enabled 是否有真实的导出器在运行
func (p *Providers) Enabled() bool {
	return p != nil && p.tp != nil
}

// Exporter 返回导出器名称；未启用时为空
func (p *Providers) Exporter() string {
	if p == nil {
		return ""
	}
	return p.exporter
}

// Tracer 返回工作流 tracer，未启用时返回 noop 实现
func (p *Providers) Tracer() trace.Tracer {
	if !p.Enabled() {
		return noop.NewTracerProvider().Tracer(WorkflowTracerName)
	}
	return p.tp.Tracer(WorkflowTracerName)
}

// Shutdown 刷出缓冲的 span 与指标并关闭导出器。nil 与 noop 上调用安全。
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		if err := p.tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func clampRate(r float64) float64 {
	return min(max(r, 0), 1)
}

// buildVersion 读取主模块版本，取不到时为 "dev"
func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "dev"
}
