package telemetry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/BaSui01/graphflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
)

// keepGlobals 恢复测试前的全局 provider
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func shutdown(t *testing.T, p *Providers) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return p.Shutdown(ctx)
}

func TestInit_Disabled(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(context.Background(), config.TelemetryConfig{}, "", zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Empty(t, p.Exporter())
	assert.Same(t, before, otel.GetTracerProvider())

	_, span := p.Tracer().Start(context.Background(), "workflow.run")
	assert.False(t, span.IsRecording())
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_StdoutWritesSpans(t *testing.T) {
	keepGlobals(t)
	var buf bytes.Buffer
	cfg := config.TelemetryConfig{
		Enabled:     true,
		Exporter:    ExporterStdout,
		ServiceName: "graphflow-stdout",
		SampleRate:  1,
	}

	p, err := setup(context.Background(), cfg, "v0.3.0", &buf, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, p.Enabled())
	assert.Equal(t, ExporterStdout, p.Exporter())
	assert.Nil(t, p.mp)

	_, span := p.Tracer().Start(context.Background(), "node.extract_entities")
	require.True(t, span.IsRecording())
	span.End()

	require.NoError(t, shutdown(t, p))
	out := buf.String()
	assert.Contains(t, out, "node.extract_entities")
	assert.Contains(t, out, "graphflow-stdout")
	assert.Contains(t, out, "v0.3.0")
}

func TestSetup_ZeroSampleRateDropsRootSpans(t *testing.T) {
	keepGlobals(t)
	var buf bytes.Buffer
	cfg := config.TelemetryConfig{Enabled: true, Exporter: ExporterStdout, ServiceName: "graphflow"}

	p, err := setup(context.Background(), cfg, "", &buf, nil)
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "workflow.run")
	assert.False(t, span.IsRecording())
	span.End()

	require.NoError(t, shutdown(t, p))
	assert.NotContains(t, buf.String(), "workflow.run")
}

func TestInit_OTLPRegistersGlobals(t *testing.T) {
	keepGlobals(t)
	cfg := config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "graphflow-otlp",
		SampleRate:   1,
	}

	p, err := Init(context.Background(), cfg, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(t, p) })

	assert.Equal(t, ExporterOTLP, p.Exporter(), "empty exporter defaults to otlp")
	_, isSDKTracer := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, isSDKMeter := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isSDKTracer)
	assert.True(t, isSDKMeter)
}

func TestInit_UnknownExporter(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	_, err := Init(context.Background(),
		config.TelemetryConfig{Enabled: true, Exporter: "zipkin"}, "", zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"zipkin"`)
	assert.Same(t, before, otel.GetTracerProvider())
}

func TestProviders_NilSafe(t *testing.T) {
	var p *Providers
	assert.False(t, p.Enabled())
	assert.Empty(t, p.Exporter())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestClampRate(t *testing.T) {
	for in, want := range map[float64]float64{-0.5: 0, 0: 0, 0.25: 0.25, 1: 1, 7: 1} {
		assert.Equal(t, want, clampRate(in), "clampRate(%v)", in)
	}
}

func TestBuildVersion(t *testing.T) {
	assert.Equal(t, "dev", buildVersion())
}
