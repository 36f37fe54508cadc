package server

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func randomPortConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.TLSEnabled())
}

func TestNewManager(t *testing.T) {
	m := NewManager("api", okHandler(), DefaultConfig(), nil)

	require.NotNil(t, m)
	assert.False(t, m.IsRunning())
	assert.Equal(t, ":8080", m.Addr())
	assert.Nil(t, m.TLSConfig())
}

func TestNewManager_TLSUsesHardenedConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CertFile, cfg.KeyFile = "cert.pem", "key.pem"
	m := NewManager("api", okHandler(), cfg, zap.NewNop())

	require.NotNil(t, m.TLSConfig())
	assert.GreaterOrEqual(t, m.TLSConfig().MinVersion, uint16(tls.VersionTLS12))
}

func TestManager_StartFailsOnMissingCertificate(t *testing.T) {
	cfg := randomPortConfig()
	cfg.CertFile, cfg.KeyFile = "/nonexistent/cert.pem", "/nonexistent/key.pem"
	m := NewManager("api", okHandler(), cfg, zap.NewNop())

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tls key pair")
	assert.False(t, m.IsRunning())
}

func TestManager_StartAndShutdown(t *testing.T) {
	m := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.True(t, m.IsRunning())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	assert.Error(t, m.Start())
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	m := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())
	require.NoError(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartAfterShutdown(t *testing.T) {
	m := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())
	require.NoError(t, m.Shutdown(context.Background()))

	assert.ErrorIs(t, m.Start(), ErrServerClosed)
}

func TestManager_ListenFailureReported(t *testing.T) {
	first := NewManager("a", okHandler(), randomPortConfig(), zap.NewNop())
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	cfg := randomPortConfig()
	cfg.Addr = first.Addr()
	second := NewManager("b", okHandler(), cfg, zap.NewNop())
	err := second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen "+first.Addr())
}

func TestManager_ServeStopsOnCancel(t *testing.T) {
	m := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx) }()

	require.Eventually(t, m.IsRunning, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.False(t, m.IsRunning())
}

func TestManager_ServeAfterShutdownFails(t *testing.T) {
	m := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())
	require.NoError(t, m.Shutdown(context.Background()))

	assert.ErrorIs(t, m.Serve(context.Background()), ErrServerClosed)
}

func TestManager_ErrorsChannel(t *testing.T) {
	m := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())
	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected error before start: %v", err)
	default:
	}
}

func TestServeAll_StopsTogetherOnCancel(t *testing.T) {
	api := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())
	metrics := NewManager("metrics", okHandler(), randomPortConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- ServeAll(ctx, api, nil, metrics) }()

	require.Eventually(t, func() bool { return api.IsRunning() && metrics.IsRunning() },
		2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeAll did not return after cancel")
	}
	assert.False(t, api.IsRunning())
	assert.False(t, metrics.IsRunning())
}

func TestServeAll_StartFailureStopsOthers(t *testing.T) {
	api := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())
	require.NoError(t, api.Start())
	t.Cleanup(func() { _ = api.Shutdown(context.Background()) })

	other := NewManager("other", okHandler(), randomPortConfig(), zap.NewNop())
	cfg := randomPortConfig()
	cfg.Addr = api.Addr()
	clash := NewManager("clash", okHandler(), cfg, zap.NewNop())

	err := ServeAll(context.Background(), other, clash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clash server")
	assert.False(t, other.IsRunning())
}
