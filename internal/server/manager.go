package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/graphflow/internal/tlsutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrServerClosed Shutdown 之后再 Start 返回
var ErrServerClosed = errors.New("server is closed")

// Config 监听地址、超时与可选的 TLS 证书
type Config struct {
	// ":0" 表示随机端口
	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	CertFile string `yaml:"cert_file" json:"cert_file"`
	KeyFile  string `yaml:"key_file" json:"key_file"`
}

// DefaultConfig 写超时按最长的发布流水线运行留足余量
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

// TLSEnabled 证书与私钥都配置时为 true
func (c Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateClosed
)

// Manager 一个 http.Server 的监听、服务与优雅关闭
type Manager struct {
	name   string
	cfg    Config
	srv    *http.Server
	logger *zap.Logger
	errCh  chan error

	mu    sync.Mutex
	state state
	ln    net.Listener
}

// NewManager name 只出现在日志里，如 "api"、"metrics"
func NewManager(name string, handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		ErrorLog:       zap.NewStdLog(logger.Named("net/http")),
	}
	if cfg.TLSEnabled() {
		srv.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	return &Manager{
		name:   name,
		cfg:    cfg,
		srv:    srv,
		logger: logger.With(zap.String("server", name)),
		errCh:  make(chan error, 1),
	}
}

// Start 绑定端口后在后台服务，立即返回。证书在监听前加载。
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateClosed:
		return ErrServerClosed
	case stateRunning:
		return fmt.Errorf("%s server already started", m.name)
	}

	tlsOn := m.cfg.TLSEnabled()
	if tlsOn {
		tlsCfg, err := tlsutil.ServerTLSConfig(m.cfg.CertFile, m.cfg.KeyFile)
		if err != nil {
			return err
		}
		m.srv.TLSConfig = tlsCfg
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%s server: listen %s: %w", m.name, m.cfg.Addr, err)
	}
	m.ln, m.state = ln, stateRunning
	m.logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.Bool("tls", tlsOn))

	go func() {
		var err error
		if tlsOn {
			err = m.srv.ServeTLS(ln, "", "")
		} else {
			err = m.srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("serve failed", zap.Error(err))
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Shutdown 在 ShutdownTimeout 内优雅关闭；重复调用返回 nil
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateClosed {
		return nil
	}
	m.state = stateClosed

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Error("shutdown incomplete", zap.Error(err))
		return err
	}
	m.logger.Info("stopped", zap.Duration("drain", time.Since(start)))
	return nil
}

// Serve Start 后阻塞，直到 ctx 取消（返回 nil）或服务异常（返回该错误），
// 两种情况都会优雅关闭。
func (m *Manager) Serve(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested", zap.NamedError("cause", context.Cause(ctx)))
	case serveErr = <-m.errCh:
	}

	if err := m.Shutdown(context.WithoutCancel(ctx)); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

// ServeAll 同时运行多个 Manager。任意一个异常退出会取消其余的，
// 返回第一个错误；ctx 取消时全部优雅关闭并返回 nil。
func ServeAll(ctx context.Context, managers ...*Manager) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range managers {
		if m == nil {
			continue
		}
		g.Go(func() error { return m.Serve(gctx) })
	}
	return g.Wait()
}

// Errors 异步服务错误，最多缓存一个
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 实际监听地址；未启动时为配置地址
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateRunning
}

// TLSConfig 未启用 TLS 时为 nil
func (m *Manager) TLSConfig() *tls.Config {
	return m.srv.TLSConfig
}
