package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/graphflow/internal/tlsutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrCacheMiss 键不存在或已过期
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed Manager 已关闭
	ErrClosed = errors.New("cache manager is closed")
	// ErrValueTooLarge 值超过 MaxValueBytes，未写入
	ErrValueTooLarge = errors.New("cache value too large")
)

// IsCacheMiss 判断 err 是否为未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Config Redis 连接与缓存策略
type Config struct {
	Addr         string `yaml:"addr" json:"addr"`
	Password     string `yaml:"password" json:"password"`
	DB           int    `yaml:"db" json:"db"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns"`
	MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
	TLSEnabled   bool   `yaml:"tls_enabled" json:"tls_enabled"`

	// 所有键都加上该前缀，避免与同库的其他服务冲突
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	// Set 传入 ttl 为 0 时使用
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
	// 0 表示不限制
	MaxValueBytes int `yaml:"max_value_bytes" json:"max_value_bytes"`
	// 建连时的 PING 超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	// 0 关闭后台探活
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		PoolSize:            10,
		MinIdleConns:        2,
		MaxRetries:          3,
		KeyPrefix:           "graphflow:",
		DefaultTTL:          24 * time.Hour,
		MaxValueBytes:       1 << 20,
		ConnectTimeout:      5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

func (c Config) redisOptions() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
	}
	if c.TLSEnabled {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	return opts
}

// Manager Redis 上的键值缓存，LLM 响应缓存的存储层。
// 关闭后所有调用返回 ErrClosed。
type Manager struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	hits, misses atomic.Uint64
	healthy      atomic.Bool
}

// NewManager 连接 Redis 并在 cfg.ConnectTimeout 内完成一次 PING
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	client := redis.NewClient(cfg.redisOptions())
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
		done:   make(chan struct{}),
	}
	m.healthy.Store(true)
	if cfg.HealthCheckInterval > 0 {
		go m.watch(cfg.HealthCheckInterval)
	}

	m.logger.Info("cache connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("key_prefix", cfg.KeyPrefix))
	return m, nil
}

func (m *Manager) key(k string) string { return m.cfg.KeyPrefix + k }

// Get 读取字符串值，不存在时返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	val, err := m.client.Get(ctx, m.key(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		m.misses.Add(1)
		return "", ErrCacheMiss
	case err != nil:
		return "", fmt.Errorf("cache get %q: %w", key, err)
	}
	m.hits.Add(1)
	return val, nil
}

// Set 写入字符串值。ttl 为 0 时使用 DefaultTTL。
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if limit := m.cfg.MaxValueBytes; limit > 0 && len(value) > limit {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrValueTooLarge, len(value), limit)
	}
	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}
	if err := m.client.Set(ctx, m.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// GetJSON 读取并解码 JSON 值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	raw, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("cache decode %q: %w", key, err)
	}
	return nil
}

// SetJSON 编码为 JSON 后写入
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	return m.Set(ctx, key, string(raw), ttl)
}

// Ping 探测 Redis 连通性
func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// Healthy 最近一次后台探活的结果
func (m *Manager) Healthy() bool {
	return m.healthy.Load()
}

// Counts 返回进程内累计的命中与未命中次数
func (m *Manager) Counts() (hits, misses uint64) {
	return m.hits.Load(), m.misses.Load()
}

// Close 停止探活并关闭连接，可重复调用
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
		hits, misses := m.Counts()
		m.logger.Info("cache closed", zap.Uint64("hits", hits), zap.Uint64("misses", misses))
		err = m.client.Close()
	})
	return err
}

// watch 定期 PING，只在状态翻转时记日志
func (m *Manager) watch(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		err := m.Ping(ctx)
		cancel()
		if errors.Is(err, ErrClosed) {
			return
		}

		ok := err == nil
		if m.healthy.Swap(ok) == ok {
			continue
		}
		if ok {
			m.logger.Info("cache reachable again")
		} else {
			m.logger.Warn("cache unreachable", zap.Error(err))
		}
	}
}
