package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/BaSui01/graphflow/internal/cache"
	"go.uber.org/zap"
)

// Store is the subset of a key/value cache the provider wrapper needs.
// *cache.Manager satisfies it.
type Store interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedProvider 在 Provider 外包一层响应缓存，相同模型、消息、温度的请求
// 直接返回缓存结果。缓存读写失败只记录日志，不影响请求本身。
type CachedProvider struct {
	inner  Provider
	store  Store
	ttl    time.Duration
	logger *zap.Logger

	recorder CacheRecorder
}

// CacheRecorder counts hits and misses. *metrics.Collector satisfies it.
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// WithRecorder reports lookups to r.
func (c *CachedProvider) WithRecorder(r CacheRecorder) *CachedProvider {
	c.recorder = r
	return c
}

// NewCachedProvider wraps inner with store.
func NewCachedProvider(inner Provider, store Store, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		inner:  inner,
		store:  store,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "llm_cache")),
	}
}

func (c *CachedProvider) Name() string { return c.inner.Name() }

// Completion serves from cache when possible and fills it on a miss.
func (c *CachedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	req = ResolveModel(ctx, req)
	key := CacheKey(c.inner.Name(), req)

	var hit ChatResponse
	err := c.store.GetJSON(ctx, key, &hit)
	if err == nil {
		hit.Cached = true
		if c.recorder != nil {
			c.recorder.RecordCacheHit("llm")
		}
		return &hit, nil
	}
	if c.recorder != nil {
		c.recorder.RecordCacheMiss("llm")
	}
	if !cache.IsCacheMiss(err) {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	resp, err := c.inner.Completion(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.store.SetJSON(ctx, key, resp, c.ttl); err != nil {
		if errors.Is(err, cache.ErrValueTooLarge) {
			c.logger.Debug("response not cached", zap.String("key", key), zap.Error(err))
		} else {
			c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return resp, nil
}

// CacheKey derives a stable key from the fields that determine a completion.
func CacheKey(provider string, req *ChatRequest) string {
	data, _ := json.Marshal(struct {
		Provider       string          `json:"provider"`
		Model          string          `json:"model"`
		Messages       []Message       `json:"messages"`
		Temperature    float32         `json:"temperature"`
		MaxTokens      int             `json:"max_tokens"`
		ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	}{
		Provider:       provider,
		Model:          req.Model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: req.ResponseFormat,
	})
	hash := sha256.Sum256(data)
	return "llm:cache:" + hex.EncodeToString(hash[:16])
}
