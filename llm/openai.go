package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/graphflow/internal/tlsutil"
	"github.com/BaSui01/graphflow/types"
	"go.uber.org/zap"
)

// Config describes an endpoint that speaks the OpenAI chat completions wire
// format (OpenAI, DeepSeek, Qwen, vLLM, Ollama ...). BaseURL carries the
// version segment, e.g. "https://api.openai.com/v1".
type Config struct {
	ProviderName string
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration

	// Defaults: /chat/completions and /models.
	EndpointPath   string
	ModelsEndpoint string
}

func (c *Config) setDefaults() {
	if c.ProviderName == "" {
		c.ProviderName = "openai"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.EndpointPath == "" {
		c.EndpointPath = "/chat/completions"
	}
	if c.ModelsEndpoint == "" {
		c.ModelsEndpoint = "/models"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

type OpenAIProvider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func NewOpenAIProvider(cfg Config, logger *zap.Logger) *OpenAIProvider {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "llm"), zap.String("provider", cfg.ProviderName)),
	}
}

func (p *OpenAIProvider) Name() string { return p.cfg.ProviderName }

// HealthCheck lists models; any 2xx counts as reachable.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	return p.call(ctx, http.MethodGet, p.cfg.ModelsEndpoint, nil, nil)
}

// completionBody is the upstream response; only the fields we keep.
type completionBody struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Created int64        `json:"created"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// Completion sends a non-streaming request. The model is taken from ctx
// first, then req, then Config.DefaultModel.
func (p *OpenAIProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "chat request has no messages").WithProvider(p.Name())
	}
	body := *ResolveModel(ctx, req)
	if body.Model == "" {
		body.Model = p.cfg.DefaultModel
	}

	start := time.Now()
	var out completionBody
	if err := p.call(ctx, http.MethodPost, p.cfg.EndpointPath, &body, &out); err != nil {
		p.logger.Warn("completion failed", zap.String("model", body.Model), zap.Error(err))
		return nil, err
	}
	p.logger.Debug("completion finished",
		zap.String("model", out.Model),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)))

	created := time.Now()
	if out.Created > 0 {
		created = time.Unix(out.Created, 0)
	}
	return &ChatResponse{
		ID:        out.ID,
		Provider:  p.Name(),
		Model:     out.Model,
		Choices:   out.Choices,
		Usage:     out.Usage,
		CreatedAt: created,
	}, nil
}

// call sends in as JSON (when non-nil) and decodes a 2xx body into out
// (when non-nil). Every failure comes back as a *types.Error.
func (p *OpenAIProvider) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return types.NewError(types.ErrInvalidRequest, "encode request").WithCause(err).WithProvider(p.Name())
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "build request").WithCause(err).WithProvider(p.Name())
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// a cancelled caller is not worth retrying
		return p.upstream(fmt.Sprintf("%s %s", method, path), err, ctx.Err() == nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.MapHTTPStatus(resp.StatusCode, upstreamMessage(resp.Body), p.Name())
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return p.upstream("decode response", err, true)
	}
	return nil
}

func (p *OpenAIProvider) upstream(msg string, cause error, retryable bool) *types.Error {
	return types.NewError(types.ErrUpstreamError, msg).
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(retryable).
		WithProvider(p.Name())
}

// upstreamMessage understands {"error":{"message","type"}} and {"error":"..."};
// anything else is returned as trimmed text.
func upstreamMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "unreadable error response"
	}

	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(data, &env) == nil && len(env.Error) > 0 {
		var detail struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		}
		var plain string
		switch {
		case json.Unmarshal(env.Error, &detail) == nil && detail.Message != "":
			if detail.Type == "" {
				return detail.Message
			}
			return detail.Message + " (type: " + detail.Type + ")"
		case json.Unmarshal(env.Error, &plain) == nil && plain != "":
			return plain
		}
	}
	return strings.TrimSpace(string(data))
}
