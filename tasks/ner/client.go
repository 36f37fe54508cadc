package ner

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
	"github.com/BaSui01/graphflow/tasks/entity"
	"github.com/BaSui01/graphflow/types"
	"go.uber.org/zap"
)

const providerName = "ner"

// DefaultExcludedLabels drops labels that are rarely useful as tags.
var DefaultExcludedLabels = []string{"DATE", "CARDINAL"}

type Config struct {
	Endpoint       string
	Timeout        time.Duration
	ExcludedLabels []string
}

type request struct {
	Text string `json:"text"`
}

// Span is one recognised entity as returned by the service.
type Span struct {
	Text  string `json:"text"`
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type response struct {
	Entities []Span `json:"entities"`
}

// Client implements entity.Extractor. Requested entity types are ignored;
// the service labels with its own scheme.
type Client struct {
	endpoint string
	excluded map[string]struct{}
	http     *http.Client
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("ner endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	labels := cfg.ExcludedLabels
	if labels == nil {
		labels = DefaultExcludedLabels
	}
	excluded := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		excluded[strings.ToUpper(l)] = struct{}{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		excluded: excluded,
		http:     tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:   logger.With(zap.String("component", "ner")),
	}, nil
}

// Extract returns deduplicated entities with lowercased names, skipping
// excluded labels.
func (c *Client) Extract(ctx context.Context, text string, _ []string) ([]entity.Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	spans, err := c.recognize(ctx, text)
	if err != nil {
		return nil, err
	}

	out := make([]entity.Entity, 0, len(spans))
	for _, s := range spans {
		if _, skip := c.excluded[strings.ToUpper(s.Label)]; skip {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(s.Text))
		if name == "" {
			continue
		}
		out = append(out, entity.Entity{Name: name, Type: s.Label, Method: entity.MethodEncoder})
	}
	out = entity.Dedupe(out)

	c.logger.Debug("ner finished", zap.Int("spans", len(spans)), zap.Int("entities", len(out)))
	return out, nil
}

func (c *Client) recognize(ctx context.Context, text string) ([]Span, error) {
	payload, err := json.Marshal(request{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrServiceUnavailable, "ner service unreachable").
			WithCause(err).WithRetryable(ctx.Err() == nil).WithProvider(providerName)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, types.MapHTTPStatus(resp.StatusCode, strings.TrimSpace(string(msg)), providerName)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrDecodeFailed, "decode ner response").
			WithCause(err).WithProvider(providerName)
	}
	return out.Entities, nil
}
