// Package websearch queries a Tavily-compatible search API and fetches the
// result pages as plain text.
package websearch

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
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const providerName = "websearch"

type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	// RateLimit is search requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int
	// MaxPageBytes caps how much of each fetched page is read.
	MaxPageBytes int64
	// FetchConcurrency bounds parallel page fetches.
	FetchConcurrency int
}

// Result is a single search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Page is a fetched document reduced to text.
type Page struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type searchRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth,omitempty"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Client talks to the search API and to arbitrary result pages.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("search endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxPageBytes <= 0 {
		cfg.MaxPageBytes = 2 << 20
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.Burst))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    tlsutil.SecureHTTPClient(cfg.Timeout),
		limiter: limiter,
		logger:  logger.With(zap.String("component", "websearch")),
	}, nil
}

// Search returns up to maxResults hits for query.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewError(types.ErrInvalidInput, "empty search query").WithProvider(providerName)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search rate limiter: %w", err)
	}

	payload, err := json.Marshal(searchRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "search request failed").
			WithCause(err).WithRetryable(ctx.Err() == nil).WithProvider(providerName)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, types.MapHTTPStatus(resp.StatusCode, strings.TrimSpace(string(msg)), providerName)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrDecodeFailed, "decode search response").
			WithCause(err).WithProvider(providerName)
	}
	if maxResults > 0 && len(out.Results) > maxResults {
		out.Results = out.Results[:maxResults]
	}
	c.logger.Debug("search finished", zap.String("query", query), zap.Int("results", len(out.Results)))
	return out.Results, nil
}

// Fetch downloads url and extracts its readable text.
func (c *Client) Fetch(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.1")

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, types.NewError(types.ErrUpstreamError, "fetch "+url).
			WithCause(err).WithRetryable(ctx.Err() == nil).WithProvider(providerName)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Page{}, types.MapHTTPStatus(resp.StatusCode, "fetch "+url, providerName)
	}

	body := io.LimitReader(resp.Body, c.cfg.MaxPageBytes)
	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		data, err := io.ReadAll(body)
		if err != nil {
			return Page{}, fmt.Errorf("read %s: %w", url, err)
		}
		return Page{URL: url, Text: strings.TrimSpace(string(data))}, nil
	}

	title, text, err := ExtractText(body)
	if err != nil {
		return Page{}, fmt.Errorf("parse %s: %w", url, err)
	}
	return Page{URL: url, Title: title, Text: text}, nil
}

// FetchAll fetches up to limit urls concurrently, preserving input order.
// Pages that fail to load are logged and left out.
func (c *Client) FetchAll(ctx context.Context, urls []string, limit int) []Page {
	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	pages := make([]*Page, len(urls))

	var g errgroup.Group
	g.SetLimit(c.cfg.FetchConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			p, err := c.Fetch(ctx, u)
			if err != nil {
				c.logger.Warn("page fetch failed", zap.String("url", u), zap.Error(err))
				return nil
			}
			pages[i] = &p
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}
