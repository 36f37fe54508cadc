package llmextract

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strings"
	"text/template"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/tasks/entity"
	"github.com/BaSui01/graphflow/tasks/textsplit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	// BatchSize is the number of entity types sent per request.
	BatchSize int
	// Workers bounds concurrent requests; 0 means max(1, NumCPU-2).
	Workers     int
	Model       string
	Temperature float32
	MaxTokens   int
}

// DefaultConfig mirrors the extraction defaults in config.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    4024,
		ChunkOverlap: 256,
		BatchSize:    10,
		MaxTokens:    2048,
	}
}

// DefaultWorkers leaves two CPUs for the rest of the process.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-2)
}

var promptTemplate = template.Must(template.New("extract").Parse(`You are an expert at named entity recognition.
Extract every entity mentioned in the text that belongs to one of the listed entity types.
For each entity return its name exactly as written, its type and a short description.
If an entity does not clearly fit any listed type, use the type "{{.None}}".
Respond with a JSON object of the form {"entities": [{"name": "...", "type": "...", "description": "..."}]}.
The list may be empty.

<text>
{{.Text}}
</text>
<entity_types>
{{range .Types}}- {{.}}
{{end}}</entity_types>
`))

type promptData struct {
	Text  string
	Types []string
	None  string
}

type extraction struct {
	Entities []entity.Entity `json:"entities"`
}

// Extractor implements entity.Extractor on top of an llm.Provider.
type Extractor struct {
	provider llm.Provider
	splitter *textsplit.Splitter
	cfg      Config
	logger   *zap.Logger
}

// New validates cfg and builds an extractor.
func New(provider llm.Provider, cfg Config, logger *zap.Logger) (*Extractor, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("entity batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	splitter, err := textsplit.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		provider: provider,
		splitter: splitter,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "llm_extractor")),
	}, nil
}

type job struct {
	chunk int
	text  string
	types []string
}

// Extract runs one request per (chunk, type batch). Failed requests are
// logged and skipped; the call fails only when every request failed.
// Names are lowercased and "none of the above" entities are dropped.
func (e *Extractor) Extract(ctx context.Context, text string, types []string) ([]entity.Entity, error) {
	if len(types) == 0 {
		return nil, nil
	}
	chunks := e.splitter.Split(text)
	if len(chunks) == 0 {
		return nil, nil
	}

	var jobs []job
	for i, c := range chunks {
		for start := 0; start < len(types); start += e.cfg.BatchSize {
			end := min(start+e.cfg.BatchSize, len(types))
			jobs = append(jobs, job{chunk: i, text: c, types: types[start:end]})
		}
	}

	results := make([][]entity.Entity, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, j := range jobs {
		g.Go(func() error {
			results[i], errs[i] = e.extractChunk(ctx, j)
			return nil
		})
	}
	_ = g.Wait()

	var (
		out      []entity.Entity
		failed   int
		firstErr error
	)
	for i, err := range errs {
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			e.logger.Warn("extraction request failed",
				zap.Int("chunk", jobs[i].chunk),
				zap.Strings("types", jobs[i].types),
				zap.Error(err))
			continue
		}
		out = append(out, results[i]...)
	}
	if failed == len(jobs) {
		return nil, fmt.Errorf("all %d extraction requests failed: %w", failed, firstErr)
	}

	e.logger.Debug("llm extraction finished",
		zap.Int("chunks", len(chunks)),
		zap.Int("requests", len(jobs)),
		zap.Int("failed", failed),
		zap.Int("entities", len(out)))
	return out, nil
}

func (e *Extractor) extractChunk(ctx context.Context, j job) ([]entity.Entity, error) {
	var buf bytes.Buffer
	err := promptTemplate.Execute(&buf, promptData{
		Text:  j.text,
		Types: append(append([]string(nil), j.types...), entity.NoneOfTheAbove),
		None:  entity.NoneOfTheAbove,
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	var parsed extraction
	_, err = llm.CompleteJSON(ctx, e.provider, &llm.ChatRequest{
		Model:       e.cfg.Model,
		Messages:    []llm.Message{llm.UserMessage(buf.String())},
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	}, &parsed)
	if err != nil {
		return nil, err
	}

	out := make([]entity.Entity, 0, len(parsed.Entities))
	for _, ent := range parsed.Entities {
		if strings.EqualFold(strings.TrimSpace(ent.Type), entity.NoneOfTheAbove) || strings.TrimSpace(ent.Name) == "" {
			continue
		}
		ent.Name = strings.ToLower(strings.TrimSpace(ent.Name))
		ent.Method = entity.MethodLLM
		out = append(out, ent)
	}
	return out, nil
}
