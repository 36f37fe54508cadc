package publication

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/tasks/entity"
	"github.com/BaSui01/graphflow/tasks/websearch"
	"github.com/BaSui01/graphflow/workflow"
	"go.uber.org/zap"
)

// Reviewed components.
const (
	ComponentTLDR       = "tldr"
	ComponentTitle      = "title"
	ComponentReferences = "references"
)

// Components returns the reviewed component names sorted.
func Components() []string {
	return []string{ComponentReferences, ComponentTitle, ComponentTLDR}
}

// State fields.
const (
	FieldText            = "text"
	FieldManagerDecision = "manager_decision"
	FieldTLDR            = "tldr"
	FieldTitle           = "title"
	FieldTags            = "tags"
	FieldReferences      = "references"
	FieldReviewSummary   = "review_summary"
)

var (
	FeedbackTLDR       = workflow.FeedbackField(ComponentTLDR)
	FeedbackTitle      = workflow.FeedbackField(ComponentTitle)
	FeedbackReferences = workflow.FeedbackField(ComponentReferences)
)

// Reference is a selected web source.
type Reference struct {
	URL   string `json:"url" yaml:"url"`
	Title string `json:"title" yaml:"title"`
}

//go:embed graph.yaml
var defaultGraph []byte

// DefaultDefinition returns the built-in manager/reviewer graph definition.
func DefaultDefinition() (*workflow.Definition, error) {
	return workflow.ParseDefinition(defaultGraph)
}

// Schema returns the state schema of the publication graph, revision
// bookkeeping included.
func Schema() workflow.Schema {
	return workflow.NewSchema(
		workflow.Field{Name: FieldText, Default: ""},
		workflow.Field{Name: FieldManagerDecision, Default: ""},
		workflow.Field{Name: FieldTLDR, Default: []string{}},
		workflow.Field{Name: FieldTitle, Default: []string{}},
		workflow.Field{Name: FieldTags, Default: []string{}},
		workflow.Field{Name: FieldReferences, Default: []Reference{}},
		workflow.Field{Name: FieldReviewSummary, Default: ""},
	).Extend(workflow.RevisionFields(Components()...)...)
}

// Searcher is the web search collaborator of the references node.
// *websearch.Client implements it.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error)
	FetchAll(ctx context.Context, urls []string, limit int) []websearch.Page
}

// Deps holds the collaborators the node kinds are resolved against.
type Deps struct {
	LLM llm.Provider
	// Tags extracts tag entities, usually a nested extraction pipeline.
	Tags   entity.Extractor
	Search Searcher
}

// Config tunes the pipeline.
type Config struct {
	// MaxRounds overrides the definition's revision ceiling when positive.
	MaxRounds       int
	MaxTLDR         int
	MaxTitles       int
	MaxQueries      int
	ResultsPerQuery int
	MaxPages        int
	// PreviewChars is how much of the text the manager sees.
	PreviewChars int
	// PageChars caps each fetched page in the selection prompt.
	PageChars      int
	TagEntityTypes []string
	Model          string
	Temperature    float32
	MaxTokens      int
	RetryBackoff   time.Duration
}

// DefaultConfig returns the defaults used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		MaxTLDR:         3,
		MaxTitles:       3,
		MaxQueries:      5,
		ResultsPerQuery: 3,
		MaxPages:        20,
		PreviewChars:    500,
		PageChars:       4000,
		TagEntityTypes:  []string{"Framework", "Model", "Dataset"},
		MaxTokens:       2048,
		RetryBackoff:    time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTLDR <= 0 {
		c.MaxTLDR = d.MaxTLDR
	}
	if c.MaxTitles <= 0 {
		c.MaxTitles = d.MaxTitles
	}
	if c.MaxQueries <= 0 {
		c.MaxQueries = d.MaxQueries
	}
	if c.ResultsPerQuery <= 0 {
		c.ResultsPerQuery = d.ResultsPerQuery
	}
	if c.MaxPages <= 0 {
		c.MaxPages = d.MaxPages
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = d.PreviewChars
	}
	if c.PageChars <= 0 {
		c.PageChars = d.PageChars
	}
	if len(c.TagEntityTypes) == 0 {
		c.TagEntityTypes = d.TagEntityTypes
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	return c
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDefinition replaces the built-in graph definition.
func WithDefinition(def *workflow.Definition) Option {
	return func(p *Pipeline) { p.def = def }
}

// WithExecutorOptions passes options to the executor used by Run.
func WithExecutorOptions(opts ...workflow.Option) Option {
	return func(p *Pipeline) { p.execOpts = append(p.execOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Pipeline is a built publication graph ready to run.
type Pipeline struct {
	cfg      Config
	def      *workflow.Definition
	graph    *workflow.Graph
	executor *workflow.Executor
	execOpts []workflow.Option
	logger   *zap.Logger
}

// Result is the publication info produced by one run.
type Result struct {
	ManagerDecision string
	TLDR            []string
	Title           []string
	Tags            []string
	References      []Reference
	Feedback        map[string]string
	ReviewSummary   string
	Rounds          int
	// RevisionLimited reports whether approvals were forced.
	RevisionLimited bool
	Run             *workflow.Result
}

// New builds the publication graph.
func New(cfg Config, deps Deps, opts ...Option) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	p := &Pipeline{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "publication_pipeline"))

	if p.def == nil {
		def, err := DefaultDefinition()
		if err != nil {
			return nil, fmt.Errorf("parse built-in publication graph: %w", err)
		}
		p.def = def
	}
	if cfg.MaxRounds > 0 && p.def.Revision != nil {
		def := *p.def
		rev := *def.Revision
		rev.MaxRounds = cfg.MaxRounds
		def.Revision = &rev
		p.def = &def
	}
	if p.def.Revision != nil {
		p.cfg.MaxRounds = p.def.Revision.MaxRounds
	}

	r := &resolver{deps: deps, cfg: p.cfg, logger: p.logger}
	g, err := p.def.Build(Schema(), r, p.logger)
	if err != nil {
		return nil, err
	}
	p.graph = g
	p.executor = workflow.NewExecutor(append([]workflow.Option{workflow.WithLogger(p.logger)}, p.execOpts...)...)
	return p, nil
}

// Graph returns the built graph.
func (p *Pipeline) Graph() *workflow.Graph { return p.graph }

// Definition returns the definition the graph was built from.
func (p *Pipeline) Definition() *workflow.Definition { return p.def }

// Run generates publication info for text.
func (p *Pipeline) Run(ctx context.Context, text string) (*Result, error) {
	res, err := p.executor.Run(ctx, p.graph, map[string]any{FieldText: text})
	if err != nil {
		return nil, err
	}
	s := res.State
	out := &Result{
		ManagerDecision: workflow.GetOr(s, FieldManagerDecision, ""),
		TLDR:            workflow.GetOr(s, FieldTLDR, []string{}),
		Title:           workflow.GetOr(s, FieldTitle, []string{}),
		Tags:            workflow.GetOr(s, FieldTags, []string{}),
		References:      workflow.GetOr(s, FieldReferences, []Reference{}),
		ReviewSummary:   workflow.GetOr(s, FieldReviewSummary, ""),
		Rounds:          workflow.GetOr(s, workflow.FieldRevisionRound, 0),
		RevisionLimited: len(res.Log.ByStatus(workflow.NodeStatusRevisionLimit)) > 0,
		Feedback:        make(map[string]string, len(Components())),
		Run:             res,
	}
	for _, c := range Components() {
		out.Feedback[c] = workflow.GetOr(s, workflow.FeedbackField(c), "")
	}
	return out, nil
}
