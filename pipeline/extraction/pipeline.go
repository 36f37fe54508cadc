package extraction

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/tasks/entity"
	"github.com/BaSui01/graphflow/workflow"
	"go.uber.org/zap"
)

// State fields.
const (
	FieldText              = "text"
	FieldEntityTypes       = "entity_types"
	FieldLLMEntities       = "llm_entities"
	FieldNEREntities       = "ner_entities"
	FieldGazetteerEntities = "gazetteer_entities"
	FieldEntities          = "entities"
)

//go:embed graph.yaml
var defaultGraph []byte

// DefaultDefinition returns the built-in fan-out/fan-in graph definition.
func DefaultDefinition() (*workflow.Definition, error) {
	return workflow.ParseDefinition(defaultGraph)
}

// Schema returns the state schema shared by every extraction graph.
func Schema() workflow.Schema {
	return workflow.NewSchema(
		workflow.Field{Name: FieldText, Default: ""},
		workflow.Field{Name: FieldEntityTypes, Default: []string{}},
		workflow.Field{Name: FieldLLMEntities, Default: []entity.Entity{}},
		workflow.Field{Name: FieldNEREntities, Default: []entity.Entity{}},
		workflow.Field{Name: FieldGazetteerEntities, Default: []entity.Entity{}},
		workflow.Field{Name: FieldEntities, Default: []entity.Entity{}},
	)
}

// Deps holds the collaborators the node kinds are resolved against. A nil
// extractor makes its node fail and fall back to an empty result. A nil
// Aggregator selects entities without an LLM.
type Deps struct {
	LLM        entity.Extractor
	NER        entity.Extractor
	Gazetteer  entity.Extractor
	Aggregator llm.Provider
}

// Config tunes the pipeline.
type Config struct {
	EntityTypes []string
	MaxEntities int
	Model       string
	Temperature float32
	MaxTokens   int
}

// DefaultConfig returns the defaults used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		EntityTypes: []string{"Person", "Organization", "Location", "Framework", "Model", "Dataset"},
		MaxEntities: 5,
		MaxTokens:   2048,
	}
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

// Pipeline is a built extraction graph ready to run.
type Pipeline struct {
	cfg      Config
	def      *workflow.Definition
	graph    *workflow.Graph
	executor *workflow.Executor
	execOpts []workflow.Option
	logger   *zap.Logger
}

// Result is the outcome of one extraction run.
type Result struct {
	Entities          []entity.Entity
	LLMEntities       []entity.Entity
	NEREntities       []entity.Entity
	GazetteerEntities []entity.Entity
	Run               *workflow.Result
}

// New builds the extraction graph from the definition and deps.
func New(cfg Config, deps Deps, opts ...Option) (*Pipeline, error) {
	defaults := DefaultConfig()
	if len(cfg.EntityTypes) == 0 {
		cfg.EntityTypes = defaults.EntityTypes
	}
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = defaults.MaxEntities
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}

	p := &Pipeline{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(zap.String("component", "extraction_pipeline"))

	if p.def == nil {
		def, err := DefaultDefinition()
		if err != nil {
			return nil, fmt.Errorf("parse built-in extraction graph: %w", err)
		}
		p.def = def
	}

	r := &resolver{deps: deps, cfg: cfg, logger: p.logger}
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

// Run extracts entities from text. Empty types use the configured entity types.
func (p *Pipeline) Run(ctx context.Context, text string, types []string) (*Result, error) {
	if len(types) == 0 {
		types = p.cfg.EntityTypes
	}
	res, err := p.executor.Run(ctx, p.graph, map[string]any{
		FieldText:        text,
		FieldEntityTypes: append([]string(nil), types...),
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Entities:          workflow.GetOr(res.State, FieldEntities, []entity.Entity{}),
		LLMEntities:       workflow.GetOr(res.State, FieldLLMEntities, []entity.Entity{}),
		NEREntities:       workflow.GetOr(res.State, FieldNEREntities, []entity.Entity{}),
		GazetteerEntities: workflow.GetOr(res.State, FieldGazetteerEntities, []entity.Entity{}),
		Run:               res,
	}, nil
}

// Extract implements entity.Extractor so the pipeline can be nested in
// other graphs.
func (p *Pipeline) Extract(ctx context.Context, text string, types []string) ([]entity.Entity, error) {
	res, err := p.Run(ctx, text, types)
	if err != nil {
		return nil, err
	}
	return res.Entities, nil
}
