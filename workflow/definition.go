package workflow

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Definition is the declarative form of a graph. Node kinds are names from
// a closed set owned by the pipeline that resolves them; nothing is looked
// up in a global registry.
type Definition struct {
	Name     string              `yaml:"name" json:"name"`
	Nodes    []NodeDefinition    `yaml:"nodes" json:"nodes"`
	Edges    []EdgeDefinition    `yaml:"edges" json:"edges"`
	Routers  []RouterDefinition  `yaml:"routers,omitempty" json:"routers,omitempty"`
	Revision *RevisionDefinition `yaml:"revision,omitempty" json:"revision,omitempty"`
}

// NodeDefinition declares one node.
type NodeDefinition struct {
	Name           string           `yaml:"name" json:"name"`
	Kind           string           `yaml:"kind" json:"kind"`
	Timeout        time.Duration    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retry          *RetryDefinition `yaml:"retry,omitempty" json:"retry,omitempty"`
	Reads          []string         `yaml:"reads,omitempty" json:"reads,omitempty"`
	Writes         []string         `yaml:"writes,omitempty" json:"writes,omitempty"`
	SkipIfApproved string           `yaml:"skip_if_approved,omitempty" json:"skip_if_approved,omitempty"`
}

// RetryDefinition is the declarative form of RetryPolicy.
type RetryDefinition struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty" json:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty" json:"max_backoff,omitempty"`
	Multiplier     float64       `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
}

// EdgeDefinition declares an unconditional edge. START and END are spelled
// as the reserved names.
type EdgeDefinition struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// RouterDefinition declares conditional edges out of From.
type RouterDefinition struct {
	From    string   `yaml:"from" json:"from"`
	Kind    string   `yaml:"kind" json:"kind"`
	Targets []string `yaml:"targets" json:"targets"`
}

// RevisionDefinition binds a revision loop to a reviewer.
type RevisionDefinition struct {
	Reviewer   string                `yaml:"reviewer" json:"reviewer"`
	MaxRounds  int                   `yaml:"max_rounds" json:"max_rounds"`
	Components []ComponentDefinition `yaml:"components" json:"components"`
}

// ComponentDefinition maps a reviewed component to its generator node.
type ComponentDefinition struct {
	Name string `yaml:"name" json:"name"`
	Node string `yaml:"node" json:"node"`
}

// NodeSpec is what a resolver produces for a node kind.
type NodeSpec struct {
	Task    TaskFunc
	Options []NodeOption
}

// Resolver maps kind names onto implementations at build time.
// Implementations return an error for kinds outside their closed set.
type Resolver interface {
	ResolveNode(kind string) (NodeSpec, error)
	ResolveRouter(kind string) (RouterFunc, error)
}

// ParseDefinition decodes a YAML (or JSON) definition. Unknown keys are
// rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to decode graph definition: %w", err)
	}
	return &def, nil
}

// LoadDefinitionFile reads and decodes a definition file.
func LoadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph definition: %w", err)
	}
	return ParseDefinition(data)
}

// YAML encodes the definition.
func (d *Definition) YAML() ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph definition: %w", err)
	}
	return data, nil
}

// Build resolves every kind and validates the resulting graph.
func (d *Definition) Build(schema Schema, r Resolver, logger *zap.Logger) (*Graph, error) {
	if d.Name == "" {
		return nil, &GraphValidationError{Reason: "definition has no name"}
	}
	b := NewGraphBuilder(d.Name, schema).WithLogger(logger)

	for _, nd := range d.Nodes {
		spec, err := r.ResolveNode(nd.Kind)
		if err != nil {
			return nil, &GraphValidationError{Node: nd.Name, Reason: err.Error()}
		}
		opts := append([]NodeOption(nil), spec.Options...)
		if nd.Timeout > 0 {
			opts = append(opts, WithTimeout(nd.Timeout))
		}
		if nd.Retry != nil {
			p := resolvedRetry(spec.Options)
			p.MaxAttempts = nd.Retry.MaxAttempts
			if nd.Retry.InitialBackoff > 0 {
				p.InitialBackoff = nd.Retry.InitialBackoff
			}
			if nd.Retry.MaxBackoff > 0 {
				p.MaxBackoff = nd.Retry.MaxBackoff
			}
			if nd.Retry.Multiplier > 0 {
				p.Multiplier = nd.Retry.Multiplier
			}
			opts = append(opts, WithRetry(p))
		}
		if len(nd.Reads) > 0 {
			opts = append(opts, WithReads(nd.Reads...))
		}
		if len(nd.Writes) > 0 {
			opts = append(opts, WithWrites(nd.Writes...))
		}
		if nd.SkipIfApproved != "" {
			opts = append(opts, WithSkip(SkipIfApproved(nd.SkipIfApproved)))
		}
		b.AddNode(nd.Name, spec.Task, opts...)
	}

	for _, ed := range d.Edges {
		b.AddEdge(ed.From, ed.To)
	}

	for _, rd := range d.Routers {
		router, err := r.ResolveRouter(rd.Kind)
		if err != nil {
			return nil, &GraphValidationError{Node: rd.From, Reason: err.Error()}
		}
		b.AddConditionalEdges(rd.From, router, rd.Targets...)
	}

	if rev := d.Revision; rev != nil {
		components := make([]Component, len(rev.Components))
		for i, c := range rev.Components {
			components[i] = Component{Name: c.Name, Node: c.Node}
		}
		b.AddRevisionLoop(rev.Reviewer, NewRevisionController(rev.MaxRounds, components...))
	}

	return b.Build()
}

// resolvedRetry returns the retry policy the resolver attached, so a
// declared retry block tunes it instead of dropping its RetryIf.
func resolvedRetry(opts []NodeOption) RetryPolicy {
	probe := &Node{}
	for _, o := range opts {
		o(probe)
	}
	if probe.Retry != nil {
		return *probe.Retry
	}
	return DefaultRetryPolicy()
}
