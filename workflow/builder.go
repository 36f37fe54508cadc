package workflow

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// GraphBuilder assembles and validates a Graph.
type GraphBuilder struct {
	name      string
	schema    Schema
	nodes     map[string]*Node
	order     []string
	edges     map[string][]string
	routers   map[string]*conditional
	revisions map[string]*RevisionController
	errs      []error
	logger    *zap.Logger
}

// NewGraphBuilder starts a graph over schema.
func NewGraphBuilder(name string, schema Schema) *GraphBuilder {
	return &GraphBuilder{
		name:      name,
		schema:    schema,
		nodes:     make(map[string]*Node),
		edges:     make(map[string][]string),
		routers:   make(map[string]*conditional),
		revisions: make(map[string]*RevisionController),
		logger:    zap.NewNop(),
	}
}

// WithLogger sets the logger used while building.
func (b *GraphBuilder) WithLogger(logger *zap.Logger) *GraphBuilder {
	if logger != nil {
		b.logger = logger.With(zap.String("component", "graph_builder"))
	}
	return b
}

// AddNode registers a node.
func (b *GraphBuilder) AddNode(name string, task TaskFunc, opts ...NodeOption) *GraphBuilder {
	switch {
	case name == "":
		b.errs = append(b.errs, &GraphValidationError{Reason: "node name cannot be empty"})
		return b
	case name == START || name == END:
		b.errs = append(b.errs, &GraphValidationError{Node: name, Reason: "node name is reserved"})
		return b
	case task == nil:
		b.errs = append(b.errs, &GraphValidationError{Node: name, Reason: "node has no task"})
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.errs = append(b.errs, &GraphValidationError{Node: name, Reason: "duplicate node"})
		return b
	}
	n := &Node{Name: name, Task: task}
	for _, opt := range opts {
		opt(n)
	}
	b.nodes[name] = n
	b.order = append(b.order, name)
	return b
}

// AddEdge adds an unconditional edge. from may be START, to may be END.
func (b *GraphBuilder) AddEdge(from, to string) *GraphBuilder {
	for _, existing := range b.edges[from] {
		if existing == to {
			b.errs = append(b.errs, &GraphValidationError{Edge: edgeName(from, to), Reason: "duplicate edge"})
			return b
		}
	}
	b.edges[from] = append(b.edges[from], to)
	return b
}

// AddConditionalEdges attaches a router to from. targets is the closed set
// of names the router may return; END is allowed.
func (b *GraphBuilder) AddConditionalEdges(from string, router RouterFunc, targets ...string) *GraphBuilder {
	if router == nil {
		b.errs = append(b.errs, &GraphValidationError{Node: from, Reason: "router cannot be nil"})
		return b
	}
	return b.addConditional(from, router, targets)
}

// AddRevisionLoop binds rc to the outgoing edge of reviewer. The loop's
// targets are the component nodes plus END.
func (b *GraphBuilder) AddRevisionLoop(reviewer string, rc *RevisionController) *GraphBuilder {
	if rc == nil {
		b.errs = append(b.errs, &GraphValidationError{Node: reviewer, Reason: "revision controller cannot be nil"})
		return b
	}
	b.revisions[reviewer] = rc
	return b.addConditional(reviewer, nil, rc.targets())
}

func (b *GraphBuilder) addConditional(from string, router RouterFunc, targets []string) *GraphBuilder {
	if _, exists := b.routers[from]; exists {
		b.errs = append(b.errs, &GraphValidationError{Node: from, Reason: "node already has a router"})
		return b
	}
	if len(targets) == 0 {
		b.errs = append(b.errs, &GraphValidationError{Node: from, Reason: "router declares no targets"})
		return b
	}
	c := &conditional{router: router, allowed: make(map[string]bool, len(targets))}
	for _, t := range targets {
		if c.allowed[t] {
			continue
		}
		c.allowed[t] = true
		c.targets = append(c.targets, t)
	}
	b.routers[from] = c
	return b
}

// Build validates the graph and freezes it.
func (b *GraphBuilder) Build() (*Graph, error) {
	if err := b.validate(); err != nil {
		b.logger.Debug("graph validation failed", zap.String("graph", b.name), zap.Error(err))
		return nil, err
	}

	g := &Graph{
		name:      b.name,
		schema:    b.schema,
		nodes:     make(map[string]*Node, len(b.nodes)),
		order:     append([]string(nil), b.order...),
		edges:     make(map[string][]string, len(b.edges)),
		routers:   make(map[string]*conditional, len(b.routers)),
		revisions: make(map[string]*RevisionController, len(b.revisions)),
	}
	for k, n := range b.nodes {
		cp := *n
		g.nodes[k] = &cp
	}
	for k, v := range b.edges {
		g.edges[k] = append([]string(nil), v...)
	}
	for k, v := range b.routers {
		g.routers[k] = v
	}
	for k, v := range b.revisions {
		g.revisions[k] = v
	}

	b.logger.Debug("graph built",
		zap.String("graph", b.name),
		zap.Int("nodes", len(g.nodes)),
		zap.Int("routers", len(g.routers)),
	)
	return g, nil
}

func (b *GraphBuilder) validate() error {
	if err := b.schema.validate(); err != nil {
		return err
	}
	if len(b.errs) > 0 {
		return b.errs[0]
	}
	if len(b.nodes) == 0 {
		return &GraphValidationError{Reason: "graph has no nodes"}
	}
	if len(b.edges[START]) == 0 {
		return &GraphValidationError{Node: START, Reason: "START has no outgoing edge"}
	}
	if _, ok := b.routers[START]; ok {
		return &GraphValidationError{Node: START, Reason: "START edges must be unconditional"}
	}
	if err := b.validateEdges(); err != nil {
		return err
	}
	if err := b.validateRouters(); err != nil {
		return err
	}
	if err := b.validateFields(); err != nil {
		return err
	}
	if err := b.validateReachability(); err != nil {
		return err
	}
	return b.validateSiblingWrites()
}

func (b *GraphBuilder) hasNode(name string) bool {
	_, ok := b.nodes[name]
	return ok
}

func (b *GraphBuilder) validateEdges() error {
	for _, from := range sortedKeys(b.edges) {
		if from == END {
			return &GraphValidationError{Node: END, Reason: "END cannot have outgoing edges"}
		}
		if from != START && !b.hasNode(from) {
			return &GraphValidationError{Edge: edgeName(from, "*"), Reason: fmt.Sprintf("unknown source node %q", from)}
		}
		for _, to := range b.edges[from] {
			if to == START {
				return &GraphValidationError{Edge: edgeName(from, to), Reason: "START cannot be an edge target"}
			}
			if to != END && !b.hasNode(to) {
				return &GraphValidationError{Edge: edgeName(from, to), Reason: fmt.Sprintf("unknown target node %q", to)}
			}
		}
	}
	return nil
}

func (b *GraphBuilder) validateRouters() error {
	for _, from := range sortedKeys(b.routers) {
		c := b.routers[from]
		if from == END || !b.hasNode(from) {
			return &GraphValidationError{Node: from, Reason: "router attached to unknown node"}
		}
		unconditional := make(map[string]bool)
		for _, to := range b.edges[from] {
			unconditional[to] = true
		}
		for _, to := range c.targets {
			if to == START {
				return &GraphValidationError{Edge: edgeName(from, to), Reason: "START cannot be a router target"}
			}
			if to != END && !b.hasNode(to) {
				return &GraphValidationError{Edge: edgeName(from, to), Reason: fmt.Sprintf("unknown router target %q", to)}
			}
			if unconditional[to] {
				return &GraphValidationError{Edge: edgeName(from, to), Reason: "router target duplicates an unconditional edge"}
			}
		}
	}
	for _, reviewer := range sortedKeys(b.revisions) {
		if err := b.revisions[reviewer].validate(reviewer, b); err != nil {
			return err
		}
	}
	return nil
}

func (b *GraphBuilder) validateFields() error {
	for _, name := range b.order {
		n := b.nodes[name]
		for _, f := range n.Reads {
			if !b.schema.Has(f) {
				return &GraphValidationError{Node: name, Reason: fmt.Sprintf("reads undeclared field %q", f)}
			}
		}
		for _, f := range n.Writes {
			if !b.schema.Has(f) {
				return &GraphValidationError{Node: name, Reason: fmt.Sprintf("writes undeclared field %q", f)}
			}
		}
		for _, k := range sortedKeys(n.Fallback) {
			f, ok := b.schema.Field(k)
			if !ok || !n.writes(k) {
				return &GraphValidationError{Node: name, Reason: fmt.Sprintf("fallback writes field %q the node does not own", k)}
			}
			if err := f.check(n.Fallback[k]); err != nil {
				return &GraphValidationError{Node: name, Reason: fmt.Sprintf("fallback field %q: %v", k, err)}
			}
		}
	}
	return nil
}

func (b *GraphBuilder) successors(from string) []string {
	out := append([]string(nil), b.edges[from]...)
	if c, ok := b.routers[from]; ok {
		out = append(out, c.targets...)
	}
	return out
}

func (b *GraphBuilder) validateReachability() error {
	reached := map[string]bool{START: true}
	queue := []string{START}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range b.successors(cur) {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, name := range b.order {
		if !reached[name] {
			return &GraphValidationError{Node: name, Reason: "node is not reachable from START"}
		}
	}

	reverse := make(map[string][]string)
	for _, from := range append([]string{START}, b.order...) {
		for _, to := range b.successors(from) {
			reverse[to] = append(reverse[to], from)
		}
	}
	exits := map[string]bool{END: true}
	queue = []string{END}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, prev := range reverse[cur] {
			if !exits[prev] {
				exits[prev] = true
				queue = append(queue, prev)
			}
		}
	}
	for _, name := range b.order {
		if !exits[name] {
			return &GraphValidationError{Node: name, Reason: "node has no path to END"}
		}
	}
	return nil
}

// validateSiblingWrites rejects overlapping declared writes between nodes
// that a single source can schedule into the same step.
func (b *GraphBuilder) validateSiblingWrites() error {
	for _, from := range append([]string{START}, b.order...) {
		siblings := sortedUnique(b.successors(from))
		owner := make(map[string]string)
		for _, name := range siblings {
			for _, f := range b.nodes[name].Writes {
				if other, ok := owner[f]; ok && other != name {
					return &GraphValidationError{
						Node:   name,
						Reason: fmt.Sprintf("sibling nodes %q and %q both write %q", other, name, f),
					}
				}
				owner[f] = name
			}
		}
	}
	return nil
}

func edgeName(from, to string) string {
	return from + " -> " + to
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
