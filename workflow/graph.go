package workflow

import (
	"context"
	"sort"
	"time"
)

// Reserved node names marking the entry and exit of a graph.
const (
	START = "__start__"
	END   = "__end__"
)

// TaskFunc is the uniform node contract: read a state snapshot, return a delta.
type TaskFunc func(ctx context.Context, s State) (Delta, error)

// SkipFunc decides from the current state that a node has nothing to do.
type SkipFunc func(s State) bool

// RouterFunc picks successors after a node's step has been merged.
type RouterFunc func(ctx context.Context, s State) (Route, error)

// RetryPolicy controls re-invocation of a failing task.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// RetryIf filters retryable errors. Nil retries every error.
	RetryIf func(error) bool
}

// DefaultRetryPolicy runs a task once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    1,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2,
	}
}

func (p RetryPolicy) shouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return p.RetryIf == nil || p.RetryIf(err)
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Node is an immutable unit of work inside a graph.
type Node struct {
	Name     string
	Task     TaskFunc
	Skip     SkipFunc
	Fallback Delta
	Timeout  time.Duration
	Retry    *RetryPolicy
	Reads    []string
	Writes   []string
}

// NodeOption configures a node at build time.
type NodeOption func(*Node)

// WithSkip sets the skip predicate.
func WithSkip(fn SkipFunc) NodeOption {
	return func(n *Node) { n.Skip = fn }
}

// WithFallback sets the delta merged when the node fails.
func WithFallback(d Delta) NodeOption {
	return func(n *Node) { n.Fallback = d }
}

// WithTimeout bounds a single invocation of the task.
func WithTimeout(d time.Duration) NodeOption {
	return func(n *Node) { n.Timeout = d }
}

// WithRetry overrides the executor's retry policy for this node.
func WithRetry(p RetryPolicy) NodeOption {
	return func(n *Node) { n.Retry = &p }
}

// WithReads declares the fields the node consumes.
func WithReads(fields ...string) NodeOption {
	return func(n *Node) { n.Reads = append(n.Reads, fields...) }
}

// WithWrites declares the fields the node may return in its delta.
func WithWrites(fields ...string) NodeOption {
	return func(n *Node) { n.Writes = append(n.Writes, fields...) }
}

func (n *Node) writes(field string) bool {
	if len(n.Writes) == 0 {
		return true
	}
	for _, w := range n.Writes {
		if w == field {
			return true
		}
	}
	return false
}

// RouteKind enumerates routing outcomes.
type RouteKind int

const (
	RouteEnd RouteKind = iota
	RouteContinue
	RouteFork
)

func (k RouteKind) String() string {
	switch k {
	case RouteContinue:
		return "continue"
	case RouteFork:
		return "fork"
	default:
		return "end"
	}
}

// Route is the result of a router: one successor, several, or none.
type Route struct {
	kind    RouteKind
	targets []string
}

// Continue routes to a single successor.
func Continue(target string) Route {
	if target == END {
		return End()
	}
	return Route{kind: RouteContinue, targets: []string{target}}
}

// Fork routes to several successors in the next step. An empty fork ends
// the branch.
func Fork(targets ...string) Route {
	if len(targets) == 0 {
		return End()
	}
	return Route{kind: RouteFork, targets: append([]string(nil), targets...)}
}

// End terminates the branch.
func End() Route {
	return Route{kind: RouteEnd}
}

// Kind reports the route variant.
func (r Route) Kind() RouteKind { return r.kind }

// Targets returns the successors, empty for End.
func (r Route) Targets() []string { return append([]string(nil), r.targets...) }

type conditional struct {
	router  RouterFunc
	targets []string
	allowed map[string]bool
}

// Graph is a validated, immutable workflow definition.
type Graph struct {
	name      string
	schema    Schema
	nodes     map[string]*Node
	order     []string
	edges     map[string][]string
	routers   map[string]*conditional
	revisions map[string]*RevisionController
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Schema returns the state schema.
func (g *Graph) Schema() Schema { return g.schema }

// Node returns the node registered under name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns node names in registration order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Edges returns the unconditional successors of from.
func (g *Graph) Edges(from string) []string {
	return append([]string(nil), g.edges[from]...)
}

// ConditionalTargets returns the declared router targets of from, including
// those of a bound revision loop.
func (g *Graph) ConditionalTargets(from string) []string {
	if c, ok := g.routers[from]; ok {
		return append([]string(nil), c.targets...)
	}
	return nil
}

// RevisionLoop returns the controller bound to reviewer, if any.
func (g *Graph) RevisionLoop(reviewer string) (*RevisionController, bool) {
	rc, ok := g.revisions[reviewer]
	return rc, ok
}

// successorsOf lists every possible successor of from.
func (g *Graph) successorsOf(from string) []string {
	out := append([]string(nil), g.edges[from]...)
	if c, ok := g.routers[from]; ok {
		out = append(out, c.targets...)
	}
	return out
}

func sortedUnique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == END {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
