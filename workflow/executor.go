package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/BaSui01/graphflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/BaSui01/graphflow/workflow"

// DefaultMaxSteps is the step ceiling applied when none is configured.
const DefaultMaxSteps = 25

// Result is the outcome of a run. It is returned alongside fatal errors
// so callers can inspect partial state and the run log.
type Result struct {
	RunID string
	State State
	Log   *RunLog
	Steps int
}

// Executor runs graphs as a sequence of synchronous supersteps.
type Executor struct {
	logger      *zap.Logger
	tracer      trace.Tracer
	maxSteps    int
	concurrency int
	nodeTimeout time.Duration
	retry       RetryPolicy
	observers   multiObserver
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxSteps sets the step ceiling.
func WithMaxSteps(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithConcurrency bounds the number of nodes running at once within a step.
// Zero or negative means unbounded.
func WithConcurrency(n int) Option {
	return func(e *Executor) { e.concurrency = n }
}

// WithNodeTimeout sets the timeout for nodes that do not declare their own.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Executor) { e.nodeTimeout = d }
}

// WithRetryPolicy sets the retry policy for nodes that do not declare their own.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Executor) { e.retry = p }
}

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewExecutor creates an executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		maxSteps: DefaultMaxSteps,
		retry:    DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "graph_executor"))
	return e
}

// Run executes g with a fresh executor built from opts.
func Run(ctx context.Context, g *Graph, initial map[string]any, opts ...Option) (*Result, error) {
	return NewExecutor(opts...).Run(ctx, g, initial)
}

// nodeOutcome is what one node produced in one step.
type nodeOutcome struct {
	node     string
	delta    Delta
	status   NodeStatus
	err      error
	attempts int
	duration time.Duration
}

// Run walks g from START until the frontier is empty. Node failures are
// recovered; validation of the initial state, routing errors, conflicting
// writes, cancellation and the step ceiling are fatal.
func (e *Executor) Run(ctx context.Context, g *Graph, initial map[string]any) (*Result, error) {
	if g == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}

	runID := uuid.NewString()
	log := NewRunLog(runID, g.name)
	logger := e.logger.With(zap.String("run_id", runID), zap.String("graph", g.name))

	ctx = types.WithRunID(ctx, runID)
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.graph", g.name),
		attribute.String("workflow.run_id", runID),
	))
	defer span.End()

	state, err := g.schema.Init(initial)
	if err != nil {
		return e.finish(ctx, span, logger, &Result{RunID: runID, Log: log}, err)
	}
	res := &Result{RunID: runID, State: state, Log: log}

	logger.Info("starting graph execution", zap.Strings("entry", g.edges[START]))

	frontier := sortedUnique(g.edges[START])
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, span, logger, res, fmt.Errorf("run cancelled at step %d: %w", res.Steps+1, err))
		}
		if res.Steps >= e.maxSteps {
			return e.finish(ctx, span, logger, res, &ExecutionLimitExceeded{MaxSteps: e.maxSteps, Pending: frontier})
		}
		res.Steps++
		step := res.Steps

		e.observers.OnStepStart(ctx, g.name, step, frontier)
		logger.Debug("step started", zap.Int("step", step), zap.Strings("frontier", frontier))

		approvals := make(map[string]map[string]bool)
		for _, name := range frontier {
			if rc, ok := g.revisions[name]; ok {
				approvals[name] = rc.Approvals(state)
			}
		}

		outcomes := e.runFrontier(ctx, g, log, step, frontier, state, logger)
		if err := e.merge(g, step, state, outcomes); err != nil {
			return e.finish(ctx, span, logger, res, err)
		}

		next, err := e.route(ctx, g, log, step, state, outcomes, approvals, logger)
		if err != nil {
			return e.finish(ctx, span, logger, res, err)
		}
		frontier = next
	}

	return e.finish(ctx, span, logger, res, nil)
}

func (e *Executor) finish(ctx context.Context, span trace.Span, logger *zap.Logger, res *Result, err error) (*Result, error) {
	res.Log.Complete(res.Steps, err)
	e.observers.OnRunComplete(ctx, res.Log)
	span.SetAttributes(attribute.Int("workflow.steps", res.Steps))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("graph execution failed", zap.Int("steps", res.Steps), zap.Error(err))
		return res, err
	}
	logger.Info("graph execution completed",
		zap.Int("steps", res.Steps),
		zap.Int("failed_nodes", len(res.Log.Failures())),
		zap.Duration("duration", res.Log.Duration),
	)
	return res, nil
}

// runFrontier executes every frontier node concurrently and returns the
// outcomes sorted by node name. A failing node never cancels its siblings.
func (e *Executor) runFrontier(ctx context.Context, g *Graph, log *RunLog, step int, frontier []string, state State, logger *zap.Logger) []nodeOutcome {
	outcomes := make([]nodeOutcome, len(frontier))
	snapshots := make([]State, len(frontier))
	for i := range frontier {
		snapshots[i] = state.Clone()
	}

	var eg errgroup.Group
	if e.concurrency > 0 {
		eg.SetLimit(e.concurrency)
	}
	for i, name := range frontier {
		eg.Go(func() error {
			outcomes[i] = e.runNode(ctx, g, step, g.nodes[name], snapshots[i], logger)
			return nil
		})
	}
	_ = eg.Wait()

	for _, o := range outcomes {
		entry := RunLogEntry{Step: step, Node: o.node, Status: o.status, Attempts: o.attempts, Duration: o.duration}
		if o.err != nil {
			entry.Error = o.err.Error()
		}
		e.record(ctx, g, log, entry)
	}
	return outcomes
}

func (e *Executor) record(ctx context.Context, g *Graph, log *RunLog, entry RunLogEntry) {
	log.Record(entry)
	e.observers.OnNodeComplete(ctx, g.name, entry)
}

func (e *Executor) runNode(ctx context.Context, g *Graph, step int, node *Node, snapshot State, logger *zap.Logger) nodeOutcome {
	start := time.Now()
	out := nodeOutcome{node: node.Name}
	logger = logger.With(zap.String("node", node.Name), zap.Int("step", step))

	ctx = types.WithNodeName(ctx, node.Name)
	ctx, span := e.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("workflow.node", node.Name),
		attribute.Int("workflow.step", step),
	))
	defer span.End()

	if node.Skip != nil {
		skip, err := safeSkip(node.Skip, snapshot)
		if err != nil {
			out.err = &NodeExecutionError{Node: node.Name, Step: step, Cause: err}
			return e.fail(span, logger, node, out, start)
		}
		if skip {
			out.status = NodeStatusSkipped
			out.delta = Delta{}
			out.duration = time.Since(start)
			span.SetAttributes(attribute.Bool("workflow.skipped", true))
			logger.Debug("node skipped")
			return out
		}
	}

	policy := e.retry
	if node.Retry != nil {
		policy = *node.Retry
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	timeout := e.nodeTimeout
	if node.Timeout > 0 {
		timeout = node.Timeout
	}

	var (
		delta Delta
		err   error
	)
	for attempt := 1; ; attempt++ {
		out.attempts = attempt
		delta, err = e.invoke(ctx, node, snapshot.Clone(), timeout)
		if err == nil {
			err = g.checkDelta(node, delta)
		}
		if err == nil {
			break
		}
		if !policy.shouldRetry(attempt, err) || ctx.Err() != nil {
			break
		}
		wait := policy.backoff(attempt)
		logger.Warn("node attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}

	if err != nil {
		out.err = &NodeExecutionError{Node: node.Name, Step: step, Attempts: out.attempts, Cause: err}
		return e.fail(span, logger, node, out, start)
	}

	out.status = NodeStatusCompleted
	out.delta = delta
	out.duration = time.Since(start)
	logger.Debug("node completed", zap.Duration("duration", out.duration), zap.Int("fields", len(delta)))
	return out
}

func (e *Executor) fail(span trace.Span, logger *zap.Logger, node *Node, out nodeOutcome, start time.Time) nodeOutcome {
	out.status = NodeStatusFailed
	out.delta = Delta{}
	if node.Fallback != nil {
		out.delta = cloneValue(node.Fallback).(Delta)
	}
	out.duration = time.Since(start)
	span.RecordError(out.err)
	span.SetStatus(codes.Error, out.err.Error())
	logger.Warn("node failed, using fallback",
		zap.Int("attempts", out.attempts),
		zap.Duration("duration", out.duration),
		zap.Error(out.err),
	)
	return out
}

// invoke runs the task once under the node timeout. A task that ignores
// its context past the deadline is abandoned; its result is discarded.
func (e *Executor) invoke(ctx context.Context, node *Node, snapshot State, timeout time.Duration) (Delta, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		delta Delta
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
			}
		}()
		d, err := node.Task(ctx, snapshot)
		done <- result{delta: d, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("node timed out after %s: %w", timeout, ctx.Err())
		}
		return r.delta, r.err
	case <-ctx.Done():
		if timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("node timed out after %s: %w", timeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func safeSkip(fn SkipFunc, s State) (skip bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("skip predicate panic: %v", r)
		}
	}()
	return fn(s), nil
}

func safeRoute(ctx context.Context, fn RouterFunc, s State) (r Route, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("router panic: %v", p)
		}
	}()
	return fn(ctx, s)
}

// checkDelta rejects writes to undeclared fields or fields the node does
// not own. Values must have the field's declared type.
func (g *Graph) checkDelta(node *Node, delta Delta) error {
	for _, k := range sortedKeys(delta) {
		f, ok := g.schema.Field(k)
		if !ok {
			return fmt.Errorf("delta writes undeclared field %q", k)
		}
		if !node.writes(k) {
			return fmt.Errorf("delta writes field %q outside declared writes", k)
		}
		if err := f.check(delta[k]); err != nil {
			return fmt.Errorf("field %q: %w", k, err)
		}
	}
	return nil
}

// merge applies the outcomes in node-name order. Two nodes writing the
// same field in one step abort the run.
func (e *Executor) merge(g *Graph, step int, state State, outcomes []nodeOutcome) error {
	writers := make(map[string][]string)
	for _, o := range outcomes {
		for k := range o.delta {
			writers[k] = append(writers[k], o.node)
		}
	}
	for _, field := range sortedKeys(writers) {
		if nodes := writers[field]; len(nodes) > 1 {
			sort.Strings(nodes)
			return &ConflictingWritesError{Step: step, Field: field, Nodes: nodes}
		}
	}
	for _, o := range outcomes {
		if err := g.schema.Merge(state, o.delta); err != nil {
			return fmt.Errorf("merge %q at step %d: %w", o.node, step, err)
		}
	}
	return nil
}

// route computes the next frontier from the merged state. Unconditional
// edges always fire; routers and revision loops run in node-name order.
// Targets reached several times are scheduled once.
func (e *Executor) route(ctx context.Context, g *Graph, log *RunLog, step int, state State, outcomes []nodeOutcome, approvals map[string]map[string]bool, logger *zap.Logger) ([]string, error) {
	var next []string
	for _, o := range outcomes {
		next = append(next, g.edges[o.node]...)

		if rc, ok := g.revisions[o.node]; ok {
			decision := rc.Evaluate(approvals[o.node], state)
			if err := g.schema.Merge(state, decision.Delta); err != nil {
				return nil, fmt.Errorf("merge revision decision of %q: %w", o.node, err)
			}
			forced := decision.Limit != nil
			e.observers.OnRevision(ctx, g.name, o.node, decision.Round, forced)
			if forced {
				decision.Limit.Reviewer = o.node
				logger.Warn("revision limit reached, forcing approval",
					zap.String("reviewer", o.node),
					zap.Int("round", decision.Round),
					zap.Strings("forced", decision.Limit.Unapproved),
				)
				e.record(ctx, g, log, RunLogEntry{
					Step:   step,
					Node:   o.node,
					Status: NodeStatusRevisionLimit,
					Error:  decision.Limit.Error(),
				})
			} else {
				logger.Debug("revision round evaluated",
					zap.String("reviewer", o.node),
					zap.Int("round", decision.Round),
					zap.Strings("targets", decision.Route.Targets()),
				)
			}
			next = append(next, decision.Route.Targets()...)
			continue
		}

		c, ok := g.routers[o.node]
		if !ok {
			continue
		}
		r, err := safeRoute(ctx, c.router, state.Clone())
		if err != nil {
			return nil, &RoutingError{Source: o.node, Cause: err}
		}
		for _, t := range r.Targets() {
			if !c.allowed[t] {
				return nil, &RoutingError{Source: o.node, Target: t}
			}
		}
		next = append(next, r.Targets()...)
	}
	return sortedUnique(next), nil
}
