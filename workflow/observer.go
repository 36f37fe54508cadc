package workflow

import "context"

// Observer receives executor lifecycle events. An executor may serve
// concurrent runs, so implementations must be safe for concurrent use.
type Observer interface {
	OnStepStart(ctx context.Context, graph string, step int, frontier []string)
	OnNodeComplete(ctx context.Context, graph string, entry RunLogEntry)
	OnRevision(ctx context.Context, graph string, reviewer string, round int, forced bool)
	OnRunComplete(ctx context.Context, log *RunLog)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnStepStart(context.Context, string, int, []string) {}
func (NopObserver) OnNodeComplete(context.Context, string, RunLogEntry) {}
func (NopObserver) OnRevision(context.Context, string, string, int, bool) {}
func (NopObserver) OnRunComplete(context.Context, *RunLog) {}

type multiObserver []Observer

func (m multiObserver) OnStepStart(ctx context.Context, graph string, step int, frontier []string) {
	for _, o := range m {
		o.OnStepStart(ctx, graph, step, frontier)
	}
}

func (m multiObserver) OnNodeComplete(ctx context.Context, graph string, entry RunLogEntry) {
	for _, o := range m {
		o.OnNodeComplete(ctx, graph, entry)
	}
}

func (m multiObserver) OnRevision(ctx context.Context, graph string, reviewer string, round int, forced bool) {
	for _, o := range m {
		o.OnRevision(ctx, graph, reviewer, round, forced)
	}
}

func (m multiObserver) OnRunComplete(ctx context.Context, log *RunLog) {
	for _, o := range m {
		o.OnRunComplete(ctx, log)
	}
}
