package runstore

import (
	"context"
	"time"

	"github.com/BaSui01/graphflow/workflow"
	"go.uber.org/zap"
)

const saveTimeout = 10 * time.Second

// Observer saves every completed run. Save failures are logged and never
// affect the run result.
type Observer struct {
	workflow.NopObserver
	store *Store
}

// NewObserver returns an executor observer backed by store.
func NewObserver(store *Store) *Observer {
	return &Observer{store: store}
}

// OnRunComplete persists the finished log. A cancelled run is still saved.
func (o *Observer) OnRunComplete(ctx context.Context, log *workflow.RunLog) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	if err := o.store.Save(ctx, log); err != nil {
		o.store.logger.Warn("failed to persist run log",
			zap.String("run_id", log.RunID),
			zap.String("graph", log.Graph),
			zap.Error(err),
		)
	}
}
