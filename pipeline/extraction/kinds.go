package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/graphflow/tasks/entity"
	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
	"go.uber.org/zap"
)

// Kind is the closed set of node kinds this pipeline resolves.
type Kind string

const (
	KindLLM       Kind = "llm_extract"
	KindNER       Kind = "ner_extract"
	KindGazetteer Kind = "gazetteer_extract"
	KindAggregate Kind = "aggregate"
)

// Kinds lists every node kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindLLM, KindNER, KindGazetteer, KindAggregate}
}

// resolver closes over the pipeline's collaborators.
type resolver struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

func (r *resolver) ResolveNode(kind string) (workflow.NodeSpec, error) {
	retry := workflow.DefaultRetryPolicy()
	retry.RetryIf = types.IsRetryable

	switch Kind(kind) {
	case KindLLM:
		return workflow.NodeSpec{
			Task:    r.extractTask(r.deps.LLM, FieldLLMEntities, string(KindLLM)),
			Options: []workflow.NodeOption{workflow.WithFallback(workflow.Delta{FieldLLMEntities: []entity.Entity{}}), workflow.WithRetry(retry)},
		}, nil
	case KindNER:
		return workflow.NodeSpec{
			Task:    r.extractTask(r.deps.NER, FieldNEREntities, string(KindNER)),
			Options: []workflow.NodeOption{workflow.WithFallback(workflow.Delta{FieldNEREntities: []entity.Entity{}}), workflow.WithRetry(retry)},
		}, nil
	case KindGazetteer:
		return workflow.NodeSpec{
			Task:    r.extractTask(r.deps.Gazetteer, FieldGazetteerEntities, string(KindGazetteer)),
			Options: []workflow.NodeOption{workflow.WithFallback(workflow.Delta{FieldGazetteerEntities: []entity.Entity{}})},
		}, nil
	case KindAggregate:
		return workflow.NodeSpec{Task: r.aggregateTask()}, nil
	default:
		return workflow.NodeSpec{}, fmt.Errorf("unknown extraction node kind %q (known: %s)", kind, joinKinds())
	}
}

func (r *resolver) ResolveRouter(kind string) (workflow.RouterFunc, error) {
	return nil, fmt.Errorf("extraction pipeline has no router kinds, got %q", kind)
}

func joinKinds() string {
	names := make([]string, 0, len(Kinds()))
	for _, k := range Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

// extractTask adapts an entity.Extractor to a node writing field.
func (r *resolver) extractTask(ex entity.Extractor, field, name string) workflow.TaskFunc {
	return func(ctx context.Context, s workflow.State) (workflow.Delta, error) {
		if ex == nil {
			return nil, fmt.Errorf("%s: extractor not configured", name)
		}
		text := workflow.GetOr(s, FieldText, "")
		entityTypes := workflow.GetOr(s, FieldEntityTypes, []string(nil))

		found, err := ex.Extract(ctx, text, entityTypes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if found == nil {
			found = []entity.Entity{}
		}
		r.logger.Info("extraction finished", zap.String("method", name), zap.Int("entities", len(found)))
		return workflow.Delta{field: found}, nil
	}
}
