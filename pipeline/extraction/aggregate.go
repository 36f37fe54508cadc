package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/tasks/entity"
	"github.com/BaSui01/graphflow/workflow"
	"go.uber.org/zap"
)

var aggregatePrompt = template.Must(template.New("aggregate").Parse(
	`Extract the most important entities from the list of entities.
Your response should not contain more than {{.Max}} entities.
Return a list of entities. Keep the format of each entity unchanged.

Respond with a JSON object of the form {"entities": [{"name": "...", "type": "...", "description": "..."}]}.

Entities:
{{.Entities}}`))

type aggregateResponse struct {
	Entities []entity.Entity `json:"entities"`
}

// aggregateTask merges the three extractor outputs into FieldEntities.
// Without an aggregator, or when it fails, the deduplicated union truncated
// to MaxEntities is used instead.
func (r *resolver) aggregateTask() workflow.TaskFunc {
	return func(ctx context.Context, s workflow.State) (workflow.Delta, error) {
		union := entity.Union(
			workflow.GetOr(s, FieldLLMEntities, []entity.Entity(nil)),
			workflow.GetOr(s, FieldNEREntities, []entity.Entity(nil)),
			workflow.GetOr(s, FieldGazetteerEntities, []entity.Entity(nil)),
		)
		fallback := entity.Truncate(union, r.cfg.MaxEntities)
		if fallback == nil {
			fallback = []entity.Entity{}
		}

		if r.deps.Aggregator == nil || len(union) == 0 {
			return workflow.Delta{FieldEntities: fallback}, nil
		}

		selected, err := r.rank(ctx, union)
		if err != nil {
			r.logger.Warn("aggregation failed, using merged candidates",
				zap.Error(err),
				zap.Int("candidates", len(union)),
			)
			return workflow.Delta{FieldEntities: fallback}, nil
		}
		return workflow.Delta{FieldEntities: selected}, nil
	}
}

func (r *resolver) rank(ctx context.Context, candidates []entity.Entity) ([]entity.Entity, error) {
	listing, err := json.Marshal(candidates)
	if err != nil {
		return nil, err
	}
	var prompt bytes.Buffer
	if err := aggregatePrompt.Execute(&prompt, struct {
		Max      int
		Entities string
	}{Max: r.cfg.MaxEntities, Entities: string(listing)}); err != nil {
		return nil, err
	}

	req := &llm.ChatRequest{
		Model:       r.cfg.Model,
		Messages:    []llm.Message{llm.UserMessage(prompt.String())},
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}
	var out aggregateResponse
	if _, err := llm.CompleteJSON(ctx, r.deps.Aggregator, req, &out); err != nil {
		return nil, err
	}

	// Methods are restored from the candidates; the model is not trusted to keep them.
	methods := make(map[string]entity.Method, len(candidates))
	for _, c := range candidates {
		if _, ok := methods[c.Key()]; !ok {
			methods[c.Key()] = c.Method
		}
	}
	selected := make([]entity.Entity, 0, len(out.Entities))
	for _, e := range out.Entities {
		e.Name = strings.ToLower(strings.TrimSpace(e.Name))
		if e.Name == "" || e.Type == entity.NoneOfTheAbove {
			continue
		}
		if e.Method == "" {
			e.Method = methods[e.Key()]
		}
		selected = append(selected, e)
	}
	return entity.Truncate(entity.Dedupe(selected), r.cfg.MaxEntities), nil
}
