package publication

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/tasks/entity"
	"github.com/BaSui01/graphflow/tasks/websearch"
	"github.com/BaSui01/graphflow/types"
	"github.com/BaSui01/graphflow/workflow"
	"go.uber.org/zap"
)

// Kind is the closed set of node kinds this pipeline resolves.
type Kind string

const (
	KindManager    Kind = "manager"
	KindTLDR       Kind = "tldr"
	KindTitle      Kind = "title"
	KindTags       Kind = "tags"
	KindReferences Kind = "references"
	KindReviewer   Kind = "reviewer"
)

// Kinds lists every node kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindManager, KindTLDR, KindTitle, KindTags, KindReferences, KindReviewer}
}

type resolver struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

func (r *resolver) ResolveNode(kind string) (workflow.NodeSpec, error) {
	retry := workflow.DefaultRetryPolicy()
	retry.MaxAttempts = 2
	retry.InitialBackoff = r.cfg.RetryBackoff
	retry.RetryIf = types.IsRetryable
	withRetry := workflow.WithRetry(retry)

	switch Kind(kind) {
	case KindManager:
		return workflow.NodeSpec{
			Task:    r.manager,
			Options: []workflow.NodeOption{withRetry, workflow.WithFallback(workflow.Delta{FieldManagerDecision: noGuidance})},
		}, nil
	case KindTLDR:
		return workflow.NodeSpec{Task: r.variants(tldrPrompt, FieldTLDR, FeedbackTLDR, r.cfg.MaxTLDR), Options: []workflow.NodeOption{withRetry}}, nil
	case KindTitle:
		return workflow.NodeSpec{Task: r.variants(titlePrompt, FieldTitle, FeedbackTitle, r.cfg.MaxTitles), Options: []workflow.NodeOption{withRetry}}, nil
	case KindTags:
		return workflow.NodeSpec{Task: r.tags, Options: []workflow.NodeOption{workflow.WithSkip(tagsPopulated)}}, nil
	case KindReferences:
		return workflow.NodeSpec{
			Task:    r.references,
			Options: []workflow.NodeOption{withRetry, workflow.WithFallback(workflow.Delta{FieldReferences: []Reference{}})},
		}, nil
	case KindReviewer:
		return workflow.NodeSpec{Task: r.review, Options: []workflow.NodeOption{withRetry}}, nil
	default:
		names := make([]string, 0, len(Kinds()))
		for _, k := range Kinds() {
			names = append(names, string(k))
		}
		return workflow.NodeSpec{}, fmt.Errorf("unknown publication node kind %q (known: %s)", kind, strings.Join(names, ", "))
	}
}

func (r *resolver) ResolveRouter(kind string) (workflow.RouterFunc, error) {
	return nil, fmt.Errorf("publication pipeline has no router kinds, got %q", kind)
}

// tagsPopulated skips the tags node once tags exist, so revision rounds
// never re-run the nested extraction.
func tagsPopulated(s workflow.State) bool {
	return len(workflow.GetOr(s, FieldTags, []string(nil))) > 0
}

func (r *resolver) request(prompt string) *llm.ChatRequest {
	return &llm.ChatRequest{
		Model:       r.cfg.Model,
		Messages:    []llm.Message{llm.UserMessage(prompt)},
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}
}

func (r *resolver) provider() (llm.Provider, error) {
	if r.deps.LLM == nil {
		return nil, fmt.Errorf("llm provider not configured")
	}
	return r.deps.LLM, nil
}

func (r *resolver) manager(ctx context.Context, s workflow.State) (workflow.Delta, error) {
	p, err := r.provider()
	if err != nil {
		return nil, err
	}
	prompt, err := render(managerPrompt, struct{ Preview string }{Preview: preview(workflow.GetOr(s, FieldText, ""), r.cfg.PreviewChars)})
	if err != nil {
		return nil, err
	}
	resp, err := p.Completion(ctx, r.request(prompt))
	if err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}
	decision := resp.Content()
	r.logger.Info("manager decision ready", zap.Int("chars", len(decision)))
	return workflow.Delta{FieldManagerDecision: decision}, nil
}

type variantsResponse struct {
	TLDRs  []string `json:"tldrs"`
	Titles []string `json:"titles"`
}

// variants builds the TLDR and title generators. Both ask for at most limit
// alternatives and honour the reviewer's feedback for their component.
func (r *resolver) variants(prompt *template.Template, field, feedbackField string, limit int) workflow.TaskFunc {
	return func(ctx context.Context, s workflow.State) (workflow.Delta, error) {
		p, err := r.provider()
		if err != nil {
			return nil, err
		}
		text, err := render(prompt, generatorData{
			Guidance: orDefault(workflow.GetOr(s, FieldManagerDecision, ""), noGuidance),
			Feedback: orDefault(workflow.GetOr(s, feedbackField, ""), noFeedback),
			Text:     workflow.GetOr(s, FieldText, ""),
			Max:      limit,
		})
		if err != nil {
			return nil, err
		}
		var out variantsResponse
		if _, err := llm.CompleteJSON(ctx, p, r.request(text), &out); err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		got := out.TLDRs
		if field == FieldTitle {
			got = out.Titles
		}
		got = cleanList(got, limit)
		if len(got) == 0 {
			return nil, types.NewError(types.ErrEmptyResponse, field+" generator returned no variants")
		}
		r.logger.Info("variants generated", zap.String("field", field), zap.Int("count", len(got)))
		return workflow.Delta{field: got}, nil
	}
}

func (r *resolver) tags(ctx context.Context, s workflow.State) (workflow.Delta, error) {
	if r.deps.Tags == nil {
		return nil, fmt.Errorf("tag extractor not configured")
	}
	found, err := r.deps.Tags.Extract(ctx, workflow.GetOr(s, FieldText, ""), r.cfg.TagEntityTypes)
	if err != nil {
		return nil, fmt.Errorf("tags: %w", err)
	}
	names := entity.Names(found)
	r.logger.Info("tags extracted", zap.Strings("tags", names))
	return workflow.Delta{FieldTags: names}, nil
}

type queriesResponse struct {
	Queries []string `json:"queries"`
}

type referencesResponse struct {
	References []Reference `json:"references"`
}

// references runs query generation, search, page fetch and selection.
func (r *resolver) references(ctx context.Context, s workflow.State) (workflow.Delta, error) {
	p, err := r.provider()
	if err != nil {
		return nil, err
	}
	if r.deps.Search == nil {
		return nil, fmt.Errorf("search client not configured")
	}
	guidance := orDefault(workflow.GetOr(s, FieldManagerDecision, ""), noGuidance)
	text := workflow.GetOr(s, FieldText, "")

	prompt, err := render(queriesPrompt, generatorData{
		Guidance: guidance,
		Feedback: orDefault(workflow.GetOr(s, FeedbackReferences, ""), noFeedback),
		Text:     text,
		Max:      r.cfg.MaxQueries,
	})
	if err != nil {
		return nil, err
	}
	var q queriesResponse
	if _, err := llm.CompleteJSON(ctx, p, r.request(prompt), &q); err != nil {
		return nil, fmt.Errorf("reference queries: %w", err)
	}
	queries := cleanList(q.Queries, r.cfg.MaxQueries)

	var (
		urls []string
		seen = make(map[string]struct{})
	)
	for _, query := range queries {
		results, err := r.deps.Search.Search(ctx, query, r.cfg.ResultsPerQuery)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("search query failed", zap.String("query", query), zap.Error(err))
			continue
		}
		for _, res := range results {
			if _, ok := seen[res.URL]; ok || res.URL == "" {
				continue
			}
			seen[res.URL] = struct{}{}
			urls = append(urls, res.URL)
		}
	}
	if len(urls) == 0 {
		r.logger.Warn("no search results for references", zap.Int("queries", len(queries)))
		return workflow.Delta{FieldReferences: []Reference{}}, nil
	}

	pages := r.deps.Search.FetchAll(ctx, urls, r.cfg.MaxPages)
	for i := range pages {
		pages[i].Text = preview(pages[i].Text, r.cfg.PageChars)
	}

	prompt, err = render(selectPrompt, struct {
		Guidance string
		Text     string
		Pages    []websearch.Page
	}{Guidance: guidance, Text: text, Pages: pages})
	if err != nil {
		return nil, err
	}
	var sel referencesResponse
	if _, err := llm.CompleteJSON(ctx, p, r.request(prompt), &sel); err != nil {
		return nil, fmt.Errorf("reference selection: %w", err)
	}

	refs := make([]Reference, 0, len(sel.References))
	for _, ref := range sel.References {
		ref.URL = strings.TrimSpace(ref.URL)
		ref.Title = strings.TrimSpace(ref.Title)
		if ref.URL == "" {
			continue
		}
		refs = append(refs, ref)
	}
	r.logger.Info("references selected",
		zap.Int("queries", len(queries)),
		zap.Int("pages", len(pages)),
		zap.Int("references", len(refs)),
	)
	return workflow.Delta{FieldReferences: refs}, nil
}

type reviewResponse struct {
	TLDRApproved       bool   `json:"tldr_approved"`
	TLDRFeedback       string `json:"tldr_feedback"`
	TitleApproved      bool   `json:"title_approved"`
	TitleFeedback      string `json:"title_feedback"`
	ReferencesApproved bool   `json:"references_approved"`
	ReferencesFeedback string `json:"references_feedback"`
	Summary            string `json:"summary"`
}

// review judges each component. Round counting and forced approval are
// applied afterwards by the revision controller bound to this node.
func (r *resolver) review(ctx context.Context, s workflow.State) (workflow.Delta, error) {
	p, err := r.provider()
	if err != nil {
		return nil, err
	}

	var approved []string
	for _, c := range Components() {
		if workflow.GetOr(s, workflow.ApprovedField(c), false) {
			approved = append(approved, c)
		}
	}
	refs, err := json.Marshal(workflow.GetOr(s, FieldReferences, []Reference{}))
	if err != nil {
		return nil, err
	}
	text := workflow.GetOr(s, FieldText, "")
	prompt, err := render(reviewerPrompt, reviewerData{
		TextLength: len([]rune(text)),
		Guidance:   orDefault(workflow.GetOr(s, FieldManagerDecision, ""), "N/A"),
		Round:      workflow.GetOr(s, workflow.FieldRevisionRound, 0) + 1,
		MaxRounds:  r.cfg.MaxRounds,
		Titles:     strings.Join(workflow.GetOr(s, FieldTitle, []string(nil)), " | "),
		TLDRs:      strings.Join(workflow.GetOr(s, FieldTLDR, []string(nil)), " | "),
		Tags:       strings.Join(workflow.GetOr(s, FieldTags, []string(nil)), ", "),
		References: string(refs),
		Approved:   strings.Join(approved, ", "),
	})
	if err != nil {
		return nil, err
	}

	var out reviewResponse
	if _, err := llm.CompleteJSON(ctx, p, r.request(prompt), &out); err != nil {
		return nil, fmt.Errorf("reviewer: %w", err)
	}
	r.logger.Info("review completed",
		zap.Bool("tldr_approved", out.TLDRApproved),
		zap.Bool("title_approved", out.TitleApproved),
		zap.Bool("references_approved", out.ReferencesApproved),
	)
	delta := workflow.Delta{FieldReviewSummary: out.Summary}
	delta[workflow.ApprovedField(ComponentTLDR)] = out.TLDRApproved
	delta[workflow.ApprovedField(ComponentTitle)] = out.TitleApproved
	delta[workflow.ApprovedField(ComponentReferences)] = out.ReferencesApproved
	delta[FeedbackTLDR] = out.TLDRFeedback
	delta[FeedbackTitle] = out.TitleFeedback
	delta[FeedbackReferences] = out.ReferencesFeedback
	return delta, nil
}

func preview(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// cleanList trims entries, drops empty ones and keeps at most limit.
func cleanList(in []string, limit int) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
