package publication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/tasks/entity"
	"github.com/BaSui01/graphflow/tasks/websearch"
	"github.com/BaSui01/graphflow/testutil/fixtures"
	"github.com/BaSui01/graphflow/testutil/mocks"
	"github.com/BaSui01/graphflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM answers each prompt family with canned JSON and records prompts.
type fakeLLM struct {
	mu      sync.Mutex
	prompts map[string][]string
	// review returns the reviewer JSON for the given 1-based call.
	review func(call int) string
	failOn string
}

func newFakeLLM(review func(call int) string) *fakeLLM {
	return &fakeLLM{prompts: make(map[string][]string), review: review}
}

func promptKind(prompt string) string {
	switch {
	case strings.Contains(prompt, "Review the following content processing results"):
		return "reviewer"
	case strings.Contains(prompt, "content processing manager"):
		return "manager"
	case strings.Contains(prompt, "Too Long; Didn't Read"):
		return "tldr"
	case strings.Contains(prompt, "Generate an engaging and descriptive title"):
		return "title"
	case strings.Contains(prompt, "Select the most relevant references"):
		return "select"
	case strings.Contains(prompt, "search queries"):
		return "queries"
	}
	return "unknown"
}

func (f *fakeLLM) provider() *mocks.MockProvider {
	return mocks.NewMockProvider().WithCompletionFunc(func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		prompt := req.Messages[0].Content
		kind := promptKind(prompt)

		f.mu.Lock()
		f.prompts[kind] = append(f.prompts[kind], prompt)
		call := len(f.prompts[kind])
		f.mu.Unlock()

		if kind == f.failOn {
			return nil, errors.New("upstream down")
		}

		var content string
		switch kind {
		case "manager":
			content = "The project fine-tunes transformer encoders."
		case "tldr":
			content = fmt.Sprintf(`{"tldrs": ["tldr v%d a", "tldr v%d b", "tldr v%d c", "tldr v%d d"]}`, call, call, call, call)
		case "title":
			content = fmt.Sprintf("```json\n{\"titles\": [\"Title v%d\"]}\n```", call)
		case "queries":
			content = `{"queries": ["bert fine-tuning", "squad benchmark", "bert fine-tuning"]}`
		case "select":
			content = `{"references": [{"url": "https://example.com/bert", "title": "BERT"}, {"url": " ", "title": "blank"}]}`
		case "reviewer":
			content = f.review(call)
		default:
			return nil, fmt.Errorf("unexpected prompt: %.60s", prompt)
		}
		return &llm.ChatResponse{
			Model:   req.Model,
			Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}},
		}, nil
	})
}

func (f *fakeLLM) calls(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts[kind])
}

func (f *fakeLLM) prompt(kind string, call int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[kind][call-1]
}

func approveAll(int) string {
	return `{"tldr_approved": true, "tldr_feedback": "good", "title_approved": true, "title_feedback": "good",
		"references_approved": true, "references_feedback": "good", "summary": "ship it"}`
}

func rejectAll(int) string {
	return `{"tldr_approved": false, "tldr_feedback": "too long", "title_approved": false, "title_feedback": "too bland",
		"references_approved": false, "references_feedback": "off topic", "summary": "rework"}`
}

type stubSearch struct {
	mu      sync.Mutex
	queries []string
	fetched []string
	fail    map[string]bool
}

func (s *stubSearch) Search(ctx context.Context, query string, maxResults int) ([]websearch.Result, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.fail[query] {
		return nil, errors.New("rate limited")
	}
	slug := strings.ReplaceAll(query, " ", "-")
	out := []websearch.Result{
		{Title: query, URL: "https://example.com/" + slug},
		{Title: query + " 2", URL: "https://example.com/" + slug + "/2"},
		{Title: "shared", URL: "https://example.com/shared"},
		{Title: "extra", URL: "https://example.com/" + slug + "/extra"},
	}
	return out[:maxResults], nil
}

func (s *stubSearch) FetchAll(ctx context.Context, urls []string, limit int) []websearch.Page {
	s.mu.Lock()
	s.fetched = append(s.fetched, urls...)
	s.mu.Unlock()
	pages := make([]websearch.Page, 0, len(urls))
	for _, u := range urls {
		pages = append(pages, websearch.Page{URL: u, Title: "page", Text: strings.Repeat("x", 5000)})
	}
	return pages
}

type stubTags struct {
	mu    sync.Mutex
	calls int
	types []string
}

func (s *stubTags) Extract(ctx context.Context, text string, types []string) ([]entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.types = types
	return []entity.Entity{{Name: "bert", Type: "Model"}, {Name: "squad", Type: "Dataset"}}, nil
}

func newPipeline(t *testing.T, f *fakeLLM, cfg Config) (*Pipeline, *stubSearch, *stubTags) {
	t.Helper()
	search := &stubSearch{}
	tags := &stubTags{}
	p, err := New(cfg, Deps{LLM: f.provider(), Tags: tags, Search: search})
	require.NoError(t, err)
	return p, search, tags
}

func TestDefaultDefinition_Shape(t *testing.T) {
	p, _, _ := newPipeline(t, newFakeLLM(approveAll), Config{})
	g := p.Graph()

	assert.Equal(t, "publication_info", g.Name())
	assert.Equal(t, []string{"manager"}, g.Edges(workflow.START))
	rc, ok := g.RevisionLoop("reviewer")
	require.True(t, ok)
	assert.Equal(t, 2, rc.MaxRounds())
	assert.Equal(t, Components(), rc.ComponentNames())
	assert.Equal(t, []string{"references_generator", "title_generator", "tldr_generator", workflow.END}, g.ConditionalTargets("reviewer"))

	chart := g.Mermaid()
	assert.Contains(t, chart, "manager --> tags_extractor")
	assert.Contains(t, chart, "reviewer -.revise.-> title_generator")
	assert.Contains(t, chart, "reviewer -.revise.-> finish")
}

func TestRun_ApprovedOnFirstReview(t *testing.T) {
	f := newFakeLLM(approveAll)
	p, search, tags := newPipeline(t, f, Config{Model: "gpt-4o-mini"})

	res, err := p.Run(context.Background(), fixtures.PaperAbstract)
	require.NoError(t, err)

	assert.Equal(t, "The project fine-tunes transformer encoders.", res.ManagerDecision)
	assert.Equal(t, []string{"tldr v1 a", "tldr v1 b", "tldr v1 c"}, res.TLDR)
	assert.Equal(t, []string{"Title v1"}, res.Title)
	assert.Equal(t, []string{"bert", "squad"}, res.Tags)
	assert.Equal(t, []Reference{{URL: "https://example.com/bert", Title: "BERT"}}, res.References)
	assert.Equal(t, "ship it", res.ReviewSummary)
	assert.Equal(t, 1, res.Rounds)
	assert.False(t, res.RevisionLimited)
	assert.Equal(t, "good", res.Feedback[ComponentTitle])

	assert.Equal(t, 1, f.calls("reviewer"))
	assert.Equal(t, 3, res.Run.Steps)
	assert.Equal(t, []string{"Framework", "Model", "Dataset"}, tags.types)

	// Duplicate queries are searched again but URLs are fetched once.
	assert.Len(t, search.queries, 3)
	assert.Equal(t, []string{
		"https://example.com/bert-fine-tuning",
		"https://example.com/bert-fine-tuning/2",
		"https://example.com/shared",
		"https://example.com/squad-benchmark",
		"https://example.com/squad-benchmark/2",
	}, search.fetched)

	selectPrompt := f.prompt("select", 1)
	assert.Contains(t, selectPrompt, "url: https://example.com/shared")
	assert.NotContains(t, selectPrompt, strings.Repeat("x", 4001))
}

func TestRun_ManagerSeesPreviewOnly(t *testing.T) {
	f := newFakeLLM(approveAll)
	p, _, _ := newPipeline(t, f, Config{})

	text := fixtures.LongDocument(2000)
	_, err := p.Run(context.Background(), text)
	require.NoError(t, err)

	manager := f.prompt("manager", 1)
	assert.Contains(t, manager, text[:500]+"...")
	assert.NotContains(t, manager, text[:501])
	assert.Contains(t, f.prompt("tldr", 1), text)
}

func TestRun_AlwaysRejectingReviewerStopsAtMaxRounds(t *testing.T) {
	f := newFakeLLM(rejectAll)
	p, _, tags := newPipeline(t, f, Config{})

	res, err := p.Run(context.Background(), fixtures.PaperAbstract)
	require.NoError(t, err)

	assert.Equal(t, 2, f.calls("reviewer"))
	assert.Equal(t, 2, f.calls("tldr"))
	assert.Equal(t, 2, f.calls("title"))
	assert.Equal(t, 2, f.calls("queries"))
	assert.Equal(t, 1, f.calls("manager"))
	assert.Equal(t, 1, tags.calls, "tags are not regenerated")

	assert.Equal(t, 2, res.Rounds)
	assert.True(t, res.RevisionLimited)
	assert.Equal(t, []string{"Title v2"}, res.Title)
	for _, c := range Components() {
		assert.Equal(t, true, res.Run.State[workflow.ApprovedField(c)], c)
	}

	// Feedback from round one reaches the regenerated components.
	assert.Contains(t, f.prompt("title", 2), "Title-specific feedback: too bland")
	assert.Contains(t, f.prompt("tldr", 2), "TLDR-specific feedback: too long")
	assert.Contains(t, f.prompt("queries", 2), "References-specific feedback: off topic")
	assert.Contains(t, f.prompt("title", 1), "Title-specific feedback: No specific feedback")
	assert.Contains(t, f.prompt("reviewer", 2), "Revision Round: 2 (Max: 2)")
}

func TestRun_OnlyUnapprovedComponentsRegenerate(t *testing.T) {
	f := newFakeLLM(func(call int) string {
		if call == 1 {
			return `{"tldr_approved": true, "tldr_feedback": "fine", "title_approved": false,
				"title_feedback": "shorter please", "references_approved": true, "references_feedback": "fine"}`
		}
		return `{"tldr_approved": false, "title_approved": true, "references_approved": false}`
	})
	p, _, _ := newPipeline(t, f, Config{MaxRounds: 4})

	res, err := p.Run(context.Background(), fixtures.PaperAbstract)
	require.NoError(t, err)

	assert.Equal(t, 2, f.calls("reviewer"), "approvals are never withdrawn")
	assert.Equal(t, 1, f.calls("tldr"))
	assert.Equal(t, 2, f.calls("title"))
	assert.Equal(t, 1, f.calls("queries"))
	assert.Equal(t, 2, res.Rounds)
	assert.False(t, res.RevisionLimited)
	assert.Contains(t, f.prompt("reviewer", 2), "Previously approved components: references, tldr.")

	skipped := res.Run.Log.ByStatus(workflow.NodeStatusSkipped)
	assert.Empty(t, skipped, "approved generators are not routed to at all")
}

func TestRun_MaxRoundsOverride(t *testing.T) {
	f := newFakeLLM(rejectAll)
	p, _, _ := newPipeline(t, f, Config{MaxRounds: 3})

	res, err := p.Run(context.Background(), fixtures.PaperAbstract)
	require.NoError(t, err)
	assert.Equal(t, 3, f.calls("reviewer"))
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, 3, p.Definition().Revision.MaxRounds)

	def, err := DefaultDefinition()
	require.NoError(t, err)
	assert.Equal(t, 2, def.Revision.MaxRounds)
}

func TestRun_ReferencesFailureFallsBack(t *testing.T) {
	f := newFakeLLM(approveAll)
	f.failOn = "queries"
	p, search, _ := newPipeline(t, f, Config{})

	res, err := p.Run(context.Background(), fixtures.PaperAbstract)
	require.NoError(t, err)
	assert.Empty(t, res.References)
	assert.Empty(t, search.queries)

	failed := res.Run.Log.Failures()
	require.Len(t, failed, 1)
	assert.Equal(t, "references_generator", failed[0].Node)
}

func TestRun_SearchFailuresTolerated(t *testing.T) {
	f := newFakeLLM(approveAll)
	search := &stubSearch{fail: map[string]bool{"bert fine-tuning": true, "squad benchmark": true}}
	p, err := New(Config{}, Deps{LLM: f.provider(), Tags: &stubTags{}, Search: search})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), fixtures.PaperAbstract)
	require.NoError(t, err)
	assert.Empty(t, res.References)
	assert.Empty(t, search.fetched)
	assert.Equal(t, 0, f.calls("select"))
	assert.Empty(t, res.Run.Log.Failures())
}

func TestRun_ManagerFailureUsesFallback(t *testing.T) {
	f := newFakeLLM(approveAll)
	f.failOn = "manager"
	p, _, _ := newPipeline(t, f, Config{})

	res, err := p.Run(context.Background(), fixtures.PaperAbstract)
	require.NoError(t, err)
	assert.Equal(t, noGuidance, res.ManagerDecision)
	assert.Contains(t, f.prompt("title", 1), "Manager's guidance: "+noGuidance)
}

func TestNew_UnknownKindRejected(t *testing.T) {
	def, err := DefaultDefinition()
	require.NoError(t, err)
	def.Nodes[0].Kind = "editor"

	_, err = New(Config{}, Deps{}, WithDefinition(def))
	require.ErrorIs(t, err, workflow.ErrGraphValidation)
	assert.Contains(t, err.Error(), `unknown publication node kind "editor"`)
}

func TestRun_ExecutorLimitSurfaces(t *testing.T) {
	f := newFakeLLM(rejectAll)
	search := &stubSearch{}
	p, err := New(Config{MaxRounds: 10}, Deps{LLM: f.provider(), Tags: &stubTags{}, Search: search},
		WithExecutorOptions(workflow.WithMaxSteps(5)))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), fixtures.PaperAbstract)
	var limit *workflow.ExecutionLimitExceeded
	require.ErrorAs(t, err, &limit)
	assert.Equal(t, 5, limit.MaxSteps)
}
