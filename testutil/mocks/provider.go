// Package mocks 提供 llm.Provider 与 llm.Store 的测试替身。
package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/graphflow/llm"
)

// ErrExhausted NewFlakeyProvider 在成功次数用尽后返回的错误
var ErrExhausted = errors.New("mock provider: scripted successes exhausted")

// Call 一次 Completion 调用的记录
type Call struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Err      error
}

// CompletionFunc 自定义应答逻辑
type CompletionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

// MockProvider 可编排的 llm.Provider。应答优先级：
// CompletionFunc，其次固定错误，再次 WithResponses 排队的内容，最后默认内容。
type MockProvider struct {
	mu sync.Mutex

	reply     string
	queue     []string
	err       error
	fn        CompletionFunc
	delay     time.Duration
	okBudget  int // >0 时只允许这么多次成功
	usage     llm.ChatUsage
	calls     []Call
	callCount int
}

// NewMockProvider 默认回复 "Mock response"，用量 10/20
func NewMockProvider() *MockProvider {
	return &MockProvider{
		reply: "Mock response",
		usage: llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

// NewSuccessProvider 总是回复 content
func NewSuccessProvider(content string) *MockProvider {
	return NewMockProvider().WithResponse(content)
}

// NewErrorProvider 总是返回 err
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewFlakeyProvider 前 successes 次回复 content，之后返回 ErrExhausted
func NewFlakeyProvider(successes int, content string) *MockProvider {
	m := NewSuccessProvider(content)
	m.okBudget = successes
	return m
}

func (m *MockProvider) configure(fn func()) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
	return m
}

func (m *MockProvider) WithResponse(content string) *MockProvider {
	return m.configure(func() { m.reply = content })
}

// WithResponses 依次返回 contents，用完后回到默认内容
func (m *MockProvider) WithResponses(contents ...string) *MockProvider {
	return m.configure(func() { m.queue = append(m.queue, contents...) })
}

func (m *MockProvider) WithError(err error) *MockProvider {
	return m.configure(func() { m.err = err })
}

func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	return m.configure(func() {
		m.usage = llm.ChatUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
	})
}

// WithDelay 每次调用先等待 d，期间 ctx 取消则返回 ctx.Err()
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	return m.configure(func() { m.delay = d })
}

func (m *MockProvider) WithCompletionFunc(fn CompletionFunc) *MockProvider {
	return m.configure(func() { m.fn = fn })
}

func (m *MockProvider) Name() string { return "mock" }

// Completion 实现 llm.Provider
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	fn, delay, usage := m.fn, m.delay, m.usage
	content, err := m.reply, m.err
	if len(m.queue) > 0 {
		content, m.queue = m.queue[0], m.queue[1:]
	}
	if err == nil && m.okBudget > 0 && n > m.okBudget {
		err = ErrExhausted
	}
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return m.record(req, nil, ctx.Err())
		}
	}

	if fn != nil {
		resp, ferr := fn(ctx, req)
		return m.record(req, resp, ferr)
	}
	if err != nil {
		return m.record(req, nil, err)
	}
	return m.record(req, &llm.ChatResponse{
		ID:       "mock-response",
		Provider: "mock",
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		Usage:     usage,
		CreatedAt: time.Now(),
	}, nil)
}

func (m *MockProvider) record(req *llm.ChatRequest, resp *llm.ChatResponse, err error) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Request: req, Response: resp, Err: err})
	m.mu.Unlock()
	return resp, err
}

// Calls 返回所有调用记录的副本
func (m *MockProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount 返回进入 Completion 的次数，包括仍在等待的调用
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastCall 返回最近完成的调用，没有时为 nil
func (m *MockProvider) LastCall() *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}
