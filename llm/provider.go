package llm

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/graphflow/types"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage is shorthand for a single-turn prompt.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// ResolveModel applies a per-call override set with types.WithLLMModel.
// req is copied, never mutated.
func ResolveModel(ctx context.Context, req *ChatRequest) *ChatRequest {
	m, ok := types.LLMModel(ctx)
	if !ok || m == req.Model {
		return req
	}
	r := *req
	r.Model = m
	return &r
}

// ResponseFormat 控制输出格式，"json_object" 要求模型只输出 JSON。
type ResponseFormat struct {
	Type string `json:"type"`
}

var JSONObjectFormat = &ResponseFormat{Type: "json_object"}

type ChatRequest struct {
	Model          string          `json:"model,omitempty"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float32         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage"`
	CreatedAt time.Time    `json:"created_at"`
	Cached    bool         `json:"cached,omitempty"`
}

// Content 返回第一个 choice 的文本，无 choice 时返回空串。
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Choices[0].Message.Content)
}

// Provider 定义统一的 LLM 适配接口。
type Provider interface {
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Name() string
}
