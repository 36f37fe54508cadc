package types

import "context"

type ctxKey uint8

const (
	runIDKey ctxKey = iota
	nodeNameKey
	llmModelKey
	requestIDKey
	subjectKey
)

func withString(ctx context.Context, k ctxKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

// stringValue 未设置与空串都返回 ok=false
func stringValue(ctx context.Context, k ctxKey) (string, bool) {
	v, _ := ctx.Value(k).(string)
	return v, v != ""
}

func WithRunID(ctx context.Context, id string) context.Context { return withString(ctx, runIDKey, id) }
func RunID(ctx context.Context) (string, bool) { return stringValue(ctx, runIDKey) }

// WithNodeName 当前执行的图节点
func WithNodeName(ctx context.Context, node string) context.Context {
	return withString(ctx, nodeNameKey, node)
}
func NodeName(ctx context.Context) (string, bool) { return stringValue(ctx, nodeNameKey) }

// WithLLMModel 覆盖 ctx 之下所有 LLM 调用使用的模型
func WithLLMModel(ctx context.Context, model string) context.Context {
	return withString(ctx, llmModelKey, model)
}
func LLMModel(ctx context.Context) (string, bool) { return stringValue(ctx, llmModelKey) }

func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}
func RequestID(ctx context.Context) (string, bool) { return stringValue(ctx, requestIDKey) }

// WithSubject 认证后的调用方：JWT subject 或 API Key 标签
func WithSubject(ctx context.Context, subject string) context.Context {
	return withString(ctx, subjectKey, subject)
}
func Subject(ctx context.Context) (string, bool) { return stringValue(ctx, subjectKey) }
