package core

import (
	"context"
)

// ToolCaller is the single model capability the decision loop depends on:
// given a conversation and tool schemas, return either tool calls or a plain message.
type ToolCaller interface {
	ChatCompletionWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, error)
}

// LLMClient abstracts the low-level API client (OpenAI-compatible, scripted, etc).
type LLMClient interface {
	ToolCaller
	ChatCompletion(ctx context.Context, messages []Message) (string, error)
}
