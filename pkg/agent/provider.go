package agent

import "context"

// Fallback provider name. The loop never falls back away from it.
const FallbackProviderName = "local"

// CompletionRequest carries one provider call.
type CompletionRequest struct {
	Model        string
	Messages     []Message
	Tools        []map[string]interface{}
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Completion is the provider's answer, possibly carrying tool calls.
type Completion struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      TokenUsage
}

// Provider turns a message list, tool catalog, and system prompt into a
// completion.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Name() string
}
