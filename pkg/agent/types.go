package agent

import "time"

// Role values used in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the working conversation history.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured action request emitted by the provider.
type ToolCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// TokenUsage tracks token consumption of one provider call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StopReason reports why the provider ended its completion.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// TurnStatus is the lifecycle state of one turn run.
type TurnStatus string

const (
	StatusThinking        TurnStatus = "thinking"
	StatusRunningTool     TurnStatus = "running_tool"
	StatusWaitingApproval TurnStatus = "waiting_approval"
	StatusDone            TurnStatus = "done"
	StatusError           TurnStatus = "error"
)

// TurnMetrics accumulates counters across a turn run.
type TurnMetrics struct {
	LLMCalls     int  `json:"llm_calls"`
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	ToolRounds   int  `json:"tool_rounds"`
	Approvals    int  `json:"approvals"`
	UsedFallback bool `json:"used_fallback"`
}

// TurnParams is the input of one loop invocation.
type TurnParams struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Message        string `json:"message"`
}

// TurnResult is the outcome of one loop invocation. A waiting_approval
// status ends the invocation, not the logical turn.
type TurnResult struct {
	RunID      string      `json:"run_id"`
	Status     TurnStatus  `json:"status"`
	Reply      string      `json:"reply,omitempty"`
	ApprovalID string      `json:"approval_id,omitempty"`
	Metrics    TurnMetrics `json:"metrics"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Bounds on the per-turn round cap.
const (
	MinRounds     = 1
	MaxRounds     = 12
	DefaultRounds = 6
)

// ClampRounds forces a configured round cap into [MinRounds,
// MaxRounds]. Zero means unset and takes the default.
func ClampRounds(n int) int {
	if n == 0 {
		return DefaultRounds
	}
	if n < MinRounds {
		return MinRounds
	}
	if n > MaxRounds {
		return MaxRounds
	}
	return n
}
