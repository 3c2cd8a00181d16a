package tools

import "context"

// Definition describes a tool the provider may request.
type Definition struct {
	Name              string                 `json:"name"`
	Description       string                 `json:"description"`
	InputSchema       map[string]interface{} `json:"input_schema,omitempty"`
	RequiresApproval  bool                   `json:"requires_approval"`
	ReadOnly          bool                   `json:"read_only"`
}

// ExecutionResult is the outcome of running a single tool.
type ExecutionResult struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Executor runs a named tool with structured input on behalf of a user.
type Executor interface {
	Execute(ctx context.Context, name string, input map[string]interface{}, userID string) ExecutionResult
}
