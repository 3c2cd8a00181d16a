package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LocalProvider implements Provider against an Ollama-compatible local
// runtime. It is the fallback of last resort and never requires a
// credential.
type LocalProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewLocalProvider creates a local provider. An empty baseURL defaults
// to the standard Ollama endpoint.
func NewLocalProvider(baseURL, model string) *LocalProvider {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &LocalProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Name returns the provider name.
func (p *LocalProvider) Name() string {
	return FallbackProviderName
}

type localChatMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ToolCalls []localToolCall `json:"tool_calls,omitempty"`
}

type localToolCall struct {
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

type localChatRequest struct {
	Model    string                   `json:"model"`
	Messages []localChatMessage       `json:"messages"`
	Tools    []map[string]interface{} `json:"tools,omitempty"`
	Stream   bool                     `json:"stream"`
	Options  map[string]interface{}   `json:"options,omitempty"`
}

type localChatResponse struct {
	Message        localChatMessage `json:"message"`
	DoneReason     string           `json:"done_reason"`
	PromptEvalCnt  int              `json:"prompt_eval_count"`
	EvalCount      int              `json:"eval_count"`
}

// Complete makes a chat call to the local runtime.
func (p *LocalProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	messages := []localChatMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, localChatMessage{Role: RoleSystem, Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			continue
		}
		messages = append(messages, localChatMessage{Role: msg.Role, Content: msg.Content})
	}

	tools := []map[string]interface{}{}
	for _, tool := range req.Tools {
		tools = append(tools, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        tool["name"],
				"description": tool["description"],
				"parameters":  tool["input_schema"],
			},
		})
	}

	body := localChatRequest{
		Model:    p.model,
		Messages: messages,
		Tools:    tools,
		Stream:   false,
	}
	if req.Temperature > 0 {
		body.Options = map[string]interface{}{"temperature": req.Temperature}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local runtime unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local runtime returned status %d", resp.StatusCode)
	}

	var chat localChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}

	toolCalls := []ToolCall{}
	for i, tc := range chat.Message.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{
			ID:    fmt.Sprintf("local-call-%d", i),
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		})
	}

	stop := StopEndTurn
	switch {
	case len(toolCalls) > 0:
		stop = StopToolUse
	case chat.DoneReason == "length":
		stop = StopMaxTokens
	}

	return &Completion{
		Content:    chat.Message.Content,
		ToolCalls:  toolCalls,
		StopReason: stop,
		Usage: TokenUsage{
			InputTokens:  chat.PromptEvalCnt,
			OutputTokens: chat.EvalCount,
		},
	}, nil
}
