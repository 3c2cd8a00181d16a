package approval

import "time"

// Status of an approval request. Resolved exactly once.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Request is a suspended tool-call decision awaiting a human.
type Request struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	UserID         string                 `json:"user_id"`
	MessageID      string                 `json:"message_id"`
	ToolName       string                 `json:"tool_name"`
	ToolInput      map[string]interface{} `json:"tool_input"`
	// RiskNote is the assessment reason kept as an audit note.
	RiskNote   string     `json:"risk_note,omitempty"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ContinuationJob is the payload handed to the external worker that
// performs the deferred action after approval. Delivery is
// at-least-once; consumers must be idempotent.
type ContinuationJob struct {
	ApprovalID     string                 `json:"approval_id"`
	Approved       bool                   `json:"approved"`
	ConversationID string                 `json:"conversation_id"`
	UserID         string                 `json:"user_id"`
	ToolName       string                 `json:"tool_name"`
	ToolInput      map[string]interface{} `json:"tool_input"`
}

// MessageStatusSetter updates the status of the chat message linked to
// an approval request. Implemented by the message persistence layer.
type MessageStatusSetter interface {
	SetMessageStatus(messageID string, status Status) error
}
