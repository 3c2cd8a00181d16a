package eventbus

import "time"

// EventType classifies a lifecycle event.
type EventType string

const (
	TypeRun           EventType = "run"
	TypeToolCall      EventType = "tool_call"
	TypeApproval      EventType = "approval"
	TypeWorkflowRun   EventType = "workflow_run"
	TypePlaybookRun   EventType = "playbook_run"
	TypeVersionChange EventType = "version_change"
	TypeFailure       EventType = "failure"
)

// Event is one append-only lifecycle record.
type Event struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	Type           EventType              `json:"type"`
	Status         string                 `json:"status"`
	Source         string                 `json:"source"`
	RunID          string                 `json:"run_id,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	ApprovalID     string                 `json:"approval_id,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Query filters a cursor read of the log.
type Query struct {
	// AfterID resumes reading after a previously seen event id.
	AfterID string
	Types   []EventType
	Status  string
	Source  string
	Limit   int
}

// Retention policy for the per-user log.
const (
	maxEventsPerUser = 5000
	retentionDays    = 30
)
