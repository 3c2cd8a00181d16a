package approval

import "sync"

// PendingCall is a provider-requested tool call captured at suspension.
type PendingCall struct {
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

// ResumeState captures enough of a suspended round for an external
// worker to replay the approved call and continue the loop. Approval
// resumption is a new invocation, not a continuation of the suspended
// call stack.
type ResumeState struct {
	ConversationID string        `json:"conversation_id"`
	ApprovalID     string        `json:"approval_id"`
	Call           PendingCall   `json:"call"`
	Remaining      []PendingCall `json:"remaining,omitempty"`
	Round          int           `json:"round"`
}

type resumeKey struct {
	conversationID string
	approvalID     string
}

// ResumeTable keys suspended-round state by (conversation, approval).
// In-memory only: a restart loses it, and the continuation job carries
// enough context to re-run the approved call standalone.
type ResumeTable struct {
	mu     sync.Mutex
	states map[resumeKey]ResumeState
}

// NewResumeTable creates an empty table.
func NewResumeTable() *ResumeTable {
	return &ResumeTable{states: make(map[resumeKey]ResumeState)}
}

// Put records the suspended state.
func (t *ResumeTable) Put(state ResumeState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[resumeKey{state.ConversationID, state.ApprovalID}] = state
}

// Take removes and returns the state for a resolved approval. The
// second return is false when no state was recorded (e.g. a restart
// wiped it).
func (t *ResumeTable) Take(conversationID, approvalID string) (ResumeState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := resumeKey{conversationID, approvalID}
	state, ok := t.states[key]
	if ok {
		delete(t.states, key)
	}
	return state, ok
}

// Len returns the number of suspended rounds.
func (t *ResumeTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
