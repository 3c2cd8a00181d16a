package approval

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/avenhq/aven/internal/observability"
)

const schema = `
CREATE TABLE IF NOT EXISTS approvals (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	message_id      TEXT,
	tool_name       TEXT NOT NULL,
	tool_input      TEXT NOT NULL,
	risk_note       TEXT,
	status          TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	resolved_at     TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_approvals_conversation ON approvals(conversation_id);
`

// ErrNotFound is returned for unknown approval ids.
var ErrNotFound = errors.New("approval request not found")

// Store persists approval requests and, on approval, hands a durable
// continuation job to the queue. Creation and resolution form the
// two-phase boundary around the loop's single suspension point.
type Store struct {
	db       *sql.DB
	queue    *Queue
	messages MessageStatusSetter
	logger   zerolog.Logger
	now      func() time.Time
}

// StoreConfig wires the store's collaborators.
type StoreConfig struct {
	DB       *sql.DB
	Queue    *Queue
	Messages MessageStatusSetter
	Logger   zerolog.Logger
}

// NewStore prepares the approvals table on an open database.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("continuation queue is required")
	}
	if _, err := cfg.DB.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to init approvals schema: %w", err)
	}
	return &Store{
		db:       cfg.DB,
		queue:    cfg.Queue,
		messages: cfg.Messages,
		logger:   cfg.Logger,
		now:      time.Now,
	}, nil
}

// Create persists a pending request. This call is synchronous and ends
// the current turn invocation.
func (s *Store) Create(req Request) (Request, error) {
	if req.ConversationID == "" || req.UserID == "" || req.ToolName == "" {
		return Request{}, fmt.Errorf("conversation id, user id, and tool name are required")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.Status = StatusPending
	req.CreatedAt = s.now().UTC()

	input, err := json.Marshal(req.ToolInput)
	if err != nil {
		return Request{}, fmt.Errorf("failed to marshal tool input: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO approvals (id, conversation_id, user_id, message_id, tool_name, tool_input, risk_note, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ConversationID, req.UserID, req.MessageID, req.ToolName,
		string(input), req.RiskNote, string(req.Status), req.CreatedAt,
	)
	if err != nil {
		return Request{}, fmt.Errorf("failed to persist approval request: %w", err)
	}

	s.logger.Info().
		Str("approval_id", req.ID).
		Str("tool", req.ToolName).
		Str("conversation_id", req.ConversationID).
		Msg("Created approval request")

	return req, nil
}

// Get fetches a request by id.
func (s *Store) Get(id string) (Request, error) {
	row := s.db.QueryRow(
		`SELECT id, conversation_id, user_id, message_id, tool_name, tool_input, risk_note, status, created_at, resolved_at
		 FROM approvals WHERE id = ?`, id)
	return scanRequest(row)
}

// ListPending returns pending requests for a conversation.
func (s *Store) ListPending(conversationID string) ([]Request, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, user_id, message_id, tool_name, tool_input, risk_note, status, created_at, resolved_at
		 FROM approvals WHERE conversation_id = ? AND status = ? ORDER BY created_at ASC`,
		conversationID, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Resolve marks a request approved or denied. Resolution is idempotent:
// resolving an already-resolved request with the same outcome is a
// no-op returning the stored state; a conflicting outcome is an error.
// Only approval enqueues a continuation job; denial just marks status.
func (s *Store) Resolve(id string, approved bool) (Request, error) {
	req, err := s.Get(id)
	if err != nil {
		return Request{}, err
	}

	want := StatusDenied
	if approved {
		want = StatusApproved
	}

	if req.Status != StatusPending {
		if req.Status == want {
			return req, nil
		}
		return Request{}, fmt.Errorf("approval %s already resolved as %s", id, req.Status)
	}

	resolvedAt := s.now().UTC()
	result, err := s.db.Exec(
		`UPDATE approvals SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		string(want), resolvedAt, id, string(StatusPending))
	if err != nil {
		return Request{}, fmt.Errorf("failed to resolve approval: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Lost a race; report whatever won.
		return s.Resolve(id, approved)
	}

	req.Status = want
	req.ResolvedAt = &resolvedAt

	if s.messages != nil && req.MessageID != "" {
		if err := s.messages.SetMessageStatus(req.MessageID, want); err != nil {
			s.logger.Warn().Err(err).Str("message_id", req.MessageID).Msg("Failed to update linked message status")
		}
	}

	if approved {
		job := ContinuationJob{
			ApprovalID:     req.ID,
			Approved:       true,
			ConversationID: req.ConversationID,
			UserID:         req.UserID,
			ToolName:       req.ToolName,
			ToolInput:      req.ToolInput,
		}
		if err := s.queue.Enqueue(job); err != nil {
			return Request{}, fmt.Errorf("approval resolved but continuation enqueue failed: %w", err)
		}
	}

	observability.RecordApproval(approved)
	s.logger.Info().
		Str("approval_id", req.ID).
		Bool("approved", approved).
		Msg("Resolved approval request")

	return req, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (Request, error) {
	var req Request
	var input string
	var resolvedAt sql.NullTime
	err := row.Scan(&req.ID, &req.ConversationID, &req.UserID, &req.MessageID,
		&req.ToolName, &input, &req.RiskNote, &req.Status, &req.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("failed to scan approval: %w", err)
	}
	if resolvedAt.Valid {
		req.ResolvedAt = &resolvedAt.Time
	}
	if input != "" && input != "null" {
		if err := json.Unmarshal([]byte(input), &req.ToolInput); err != nil {
			return Request{}, fmt.Errorf("corrupt tool input for approval %s: %w", req.ID, err)
		}
	}
	return req, nil
}
