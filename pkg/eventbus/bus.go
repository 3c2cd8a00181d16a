package eventbus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/avenhq/aven/internal/observability"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	user_id         TEXT NOT NULL,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	source          TEXT NOT NULL,
	run_id          TEXT,
	conversation_id TEXT,
	approval_id     TEXT,
	payload         TEXT,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id, seq);
`

// Bus is the append-only, per-user, replayable event log. Writes go to
// sqlite (the durable side) with bounded retries; live delivery fans
// out to in-process subscribers best-effort.
type Bus struct {
	db     *sql.DB
	logger zerolog.Logger

	mu          sync.RWMutex
	subscribers map[string][]chan Event

	// Retry policy for the durable append.
	maxAttempts int
	baseBackoff time.Duration

	failedMu sync.Mutex
	failed   []Event
}

// maxRetainedFailures caps the dead set of undeliverable events.
const maxRetainedFailures = 100

// Open creates (or reopens) the bus log at path. Use ":memory:" in
// tests.
func Open(path string, logger zerolog.Logger) (*Bus, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init event log schema: %w", err)
	}
	return &Bus{
		db:          db,
		logger:      logger,
		subscribers: make(map[string][]chan Event),
		maxAttempts: 3,
		baseBackoff: time.Second,
	}, nil
}

// Close closes the underlying log.
func (b *Bus) Close() error {
	return b.db.Close()
}

// Publish appends an event to the user's log and delivers it live.
// The durable append is at-least-once with bounded retries; events that
// still fail are kept in a capped dead set and the error is returned.
func (b *Bus) Publish(event Event) error {
	if event.UserID == "" {
		return fmt.Errorf("event user id is required")
	}
	if event.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate event id: %w", err)
		}
		event.ID = id
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var lastErr error
	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(b.baseBackoff << (attempt - 1))
		}
		if lastErr = b.append(event); lastErr == nil {
			break
		}
		b.logger.Warn().
			Err(lastErr).
			Str("event_id", event.ID).
			Int("attempt", attempt+1).
			Msg("Event append failed")
	}
	if lastErr != nil {
		b.retainFailure(event)
		observability.RecordEventPublish(string(event.Type), false)
		return fmt.Errorf("failed to append event after %d attempts: %w", b.maxAttempts, lastErr)
	}

	observability.RecordEventPublish(string(event.Type), true)
	b.deliver(event)
	return nil
}

func (b *Bus) append(event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = b.db.Exec(
		`INSERT INTO events (id, user_id, type, status, source, run_id, conversation_id, approval_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.UserID, string(event.Type), event.Status, event.Source,
		event.RunID, event.ConversationID, event.ApprovalID, string(payload), event.CreatedAt,
	)
	if err != nil {
		return err
	}

	b.pruneUser(event.UserID)
	return nil
}

// pruneUser enforces the per-user cap and the retention window.
func (b *Bus) pruneUser(userID string) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	if _, err := b.db.Exec(`DELETE FROM events WHERE user_id = ? AND created_at < ?`, userID, cutoff); err != nil {
		b.logger.Warn().Err(err).Msg("Event retention prune failed")
	}
	_, err := b.db.Exec(
		`DELETE FROM events WHERE user_id = ? AND seq NOT IN (
			SELECT seq FROM events WHERE user_id = ? ORDER BY seq DESC LIMIT ?
		)`, userID, userID, maxEventsPerUser)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Event cap prune failed")
	}
}

func (b *Bus) retainFailure(event Event) {
	b.failedMu.Lock()
	defer b.failedMu.Unlock()
	b.failed = append(b.failed, event)
	if len(b.failed) > maxRetainedFailures {
		b.failed = b.failed[len(b.failed)-maxRetainedFailures:]
	}
}

// RetainedFailures returns events that exhausted their append retries.
func (b *Bus) RetainedFailures() []Event {
	b.failedMu.Lock()
	defer b.failedMu.Unlock()
	return append([]Event{}, b.failed...)
}

// Subscribe registers a live listener for a user's events. The returned
// cancel function must be called to release the channel. Slow consumers
// drop events rather than block publishers.
func (b *Bus) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subscribers[userID] = append(b.subscribers[userID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[userID]
		for i, sub := range subs {
			if sub == ch {
				b.subscribers[userID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	subs := append([]chan Event{}, b.subscribers[event.UserID]...)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug().Str("event_id", event.ID).Msg("Dropping event for slow subscriber")
		}
	}
}

// Events reads a user's log through the cursor query, oldest first.
func (b *Bus) Events(userID string, q Query) ([]Event, error) {
	where := []string{"user_id = ?"}
	args := []interface{}{userID}

	if q.AfterID != "" {
		where = append(where, "seq > (SELECT seq FROM events WHERE id = ?)")
		args = append(args, q.AfterID)
	}
	if len(q.Types) > 0 {
		placeholders := make([]string, len(q.Types))
		for i, t := range q.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, q.Source)
	}

	limit := q.Limit
	if limit <= 0 || limit > maxEventsPerUser {
		limit = 200
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT id, user_id, type, status, source, run_id, conversation_id, approval_id, payload, created_at
		 FROM events WHERE %s ORDER BY seq ASC LIMIT ?`, strings.Join(where, " AND "))

	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Status, &e.Source,
			&e.RunID, &e.ConversationID, &e.ApprovalID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				b.logger.Warn().Err(err).Str("event_id", e.ID).Msg("Corrupt event payload")
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
