package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avenhq/aven/internal/observability"
)

// Status is the liveness state of a conversation session.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRunning     Status = "running"
	StatusWaitingTool Status = "waiting_tool"
	StatusFailed      Status = "failed"
	StatusDone        Status = "done"
)

// IsTerminal returns true when the session needs no further recovery.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// State is the bookkeeping record for one conversation.
type State struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	UpdatedAt      time.Time `json:"updated_at"`
	RunCount       int       `json:"run_count"`
}

// Store is a process-local session table. It holds no durable state;
// everything is rebuilt from scratch on restart.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*State
	cap      int
	logger   zerolog.Logger
	now      func() time.Time
}

// DefaultCap bounds the table before oldest-updated eviction kicks in.
const DefaultCap = 1000

// NewStore creates a session store. A cap of zero uses DefaultCap.
func NewStore(cap int, logger zerolog.Logger) *Store {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Store{
		sessions: make(map[string]*State),
		cap:      cap,
		logger:   logger,
		now:      time.Now,
	}
}

// Touch records activity at turn start, creating the session if needed
// and incrementing its run count.
func (s *Store) Touch(conversationID, userID string) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[conversationID]
	if !ok {
		state = &State{
			ConversationID: conversationID,
			UserID:         userID,
			Status:         StatusIdle,
		}
		s.sessions[conversationID] = state
		s.evictLocked()
	}
	state.RunCount++
	state.UpdatedAt = s.now()
	observability.SetActiveSessions(len(s.sessions))
	copied := *state
	return &copied
}

// SetStatus updates the status of a known session.
func (s *Store) SetStatus(conversationID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[conversationID]
	if !ok {
		return fmt.Errorf("session not found: %s", conversationID)
	}
	state.Status = status
	state.UpdatedAt = s.now()
	return nil
}

// Get returns a copy of a session state.
func (s *Store) Get(conversationID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[conversationID]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// ListByUser returns copies of all sessions belonging to a user.
func (s *Store) ListByUser(userID string) []State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []State
	for _, state := range s.sessions {
		if state.UserID == userID {
			out = append(out, *state)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// UsersTouchedSince returns ids of users with any session updated after
// the cutoff. Used by the heartbeat loop to scope its tick.
func (s *Store) UsersTouchedSince(cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	var users []string
	for _, state := range s.sessions {
		if state.UpdatedAt.After(cutoff) && !seen[state.UserID] {
			seen[state.UserID] = true
			users = append(users, state.UserID)
		}
	}
	sort.Strings(users)
	return users
}

// QuarantineStale flips every non-terminal session of a user whose last
// update predates the cutoff to failed. Returns the affected ids.
func (s *Store) QuarantineStale(userID string, cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var quarantined []string
	for id, state := range s.sessions {
		if state.UserID != userID || state.Status.IsTerminal() {
			continue
		}
		if state.UpdatedAt.Before(cutoff) {
			state.Status = StatusFailed
			state.UpdatedAt = s.now()
			quarantined = append(quarantined, id)
		}
	}
	if len(quarantined) > 0 {
		s.logger.Warn().
			Str("user_id", userID).
			Strs("conversations", quarantined).
			Msg("Quarantined stale sessions")
	}
	sort.Strings(quarantined)
	return quarantined
}

// Len returns the current table size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// evictLocked drops oldest-updated sessions while over cap.
func (s *Store) evictLocked() {
	for len(s.sessions) > s.cap {
		var oldestID string
		var oldest time.Time
		for id, state := range s.sessions {
			if oldestID == "" || state.UpdatedAt.Before(oldest) {
				oldestID = id
				oldest = state.UpdatedAt
			}
		}
		delete(s.sessions, oldestID)
	}
}
