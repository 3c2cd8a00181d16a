package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Retention policy applied by curation.
const (
	maxEntriesPerUser = 500
	retentionDays     = 90
)

// Entry is one remembered fact about or for a user.
type Entry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Content        string    `json:"content"`
	Category       string    `json:"category,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int       `json:"access_count"`
}

// Store is a per-user long-term memory backed by sqlite. Curation
// enforces the retention policy; reads refresh access times so that
// curation keeps what the agent actually uses.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore prepares the memories table on an open database.
func NewStore(db *sql.DB, logger zerolog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_accessed_at TIMESTAMP NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, last_accessed_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create memories table: %w", err)
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Remember stores a new entry for the user.
func (s *Store) Remember(userID, content, category string) (Entry, error) {
	if userID == "" {
		return Entry{}, fmt.Errorf("user id is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, fmt.Errorf("content is required")
	}

	id, err := gonanoid.New()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to generate memory id: %w", err)
	}

	now := s.now().UTC()
	entry := Entry{
		ID:             id,
		UserID:         userID,
		Content:        content,
		Category:       category,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	_, err = s.db.Exec(
		`INSERT INTO memories (id, user_id, content, category, created_at, last_accessed_at, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		entry.ID, entry.UserID, entry.Content, entry.Category, entry.CreatedAt, entry.LastAccessedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to store memory: %w", err)
	}

	s.logger.Debug().Str("memory_id", entry.ID).Str("user_id", userID).Msg("Memory stored")
	return entry, nil
}

// Search returns entries whose content matches the query, most
// recently used first. Matches count as access for curation.
func (s *Store) Search(userID, query string, limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 10
	}

	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.Query(
		`SELECT id, user_id, content, category, created_at, last_accessed_at, access_count
		 FROM memories
		 WHERE user_id = ? AND content LIKE ?
		 ORDER BY last_accessed_at DESC
		 LIMIT ?`,
		userID, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	if len(entries) > 0 {
		ids := make([]interface{}, 0, len(entries)+1)
		placeholders := make([]string, 0, len(entries))
		ids = append(ids, s.now().UTC())
		for _, e := range entries {
			ids = append(ids, e.ID)
			placeholders = append(placeholders, "?")
		}
		_, err = s.db.Exec(
			`UPDATE memories SET last_accessed_at = ?, access_count = access_count + 1
			 WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
			ids...,
		)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to update memory access times")
		}
	}

	return entries, nil
}

// List returns the user's entries, most recently used first, without
// counting as access.
func (s *Store) List(userID string, limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, user_id, content, category, created_at, last_accessed_at, access_count
		 FROM memories WHERE user_id = ?
		 ORDER BY last_accessed_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Forget removes one entry.
func (s *Store) Forget(userID, id string) error {
	res, err := s.db.Exec(`DELETE FROM memories WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}
	return nil
}

// Curate enforces the retention policy for one user: entries not
// accessed within the retention window are dropped, then the per-user
// cap is applied keeping the most recently used entries.
func (s *Store) Curate(ctx context.Context, userID string) error {
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE user_id = ? AND last_accessed_at < ?`,
		userID, cutoff,
	)
	if err != nil {
		return fmt.Errorf("failed to prune stale memories: %w", err)
	}
	stale, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE user_id = ? AND id NOT IN (
			SELECT id FROM memories WHERE user_id = ?
			ORDER BY last_accessed_at DESC LIMIT ?
		)`,
		userID, userID, maxEntriesPerUser,
	)
	if err != nil {
		return fmt.Errorf("failed to cap memories: %w", err)
	}
	overflow, _ := res.RowsAffected()

	if stale > 0 || overflow > 0 {
		s.logger.Info().
			Str("user_id", userID).
			Int64("stale", stale).
			Int64("overflow", overflow).
			Msg("Memory curation removed entries")
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Content, &e.Category, &e.CreatedAt, &e.LastAccessedAt, &e.AccessCount); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
