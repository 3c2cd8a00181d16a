package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avenhq/aven/internal/observability"
)

const queueSchema = `
CREATE TABLE IF NOT EXISTS continuation_jobs (
	id              TEXT PRIMARY KEY,
	payload         TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	next_attempt_at TIMESTAMP NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
`

// Job statuses inside the queue.
const (
	jobPending = "pending"
	jobDone    = "done"
	jobDead    = "dead"
)

// Queue is the durable continuation-job queue. Delivery is
// at-least-once: a job is retried up to maxAttempts with exponential
// backoff, then parked as dead.
type Queue struct {
	db          *sql.DB
	logger      zerolog.Logger
	maxAttempts int
	baseBackoff time.Duration
	maxDead     int
	now         func() time.Time
}

// Handler consumes one continuation job. Returning an error schedules a
// retry.
type Handler func(ctx context.Context, job ContinuationJob) error

// NewQueue prepares the queue table on an open database.
func NewQueue(db *sql.DB, logger zerolog.Logger) (*Queue, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if _, err := db.Exec(queueSchema); err != nil {
		return nil, fmt.Errorf("failed to init queue schema: %w", err)
	}
	return &Queue{
		db:          db,
		logger:      logger,
		maxAttempts: 3,
		baseBackoff: time.Second,
		maxDead:     200,
		now:         time.Now,
	}, nil
}

// Enqueue appends a job for the external consumer.
func (q *Queue) Enqueue(job ContinuationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal continuation job: %w", err)
	}
	now := q.now().UTC()
	_, err = q.db.Exec(
		`INSERT INTO continuation_jobs (id, payload, attempts, status, next_attempt_at, created_at)
		 VALUES (?, ?, 0, ?, ?, ?)`,
		uuid.New().String(), string(payload), jobPending, now, now)
	if err != nil {
		return fmt.Errorf("failed to enqueue continuation job: %w", err)
	}
	return nil
}

// ProcessPending delivers every due pending job to the handler once,
// applying the retry policy. Returns the number of jobs handled
// successfully. Callers run this from a poll loop.
func (q *Queue) ProcessPending(ctx context.Context, handler Handler) (int, error) {
	now := q.now().UTC()
	rows, err := q.db.Query(
		`SELECT id, payload, attempts FROM continuation_jobs
		 WHERE status = ? AND next_attempt_at <= ? ORDER BY created_at ASC`,
		jobPending, now)
	if err != nil {
		return 0, fmt.Errorf("failed to read pending jobs: %w", err)
	}

	type due struct {
		id       string
		payload  string
		attempts int
	}
	var jobs []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.id, &d.payload, &d.attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	delivered := 0
	for _, d := range jobs {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		var job ContinuationJob
		if err := json.Unmarshal([]byte(d.payload), &job); err != nil {
			q.logger.Error().Err(err).Str("job_id", d.id).Msg("Corrupt continuation job, parking as dead")
			q.markDead(d.id)
			continue
		}

		attempt := d.attempts + 1
		if err := handler(ctx, job); err != nil {
			q.logger.Warn().
				Err(err).
				Str("job_id", d.id).
				Int("attempt", attempt).
				Msg("Continuation job failed")
			if attempt >= q.maxAttempts {
				q.markDead(d.id)
				observability.RecordContinuation("dead")
			} else {
				observability.RecordContinuation("retry")
				backoff := q.baseBackoff << (attempt - 1)
				retryAt := q.now().UTC().Add(backoff)
				if _, uerr := q.db.Exec(
					`UPDATE continuation_jobs SET attempts = ?, next_attempt_at = ? WHERE id = ?`,
					attempt, retryAt, d.id); uerr != nil {
					q.logger.Error().Err(uerr).Str("job_id", d.id).Msg("Failed to reschedule job")
				}
			}
			continue
		}

		if _, uerr := q.db.Exec(
			`UPDATE continuation_jobs SET status = ?, attempts = ? WHERE id = ?`,
			jobDone, attempt, d.id); uerr != nil {
			q.logger.Error().Err(uerr).Str("job_id", d.id).Msg("Failed to mark job done")
		}
		observability.RecordContinuation("done")
		delivered++
	}
	return delivered, nil
}

// Run polls the queue until the context is cancelled.
func (q *Queue) Run(ctx context.Context, handler Handler, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.ProcessPending(ctx, handler); err != nil && ctx.Err() == nil {
				q.logger.Error().Err(err).Msg("Continuation queue pass failed")
			}
		}
	}
}

// DeadJobs returns retained failed jobs, oldest first.
func (q *Queue) DeadJobs() ([]ContinuationJob, error) {
	rows, err := q.db.Query(
		`SELECT payload FROM continuation_jobs WHERE status = ? ORDER BY created_at ASC`, jobDead)
	if err != nil {
		return nil, fmt.Errorf("failed to read dead jobs: %w", err)
	}
	defer rows.Close()

	var out []ContinuationJob
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var job ContinuationJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (q *Queue) markDead(id string) {
	if _, err := q.db.Exec(
		`UPDATE continuation_jobs SET status = ? WHERE id = ?`, jobDead, id); err != nil {
		q.logger.Error().Err(err).Str("job_id", id).Msg("Failed to park job as dead")
		return
	}
	// Keep the dead set bounded.
	_, err := q.db.Exec(
		`DELETE FROM continuation_jobs WHERE status = ? AND id NOT IN (
			SELECT id FROM continuation_jobs WHERE status = ? ORDER BY created_at DESC LIMIT ?
		)`, jobDead, jobDead, q.maxDead)
	if err != nil {
		q.logger.Warn().Err(err).Msg("Failed to prune dead jobs")
	}
}
