package approval

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue, err := NewQueue(db, zerolog.Nop())
	require.NoError(t, err)
	queue.baseBackoff = time.Millisecond
	return queue
}

func testJob(id string) ContinuationJob {
	return ContinuationJob{
		ApprovalID:     id,
		Approved:       true,
		ConversationID: "conv-1",
		UserID:         "user-1",
		ToolName:       "deploy_service",
		ToolInput:      map[string]interface{}{"env": "staging"},
	}
}

func TestQueueDeliversInOrder(t *testing.T) {
	queue := newTestQueue(t)

	require.NoError(t, queue.Enqueue(testJob("a")))
	require.NoError(t, queue.Enqueue(testJob("b")))

	var seen []string
	n, err := queue.ProcessPending(context.Background(), func(_ context.Context, job ContinuationJob) error {
		seen = append(seen, job.ApprovalID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, seen)

	// Nothing left.
	n, err = queue.ProcessPending(context.Background(), func(_ context.Context, _ ContinuationJob) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueueRetriesThenParksDead(t *testing.T) {
	queue := newTestQueue(t)
	// Make the clock controllable so backoff windows pass instantly.
	current := time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC)
	queue.now = func() time.Time { return current }

	require.NoError(t, queue.Enqueue(testJob("doomed")))

	attempts := 0
	failing := func(_ context.Context, _ ContinuationJob) error {
		attempts++
		return fmt.Errorf("consumer down")
	}

	for i := 0; i < queue.maxAttempts; i++ {
		_, err := queue.ProcessPending(context.Background(), failing)
		require.NoError(t, err)
		current = current.Add(time.Minute)
	}
	assert.Equal(t, queue.maxAttempts, attempts)

	// Exhausted: no further delivery attempts.
	_, err := queue.ProcessPending(context.Background(), failing)
	require.NoError(t, err)
	assert.Equal(t, queue.maxAttempts, attempts)

	dead, err := queue.DeadJobs()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "doomed", dead[0].ApprovalID)
}

func TestQueueBackoffDelaysRetry(t *testing.T) {
	queue := newTestQueue(t)
	current := time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC)
	queue.now = func() time.Time { return current }
	queue.baseBackoff = time.Second

	require.NoError(t, queue.Enqueue(testJob("slow")))

	attempts := 0
	failing := func(_ context.Context, _ ContinuationJob) error {
		attempts++
		return fmt.Errorf("nope")
	}

	_, err := queue.ProcessPending(context.Background(), failing)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	// Before the 1s backoff elapses the job is not due.
	current = current.Add(500 * time.Millisecond)
	_, err = queue.ProcessPending(context.Background(), failing)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	current = current.Add(time.Second)
	_, err = queue.ProcessPending(context.Background(), failing)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestResumeTable(t *testing.T) {
	table := NewResumeTable()

	state := ResumeState{
		ConversationID: "conv-1",
		ApprovalID:     "appr-1",
		Call:           PendingCall{ID: "tc-1", Name: "deploy_service"},
		Remaining:      []PendingCall{{ID: "tc-2", Name: "notify_team"}},
		Round:          2,
	}
	table.Put(state)
	assert.Equal(t, 1, table.Len())

	got, ok := table.Take("conv-1", "appr-1")
	require.True(t, ok)
	assert.Equal(t, "deploy_service", got.Call.Name)
	assert.Len(t, got.Remaining, 1)

	// Take is one-shot.
	_, ok = table.Take("conv-1", "appr-1")
	assert.False(t, ok)

	_, ok = table.Take("conv-1", "unknown")
	assert.False(t, ok)
}
