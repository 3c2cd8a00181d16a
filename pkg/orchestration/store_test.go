package orchestration

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(cap int) (*Store, *time.Time) {
	s := NewStore(cap, zerolog.Nop())
	current := time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }
	return s, &current
}

func TestStartRunSeedsFixedTasks(t *testing.T) {
	s, _ := newTestStore(0)

	run := s.StartRun("user-1", "summarize logs", "task=ops urgency=normal")
	assert.Equal(t, StagePlanning, run.Stage)
	require.Len(t, run.Tasks, 3)

	planner := run.task(RolePlanner)
	require.NotNil(t, planner)
	assert.Equal(t, TaskRunning, planner.Status)
	assert.Contains(t, planner.Notes, "task=ops urgency=normal")

	assert.Equal(t, TaskQueued, run.task(RoleExecutor).Status)
	assert.Equal(t, TaskQueued, run.task(RoleReviewer).Status)
}

func TestFullStageProgression(t *testing.T) {
	s, _ := newTestStore(0)
	run := s.StartRun("user-1", "objective", "decision")

	require.NoError(t, s.MarkPlanningComplete(run.RunID, []string{"step 1", "step 2"}, []string{"prod mention"}))
	got, err := s.Get(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StageExecuting, got.Stage)
	assert.Equal(t, TaskDone, got.task(RolePlanner).Status)
	assert.Equal(t, TaskRunning, got.task(RoleExecutor).Status)
	assert.Equal(t, []string{"step 1", "step 2"}, got.Shared.PlanSteps)

	require.NoError(t, s.AddToolEvent(run.RunID, "web_fetch", true, "fetched page"))
	require.NoError(t, s.MarkReviewing(run.RunID))
	got, _ = s.Get(run.RunID)
	assert.Equal(t, StageReviewing, got.Stage)
	assert.Equal(t, TaskDone, got.task(RoleExecutor).Status)
	assert.Equal(t, TaskRunning, got.task(RoleReviewer).Status)

	require.NoError(t, s.CompleteRun(run.RunID, "all good"))
	got, _ = s.Get(run.RunID)
	assert.Equal(t, StageDone, got.Stage)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "all good", got.Shared.Summary)
	for _, task := range got.Tasks {
		assert.Equal(t, TaskDone, task.Status)
	}
}

func TestStagesNeverRevert(t *testing.T) {
	s, _ := newTestStore(0)
	run := s.StartRun("user-1", "objective", "decision")

	require.NoError(t, s.MarkPlanningComplete(run.RunID, nil, nil))
	require.NoError(t, s.MarkReviewing(run.RunID))

	// Planning already completed; executing is behind reviewing.
	assert.Error(t, s.MarkPlanningComplete(run.RunID, nil, nil))
	assert.Error(t, s.AddToolEvent(run.RunID, "x", true, ""))

	require.NoError(t, s.CompleteRun(run.RunID, "done"))
	assert.Error(t, s.MarkReviewing(run.RunID))
	assert.Error(t, s.FailRun(run.RunID, "late failure"))
}

func TestFailRunFromAnyStage(t *testing.T) {
	s, _ := newTestStore(0)

	for _, setup := range []func(*Store, string){
		func(*Store, string) {},
		func(s *Store, id string) { _ = s.MarkPlanningComplete(id, nil, nil) },
		func(s *Store, id string) {
			_ = s.MarkPlanningComplete(id, nil, nil)
			_ = s.MarkReviewing(id)
		},
	} {
		run := s.StartRun("user-1", "objective", "decision")
		setup(s, run.RunID)

		require.NoError(t, s.FailRun(run.RunID, "boom"))
		got, err := s.Get(run.RunID)
		require.NoError(t, err)
		assert.Equal(t, StageError, got.Stage)
		assert.NotNil(t, got.CompletedAt)
		assert.Equal(t, "boom", got.Shared.Summary)
	}
}

func TestToolFailureErrorsExecutorTaskOnly(t *testing.T) {
	s, _ := newTestStore(0)
	run := s.StartRun("user-1", "objective", "decision")
	require.NoError(t, s.MarkPlanningComplete(run.RunID, nil, nil))

	require.NoError(t, s.AddToolEvent(run.RunID, "delete_file", false, "permission denied"))
	got, _ := s.Get(run.RunID)
	assert.Equal(t, StageExecuting, got.Stage, "run stays executing")
	assert.Equal(t, TaskError, got.task(RoleExecutor).Status)

	// Reviewing preserves the errored executor task.
	require.NoError(t, s.MarkReviewing(run.RunID))
	got, _ = s.Get(run.RunID)
	assert.Equal(t, TaskError, got.task(RoleExecutor).Status)
}

func TestToolLogCap(t *testing.T) {
	s, _ := newTestStore(0)
	run := s.StartRun("user-1", "objective", "decision")
	require.NoError(t, s.MarkPlanningComplete(run.RunID, nil, nil))

	for i := 0; i < maxToolLog+10; i++ {
		require.NoError(t, s.AddToolEvent(run.RunID, fmt.Sprintf("tool-%d", i), true, ""))
	}
	got, _ := s.Get(run.RunID)
	assert.Len(t, got.Shared.ToolLog, maxToolLog)
	assert.Equal(t, fmt.Sprintf("tool-%d", maxToolLog+9), got.Shared.ToolLog[maxToolLog-1].Tool)
}

func TestGetUnknownRunIsError(t *testing.T) {
	s, _ := newTestStore(0)
	_, err := s.Get("nope")
	assert.Error(t, err)
}

func TestEvictionOldestUpdatedFirst(t *testing.T) {
	s, current := newTestStore(2)

	first := s.StartRun("user-1", "a", "")
	*current = current.Add(time.Minute)
	second := s.StartRun("user-1", "b", "")
	*current = current.Add(time.Minute)
	third := s.StartRun("user-1", "c", "")

	assert.Equal(t, 2, s.Len())
	_, err := s.Get(first.RunID)
	assert.Error(t, err, "oldest run evicted")
	_, err = s.Get(second.RunID)
	assert.NoError(t, err)
	_, err = s.Get(third.RunID)
	assert.NoError(t, err)
}

func TestListRecent(t *testing.T) {
	s, current := newTestStore(0)

	a := s.StartRun("user-1", "a", "")
	*current = current.Add(time.Minute)
	b := s.StartRun("user-1", "b", "")
	s.StartRun("user-2", "other", "")

	runs := s.ListRecent("user-1", 10)
	require.Len(t, runs, 2)
	assert.Equal(t, b.RunID, runs[0].RunID)
	assert.Equal(t, a.RunID, runs[1].RunID)

	runs = s.ListRecent("user-1", 1)
	assert.Len(t, runs, 1)
}
