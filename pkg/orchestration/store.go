package orchestration

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultCap bounds the in-memory run table.
const DefaultCap = 400

// Store keeps orchestration runs in a bounded in-memory table. Runs are
// evicted oldest-updated-first when the table is over cap; nothing here
// survives a process restart.
type Store struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	cap    int
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore creates a run store. A cap of zero uses DefaultCap.
func NewStore(cap int, logger zerolog.Logger) *Store {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Store{
		runs:   make(map[string]*Run),
		cap:    cap,
		logger: logger,
		now:    time.Now,
	}
}

// StartRun creates a run in the planning stage with the three fixed
// tasks: planner running, executor and reviewer queued. decision seeds
// the planner's first note.
func (s *Store) StartRun(userID, objective, decision string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	run := &Run{
		RunID:     uuid.New().String(),
		UserID:    userID,
		Stage:     StagePlanning,
		Objective: objective,
		Tasks: []Task{
			{Role: RolePlanner, Status: TaskRunning},
			{Role: RoleExecutor, Status: TaskQueued},
			{Role: RoleReviewer, Status: TaskQueued},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	run.task(RolePlanner).addNote(decision)

	s.runs[run.RunID] = run
	s.evictLocked()

	s.logger.Debug().
		Str("run_id", run.RunID).
		Str("user_id", userID).
		Msg("Started orchestration run")

	copied := cloneRun(run)
	return &copied
}

// MarkPlanningComplete moves the run to executing: planner done,
// executor running.
func (s *Store) MarkPlanningComplete(runID string, planSteps []string, concerns []string) error {
	return s.mutate(runID, func(run *Run) error {
		if err := advance(run, StageExecuting); err != nil {
			return err
		}
		run.Shared.PlanSteps = append([]string{}, planSteps...)
		run.Shared.Concerns = append([]string{}, concerns...)
		run.task(RolePlanner).Status = TaskDone
		run.task(RoleExecutor).Status = TaskRunning
		return nil
	})
}

// AddToolEvent appends to the run's tool log, keeping it in the
// executing stage. A failed tool errors the executor task only; the run
// itself stays executing.
func (s *Store) AddToolEvent(runID, tool string, success bool, note string) error {
	return s.mutate(runID, func(run *Run) error {
		if run.Stage != StageExecuting {
			return fmt.Errorf("run %s is %s, not executing", runID, run.Stage)
		}
		run.Shared.ToolLog = append(run.Shared.ToolLog, ToolEvent{
			Tool:    tool,
			Success: success,
			Note:    note,
			At:      s.now(),
		})
		if len(run.Shared.ToolLog) > maxToolLog {
			run.Shared.ToolLog = run.Shared.ToolLog[len(run.Shared.ToolLog)-maxToolLog:]
		}

		executor := run.task(RoleExecutor)
		executor.addNote(note)
		if !success {
			executor.Status = TaskError
		}
		return nil
	})
}

// MarkReviewing moves the run to reviewing: executor completes unless it
// already errored, reviewer starts.
func (s *Store) MarkReviewing(runID string) error {
	return s.mutate(runID, func(run *Run) error {
		if err := advance(run, StageReviewing); err != nil {
			return err
		}
		executor := run.task(RoleExecutor)
		if executor.Status != TaskError {
			executor.Status = TaskDone
		}
		run.task(RoleReviewer).Status = TaskRunning
		return nil
	})
}

// CompleteRun finishes the run successfully and finalizes task statuses.
func (s *Store) CompleteRun(runID, summary string) error {
	return s.mutate(runID, func(run *Run) error {
		if err := advance(run, StageDone); err != nil {
			return err
		}
		run.Shared.Summary = summary
		now := s.now()
		run.CompletedAt = &now
		for i := range run.Tasks {
			if run.Tasks[i].Status != TaskError {
				run.Tasks[i].Status = TaskDone
			}
		}
		return nil
	})
}

// FailRun moves the run to error from any stage.
func (s *Store) FailRun(runID, reason string) error {
	return s.mutate(runID, func(run *Run) error {
		if run.Stage.IsTerminal() {
			return fmt.Errorf("run %s already terminal (%s)", runID, run.Stage)
		}
		run.Stage = StageError
		run.Shared.Summary = reason
		now := s.now()
		run.CompletedAt = &now
		for i := range run.Tasks {
			switch run.Tasks[i].Status {
			case TaskRunning:
				run.Tasks[i].Status = TaskError
			case TaskQueued:
				// Queued tasks never started; leave them queued.
			}
		}
		return nil
	})
}

// Get fetches a run by id. Unknown ids are a caller error, not a crash.
func (s *Store) Get(runID string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("orchestration run not found: %s", runID)
	}
	return cloneRun(run), nil
}

// ListRecent returns up to limit runs for a user, newest-updated first.
func (s *Store) ListRecent(userID string, limit int) []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Run
	for _, run := range s.runs {
		if run.UserID == userID {
			out = append(out, cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of tracked runs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func (s *Store) mutate(runID string, fn func(*Run) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("orchestration run not found: %s", runID)
	}
	if err := fn(run); err != nil {
		return err
	}
	run.UpdatedAt = s.now()
	return nil
}

// advance enforces forward-only stage movement.
func advance(run *Run, next Stage) error {
	if run.Stage.IsTerminal() {
		return fmt.Errorf("run %s already terminal (%s)", run.RunID, run.Stage)
	}
	if stageRank(next) <= stageRank(run.Stage) {
		return fmt.Errorf("cannot move run %s from %s back to %s", run.RunID, run.Stage, next)
	}
	run.Stage = next
	return nil
}

func (s *Store) evictLocked() {
	for len(s.runs) > s.cap {
		var oldestID string
		var oldest time.Time
		for id, run := range s.runs {
			if oldestID == "" || run.UpdatedAt.Before(oldest) {
				oldestID = id
				oldest = run.UpdatedAt
			}
		}
		s.logger.Debug().Str("run_id", oldestID).Msg("Evicting oldest orchestration run")
		delete(s.runs, oldestID)
	}
}

func cloneRun(run *Run) Run {
	copied := *run
	copied.Tasks = make([]Task, len(run.Tasks))
	for i, task := range run.Tasks {
		copied.Tasks[i] = task
		copied.Tasks[i].Notes = append([]string{}, task.Notes...)
	}
	copied.Shared.PlanSteps = append([]string{}, run.Shared.PlanSteps...)
	copied.Shared.Concerns = append([]string{}, run.Shared.Concerns...)
	copied.Shared.ToolLog = append([]ToolEvent{}, run.Shared.ToolLog...)
	return copied
}
