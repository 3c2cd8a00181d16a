package orchestration

import "time"

// Stage is the lifecycle position of an orchestration run. Stages only
// move forward; error is reachable from anywhere.
type Stage string

const (
	StagePlanning  Stage = "planning"
	StageExecuting Stage = "executing"
	StageReviewing Stage = "reviewing"
	StageDone      Stage = "done"
	StageError     Stage = "error"
)

// stageRank orders stages for monotonicity checks.
func stageRank(s Stage) int {
	switch s {
	case StagePlanning:
		return 0
	case StageExecuting:
		return 1
	case StageReviewing:
		return 2
	case StageDone:
		return 3
	case StageError:
		return 4
	}
	return -1
}

// IsTerminal reports whether the stage ends the run.
func (s Stage) IsTerminal() bool {
	return s == StageDone || s == StageError
}

// TaskRole identifies one of the three fixed tasks.
type TaskRole string

const (
	RolePlanner  TaskRole = "planner"
	RoleExecutor TaskRole = "executor"
	RoleReviewer TaskRole = "reviewer"
)

// TaskStatus is the execution state of one fixed task.
type TaskStatus string

const (
	TaskQueued  TaskStatus = "queued"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskError   TaskStatus = "error"
)

// maxTaskNotes bounds per-task note history.
const maxTaskNotes = 12

// Task is one of the three fixed tracking tasks of a run.
type Task struct {
	Role   TaskRole   `json:"role"`
	Status TaskStatus `json:"status"`
	Notes  []string   `json:"notes,omitempty"`
}

// ToolEvent records one tool execution inside the run.
type ToolEvent struct {
	Tool    string    `json:"tool"`
	Success bool      `json:"success"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// maxToolLog bounds the shared tool log.
const maxToolLog = 30

// SharedState is the cross-task scratch space of a run.
type SharedState struct {
	PlanSteps []string    `json:"plan_steps,omitempty"`
	Concerns  []string    `json:"concerns,omitempty"`
	ToolLog   []ToolEvent `json:"tool_log,omitempty"`
	Summary   string      `json:"summary,omitempty"`
}

// Run tracks planner/executor/reviewer progress for one turn run.
type Run struct {
	RunID       string      `json:"run_id"`
	UserID      string      `json:"user_id"`
	Stage       Stage       `json:"stage"`
	Objective   string      `json:"objective"`
	Shared      SharedState `json:"shared"`
	Tasks       []Task      `json:"tasks"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

func (r *Run) task(role TaskRole) *Task {
	for i := range r.Tasks {
		if r.Tasks[i].Role == role {
			return &r.Tasks[i]
		}
	}
	return nil
}

func (t *Task) addNote(note string) {
	if note == "" {
		return
	}
	t.Notes = append(t.Notes, note)
	if len(t.Notes) > maxTaskNotes {
		t.Notes = t.Notes[len(t.Notes)-maxTaskNotes:]
	}
}
