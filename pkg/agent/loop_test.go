package agent

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avenhq/aven/pkg/approval"
	"github.com/avenhq/aven/pkg/eventbus"
	"github.com/avenhq/aven/pkg/orchestration"
	"github.com/avenhq/aven/pkg/risk"
	"github.com/avenhq/aven/pkg/role"
	"github.com/avenhq/aven/pkg/session"
	"github.com/avenhq/aven/pkg/tools"
)

// scriptedProvider replays a fixed sequence of completions or errors.
type scriptedProvider struct {
	name    string
	mu      sync.Mutex
	steps   []scriptStep
	calls   int
}

type scriptStep struct {
	completion *Completion
	err        error
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.steps) == 0 {
		return &Completion{Content: "done", StopReason: StopEndTurn}, nil
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return step.completion, nil
}

type recordingExecutor struct {
	mu       sync.Mutex
	executed []string
	fail     map[string]bool
}

func (e *recordingExecutor) Execute(ctx context.Context, name string, input map[string]interface{}, userID string) tools.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, name)
	if e.fail[name] {
		return tools.ExecutionResult{Success: false, Error: "boom"}
	}
	return tools.ExecutionResult{Success: true, Output: "ok: " + name}
}

type memConversations struct {
	mu       sync.Mutex
	messages map[string][]Message
	titles   map[string]string
}

func newMemConversations() *memConversations {
	return &memConversations{messages: map[string][]Message{}, titles: map[string]string{}}
}

func (m *memConversations) AppendMessage(id string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[id] = append(m.messages[id], msg)
	return nil
}

func (m *memConversations) History(id string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message{}, m.messages[id]...), nil
}

func (m *memConversations) HasTitle(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.titles[id] != ""
}

func (m *memConversations) SetTitle(id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles[id] = title
	return nil
}

type fixedSchedules struct {
	schedule risk.Schedule
}

func (f fixedSchedules) ScheduleFor(userID string) risk.Schedule { return f.schedule }

type loopFixture struct {
	loop     *Loop
	primary  *scriptedProvider
	fallback *scriptedProvider
	executor *recordingExecutor
	convos   *memConversations
	runs     *orchestration.Store
	sessions *session.Store
	queue    *approval.Queue
	bus      *eventbus.Bus
}

func setupLoop(t *testing.T, primary, fallback *scriptedProvider) *loopFixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue, err := approval.NewQueue(db, zerolog.Nop())
	require.NoError(t, err)
	approvals, err := approval.NewStore(approval.StoreConfig{DB: db, Queue: queue, Logger: zerolog.Nop()})
	require.NoError(t, err)

	bus, err := eventbus.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	catalog := tools.NewCatalog()
	require.NoError(t, catalog.Register(tools.Definition{
		Name:        "search_notes",
		Description: "Search stored notes",
		ReadOnly:    true,
	}))
	require.NoError(t, catalog.Register(tools.Definition{
		Name:             "delete_record",
		Description:      "Delete a record",
		RequiresApproval: true,
	}))

	executor := &recordingExecutor{fail: map[string]bool{}}
	convos := newMemConversations()
	runs := orchestration.NewStore(orchestration.DefaultCap, zerolog.Nop())
	sessions := session.NewStore(session.DefaultCap, zerolog.Nop())
	roles := role.NewEngine(role.DefaultPersonas(), nil, zerolog.Nop())

	loop, err := NewLoop(Config{
		Primary:       primary,
		Fallback:      fallback,
		Model:         "test-model",
		FallbackModel: "test-local",
		MaxRounds:     4,
		Catalog:       catalog,
		Executor:      executor,
		Risk:          risk.NewEngine(zerolog.Nop()),
		Schedules:     fixedSchedules{},
		Approvals:     approvals,
		Resume:        approval.NewResumeTable(),
		Runs:          runs,
		Sessions:      sessions,
		Roles:         roles,
		Bus:           bus,
		Conversations: convos,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)

	return &loopFixture{
		loop:     loop,
		primary:  primary,
		fallback: fallback,
		executor: executor,
		convos:   convos,
		runs:     runs,
		sessions: sessions,
		queue:    queue,
		bus:      bus,
	}
}

func toolCallStep(name string, input map[string]interface{}) scriptStep {
	return scriptStep{completion: &Completion{
		ToolCalls:  []ToolCall{{ID: "call-1", Name: name, Input: input}},
		StopReason: StopToolUse,
	}}
}

func answerStep(content string) scriptStep {
	return scriptStep{completion: &Completion{Content: content, StopReason: StopEndTurn}}
}

func TestRunTurn(t *testing.T) {
	t.Run("should answer directly without tools", func(t *testing.T) {
		primary := &scriptedProvider{name: "anthropic", steps: []scriptStep{answerStep("hello there")}}
		f := setupLoop(t, primary, &scriptedProvider{name: "local"})

		result, err := f.loop.RunTurn(context.Background(), TurnParams{
			ConversationID: "c1", UserID: "u1", Message: "hi",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusDone, result.Status)
		assert.Equal(t, "hello there", result.Reply)
		assert.Equal(t, 1, result.Metrics.LLMCalls)
		assert.Equal(t, 0, result.Metrics.ToolRounds)

		run, err := f.runs.Get(result.RunID)
		require.NoError(t, err)
		assert.Equal(t, orchestration.StageDone, run.Stage)

		state, ok := f.sessions.Get("c1")
		require.True(t, ok)
		assert.Equal(t, session.StatusIdle, state.Status)
	})

	t.Run("should execute a low risk tool round then answer", func(t *testing.T) {
		primary := &scriptedProvider{name: "anthropic", steps: []scriptStep{
			toolCallStep("search_notes", map[string]interface{}{"query": "standup"}),
			answerStep("found two notes"),
		}}
		f := setupLoop(t, primary, &scriptedProvider{name: "local"})

		result, err := f.loop.RunTurn(context.Background(), TurnParams{
			ConversationID: "c1", UserID: "u1", Message: "search my notes for standup",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusDone, result.Status)
		assert.Equal(t, "found two notes", result.Reply)
		assert.Equal(t, 2, result.Metrics.LLMCalls)
		assert.Equal(t, 1, result.Metrics.ToolRounds)
		assert.Equal(t, []string{"search_notes"}, f.executor.executed)

		history, err := f.convos.History("c1")
		require.NoError(t, err)
		// user, assistant w/ tool call, tool result, final answer
		require.Len(t, history, 4)
		assert.Equal(t, RoleTool, history[2].Role)
	})

	t.Run("should suspend on a policy gated tool", func(t *testing.T) {
		primary := &scriptedProvider{name: "anthropic", steps: []scriptStep{
			toolCallStep("delete_record", map[string]interface{}{"id": "r1"}),
		}}
		f := setupLoop(t, primary, &scriptedProvider{name: "local"})

		result, err := f.loop.RunTurn(context.Background(), TurnParams{
			ConversationID: "c1", UserID: "u1", Message: "delete record r1",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusWaitingApproval, result.Status)
		assert.NotEmpty(t, result.ApprovalID)
		assert.Equal(t, 1, result.Metrics.Approvals)
		assert.Empty(t, f.executor.executed)

		state, ok := f.sessions.Get("c1")
		require.True(t, ok)
		assert.Equal(t, session.StatusWaitingTool, state.Status)

		events, err := f.bus.Events("u1", eventbus.Query{Types: []eventbus.EventType{eventbus.TypeApproval}})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, result.ApprovalID, events[0].ApprovalID)

		// The suspended invocation's run closes; the resume opens its own.
		run, err := f.runs.Get(result.RunID)
		require.NoError(t, err)
		assert.Equal(t, orchestration.StageDone, run.Stage)
		assert.Contains(t, run.Shared.Summary, "suspended awaiting approval")
	})

	t.Run("should stop at the round cap", func(t *testing.T) {
		steps := []scriptStep{}
		for i := 0; i < 10; i++ {
			steps = append(steps, toolCallStep("search_notes", map[string]interface{}{"query": fmt.Sprintf("q%d", i)}))
		}
		primary := &scriptedProvider{name: "anthropic", steps: steps}
		f := setupLoop(t, primary, &scriptedProvider{name: "local"})

		result, err := f.loop.RunTurn(context.Background(), TurnParams{
			ConversationID: "c1", UserID: "u1", Message: "keep searching",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusDone, result.Status)
		assert.Equal(t, 4, result.Metrics.ToolRounds)
		assert.Len(t, f.executor.executed, 4)
		assert.Contains(t, result.Reply, "action limit")
	})

	t.Run("should end the loop early when no call in a round runs", func(t *testing.T) {
		primary := &scriptedProvider{name: "anthropic", steps: []scriptStep{
			toolCallStep("nonexistent_tool", map[string]interface{}{}),
			answerStep("never reached"),
		}}
		f := setupLoop(t, primary, &scriptedProvider{name: "local"})

		result, err := f.loop.RunTurn(context.Background(), TurnParams{
			ConversationID: "c1", UserID: "u1", Message: "use the magic tool",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusDone, result.Status)
		assert.Equal(t, 1, result.Metrics.LLMCalls)
		assert.Equal(t, "I couldn't run any of the requested actions.", result.Reply)
		assert.Empty(t, f.executor.executed)

		history, err := f.convos.History("c1")
		require.NoError(t, err)
		assert.Contains(t, history[2].Content, "tool not available")
	})

	t.Run("should fail the run on a provider error", func(t *testing.T) {
		primary := &scriptedProvider{name: "anthropic", steps: []scriptStep{
			{err: fmt.Errorf("upstream exploded")},
		}}
		f := setupLoop(t, primary, &scriptedProvider{name: "local"})

		result, err := f.loop.RunTurn(context.Background(), TurnParams{
			ConversationID: "c1", UserID: "u1", Message: "hi",
		})
		require.Error(t, err)

		assert.Equal(t, StatusError, result.Status)
		run, runErr := f.runs.Get(result.RunID)
		require.NoError(t, runErr)
		assert.Equal(t, orchestration.StageError, run.Stage)

		state, ok := f.sessions.Get("c1")
		require.True(t, ok)
		assert.Equal(t, session.StatusFailed, state.Status)
	})
}

func TestFallback(t *testing.T) {
	t.Run("should switch to fallback once on missing credential", func(t *testing.T) {
		primary := &scriptedProvider{name: "anthropic", steps: []scriptStep{
			{err: &CredentialMissingError{Provider: "anthropic"}},
		}}
		fallback := &scriptedProvider{name: "local", steps: []scriptStep{answerStep("local answer")}}
		f := setupLoop(t, primary, fallback)

		result, err := f.loop.RunTurn(context.Background(), TurnParams{
			ConversationID: "c1", UserID: "u1", Message: "hi",
		})
		require.NoError(t, err)

		assert.Equal(t, StatusDone, result.Status)
		assert.Equal(t, "local answer", result.Reply)
		assert.True(t, result.Metrics.UsedFallback)
		assert.Equal(t, 1, fallback.calls)

		events, err := f.bus.Events("u1", eventbus.Query{Types: []eventbus.EventType{eventbus.TypeRun}, Status: string(StatusThinking)})
		require.NoError(t, err)
		switched := false
		for _, ev := range events {
			if ev.Payload["fallback"] == true {
				switched = true
				assert.Equal(t, "local", ev.Payload["provider"])
			}
		}
		assert.True(t, switched, "no thinking event flagged the fallback switch")
	})

	t.Run("should not fall back twice", func(t *testing.T) {
		primary := &scriptedProvider{name: "anthropic", steps: []scriptStep{
			{err: &CredentialMissingError{Provider: "anthropic"}},
		}}
		fallback := &scriptedProvider{name: "local", steps: []scriptStep{
			{err: &CredentialMissingError{Provider: "local"}},
		}}
		f := setupLoop(t, primary, fallback)

		result, err := f.loop.RunTurn(context.Background(), TurnParams{
			ConversationID: "c1", UserID: "u1", Message: "hi",
		})
		require.Error(t, err)
		assert.Equal(t, StatusError, result.Status)
		assert.True(t, result.Metrics.UsedFallback)
	})
}

func TestResumeTurn(t *testing.T) {
	suspendAndResolve(t, true, func(t *testing.T, f *loopFixture, result *TurnResult) {
		assert.Equal(t, StatusDone, result.Status)
		assert.Equal(t, []string{"delete_record"}, f.executor.executed)
		assert.Equal(t, "record is gone", result.Reply)
	})

	t.Run("should replay a suspended batch without duplicating its assistant message", func(t *testing.T) {
		primary := &scriptedProvider{name: "anthropic", steps: []scriptStep{
			{completion: &Completion{
				ToolCalls: []ToolCall{
					{ID: "call-1", Name: "delete_record", Input: map[string]interface{}{"id": "r1"}},
					{ID: "call-2", Name: "search_notes", Input: map[string]interface{}{"query": "r1"}},
				},
				StopReason: StopToolUse,
			}},
			answerStep("deleted and verified"),
		}}
		f := setupLoop(t, primary, &scriptedProvider{name: "local"})

		suspended, err := f.loop.RunTurn(context.Background(), TurnParams{
			ConversationID: "c1", UserID: "u1", Message: "delete record r1 then check it is gone",
		})
		require.NoError(t, err)
		require.Equal(t, StatusWaitingApproval, suspended.Status)

		result, err := f.loop.ResumeTurn(context.Background(), approval.ContinuationJob{
			ApprovalID:     suspended.ApprovalID,
			Approved:       true,
			ConversationID: "c1",
			UserID:         "u1",
			ToolName:       "delete_record",
			ToolInput:      map[string]interface{}{"id": "r1"},
		})
		require.NoError(t, err)

		assert.Equal(t, StatusDone, result.Status)
		assert.Equal(t, "deleted and verified", result.Reply)
		assert.Equal(t, []string{"delete_record", "search_notes"}, f.executor.executed)

		// call-2 must appear in exactly one assistant message; providers
		// reject histories that repeat a tool_use id.
		history, err := f.convos.History("c1")
		require.NoError(t, err)
		carriers := 0
		for _, msg := range history {
			if msg.Role != RoleAssistant {
				continue
			}
			for _, call := range msg.ToolCalls {
				if call.ID == "call-2" {
					carriers++
				}
			}
		}
		assert.Equal(t, 1, carriers)

		// Both tool results landed with their call ids.
		results := map[string]bool{}
		for _, msg := range history {
			if msg.Role == RoleTool {
				results[msg.ToolCallID] = true
			}
		}
		assert.True(t, results["call-1"])
		assert.True(t, results["call-2"])
	})

	suspendAndResolve(t, false, func(t *testing.T, f *loopFixture, result *TurnResult) {
		assert.Equal(t, StatusDone, result.Status)
		assert.Empty(t, f.executor.executed)

		history, err := f.convos.History("c1")
		require.NoError(t, err)
		denied := false
		for _, msg := range history {
			if msg.Role == RoleTool && msg.Content == "Error: the user denied this action" {
				denied = true
			}
		}
		assert.True(t, denied)
	})
}

func suspendAndResolve(t *testing.T, approved bool, check func(*testing.T, *loopFixture, *TurnResult)) {
	name := "should resume after approval"
	if !approved {
		name = "should continue after denial without executing"
	}
	t.Run(name, func(t *testing.T) {
		primary := &scriptedProvider{name: "anthropic", steps: []scriptStep{
			toolCallStep("delete_record", map[string]interface{}{"id": "r1"}),
			answerStep("record is gone"),
		}}
		f := setupLoop(t, primary, &scriptedProvider{name: "local"})

		suspended, err := f.loop.RunTurn(context.Background(), TurnParams{
			ConversationID: "c1", UserID: "u1", Message: "delete record r1",
		})
		require.NoError(t, err)
		require.Equal(t, StatusWaitingApproval, suspended.Status)

		result, err := f.loop.ResumeTurn(context.Background(), approval.ContinuationJob{
			ApprovalID:     suspended.ApprovalID,
			Approved:       approved,
			ConversationID: "c1",
			UserID:         "u1",
			ToolName:       "delete_record",
			ToolInput:      map[string]interface{}{"id": "r1"},
		})
		require.NoError(t, err)
		check(t, f, result)
	})
}
