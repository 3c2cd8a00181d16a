package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/avenhq/aven/internal/observability"
	"github.com/avenhq/aven/pkg/approval"
	"github.com/avenhq/aven/pkg/eventbus"
	"github.com/avenhq/aven/pkg/orchestration"
	"github.com/avenhq/aven/pkg/risk"
	"github.com/avenhq/aven/pkg/role"
	"github.com/avenhq/aven/pkg/session"
	"github.com/avenhq/aven/pkg/tools"
)

// ConversationStore persists conversation history and titles.
type ConversationStore interface {
	AppendMessage(conversationID string, msg Message) error
	History(conversationID string) ([]Message, error)
	HasTitle(conversationID string) bool
	SetTitle(conversationID, title string) error
}

// ScheduleSource resolves the autonomy schedule of a user.
type ScheduleSource interface {
	ScheduleFor(userID string) risk.Schedule
}

// Config wires the loop's collaborators.
type Config struct {
	Primary  Provider
	Fallback Provider

	Model         string
	FallbackModel string
	SystemPrompt  string
	Temperature   float64
	MaxTokens     int
	MaxRounds     int

	Catalog       *tools.Catalog
	Executor      tools.Executor
	Risk          *risk.Engine
	Schedules     ScheduleSource
	Approvals     *approval.Store
	Resume        *approval.ResumeTable
	Runs          *orchestration.Store
	Sessions      *session.Store
	Roles         *role.Engine
	Bus           *eventbus.Bus
	Conversations ConversationStore
	Logger        zerolog.Logger
}

// Loop runs bounded reasoning-and-action turns against a provider.
type Loop struct {
	cfg Config
	now func() time.Time
}

// NewLoop validates the config and builds a loop.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.Primary == nil {
		return nil, fmt.Errorf("primary provider is required")
	}
	if cfg.Fallback == nil {
		return nil, fmt.Errorf("fallback provider is required")
	}
	if cfg.Catalog == nil || cfg.Executor == nil {
		return nil, fmt.Errorf("tool catalog and executor are required")
	}
	if cfg.Approvals == nil || cfg.Resume == nil {
		return nil, fmt.Errorf("approval store and resume table are required")
	}
	if cfg.Runs == nil || cfg.Sessions == nil || cfg.Roles == nil {
		return nil, fmt.Errorf("run store, session store, and role engine are required")
	}
	if cfg.Bus == nil || cfg.Conversations == nil {
		return nil, fmt.Errorf("event bus and conversation store are required")
	}
	if cfg.Schedules == nil || cfg.Risk == nil {
		return nil, fmt.Errorf("risk engine and schedule source are required")
	}
	cfg.MaxRounds = ClampRounds(cfg.MaxRounds)
	return &Loop{cfg: cfg, now: time.Now}, nil
}

// turnState carries everything one invocation mutates.
type turnState struct {
	params       TurnParams
	runID        string
	provider     Provider
	model        string
	history      []Message
	systemPrompt string
	metrics      TurnMetrics
	startedAt    time.Time
}

// RunTurn executes one user message through the bounded loop. It
// returns when the turn completes, fails, or suspends on an approval.
func (l *Loop) RunTurn(ctx context.Context, params TurnParams) (*TurnResult, error) {
	if params.ConversationID == "" || params.UserID == "" {
		return nil, fmt.Errorf("conversation id and user id are required")
	}

	l.cfg.Sessions.Touch(params.ConversationID, params.UserID)
	if err := l.cfg.Sessions.SetStatus(params.ConversationID, session.StatusRunning); err != nil {
		return nil, err
	}

	decision := l.cfg.Roles.Decide(params.UserID, params.Message)
	run := l.cfg.Runs.StartRun(params.UserID, params.Message, decision.Persona)
	if err := l.cfg.Runs.MarkPlanningComplete(run.RunID, decision.PlanSteps, decision.Concerns); err != nil {
		return nil, err
	}

	userMsg := Message{Role: RoleUser, Content: params.Message}
	if err := l.cfg.Conversations.AppendMessage(params.ConversationID, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	history, err := l.cfg.Conversations.History(params.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	st := &turnState{
		params:       params,
		runID:        run.RunID,
		provider:     l.cfg.Primary,
		model:        l.cfg.Model,
		history:      history,
		systemPrompt: l.cfg.SystemPrompt + l.cfg.Roles.PromptAppendix(decision),
		startedAt:    l.now(),
	}

	l.publish(eventbus.Event{
		UserID:         params.UserID,
		Type:           eventbus.TypeRun,
		Status:         string(StatusThinking),
		Source:         "agent",
		RunID:          st.runID,
		ConversationID: params.ConversationID,
		Payload:        map[string]interface{}{"persona": decision.Persona},
	})

	return l.runRounds(ctx, st, 1)
}

// runRounds drives the provider until a final answer, the round cap, a
// suspension, or an error.
func (l *Loop) runRounds(ctx context.Context, st *turnState, startRound int) (*TurnResult, error) {
	for round := startRound; round <= l.cfg.MaxRounds; round++ {
		completion, err := l.complete(ctx, st)
		if err != nil {
			return l.fail(st, err)
		}

		if len(completion.ToolCalls) == 0 {
			return l.finalize(ctx, st, completion.Content)
		}

		st.metrics.ToolRounds++
		suspended, executed, err := l.handleCalls(ctx, st, completion, round)
		if err != nil {
			return l.fail(st, err)
		}
		if suspended != nil {
			return suspended, nil
		}
		// A round where nothing ran and nothing suspended cannot make
		// progress, all calls were unknown or invalid.
		if executed == 0 {
			reply := completion.Content
			if reply == "" {
				reply = "I couldn't run any of the requested actions."
			}
			return l.finalize(ctx, st, reply)
		}
	}

	return l.finalize(ctx, st, "I reached my action limit for this turn. Ask me to continue if you want me to keep going.")
}

// complete calls the current provider, switching to the fallback at
// most once when the credential is missing.
func (l *Loop) complete(ctx context.Context, st *turnState) (*Completion, error) {
	req := CompletionRequest{
		Model:        st.model,
		Messages:     st.history,
		Tools:        l.cfg.Catalog.ProviderTools(),
		SystemPrompt: st.systemPrompt,
		Temperature:  l.cfg.Temperature,
		MaxTokens:    l.cfg.MaxTokens,
	}

	completion, err := st.provider.Complete(ctx, req)
	if err != nil && IsCredentialMissing(err) && !st.metrics.UsedFallback && st.provider.Name() != FallbackProviderName {
		l.cfg.Logger.Warn().
			Str("provider", st.provider.Name()).
			Str("run_id", st.runID).
			Msg("Provider credential missing, switching to fallback")
		st.provider = l.cfg.Fallback
		st.model = l.cfg.FallbackModel
		st.metrics.UsedFallback = true
		observability.RecordFallbackSwitch()
		l.publish(eventbus.Event{
			UserID:         st.params.UserID,
			Type:           eventbus.TypeRun,
			Status:         string(StatusThinking),
			Source:         "agent",
			RunID:          st.runID,
			ConversationID: st.params.ConversationID,
			Payload:        map[string]interface{}{"fallback": true, "provider": st.provider.Name()},
		})
		req.Model = st.model
		completion, err = st.provider.Complete(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	st.metrics.LLMCalls++
	st.metrics.InputTokens += completion.Usage.InputTokens
	st.metrics.OutputTokens += completion.Usage.OutputTokens
	return completion, nil
}

// handleCalls persists the assistant message of a fresh completion and
// gates its tool calls. A non-nil suspended result means the invocation
// stopped on an approval request.
func (l *Loop) handleCalls(ctx context.Context, st *turnState, completion *Completion, round int) (*TurnResult, int, error) {
	assistantMsg := Message{
		Role:      RoleAssistant,
		Content:   completion.Content,
		ToolCalls: completion.ToolCalls,
	}
	if err := l.appendHistory(st, assistantMsg); err != nil {
		return nil, 0, err
	}
	return l.gateCalls(ctx, st, completion.ToolCalls, round)
}

// gateCalls runs tool calls through the risk gate. The assistant
// message carrying the calls must already be in history; a round
// replayed after approval re-enters here so its tool_use ids are not
// persisted twice.
func (l *Loop) gateCalls(ctx context.Context, st *turnState, calls []ToolCall, round int) (*TurnResult, int, error) {
	executed := 0
	for i, call := range calls {
		def, known := l.cfg.Catalog.Get(call.Name)
		if !known {
			l.recordToolFailure(st, call, "tool not available: "+call.Name)
			continue
		}
		if err := l.cfg.Catalog.ValidateInput(call.Name, call.Input); err != nil {
			l.recordToolFailure(st, call, "invalid input: "+err.Error())
			continue
		}

		schedule := l.cfg.Schedules.ScheduleFor(st.params.UserID)
		within := schedule.WithinWindow(l.now())
		assessment := l.cfg.Risk.Score(call.Name, call.Input, def.RequiresApproval, !within)
		auto := l.cfg.Risk.AutoApprove(assessment.Level, within, def.RequiresApproval)
		observability.RecordRiskDecision(string(assessment.Level), assessment.Score, auto)

		if !auto {
			suspended, err := l.suspend(st, call, calls[i+1:], round, assessment)
			return suspended, executed, err
		}

		l.executeCall(ctx, st, call)
		executed++
	}
	return nil, executed, nil
}

// executeCall runs one approved call and feeds the result back.
func (l *Loop) executeCall(ctx context.Context, st *turnState, call ToolCall) {
	if err := l.cfg.Sessions.SetStatus(st.params.ConversationID, session.StatusWaitingTool); err != nil {
		l.cfg.Logger.Warn().Err(err).Msg("Failed to update session status")
	}
	l.publish(eventbus.Event{
		UserID:         st.params.UserID,
		Type:           eventbus.TypeToolCall,
		Status:         "running",
		Source:         "agent",
		RunID:          st.runID,
		ConversationID: st.params.ConversationID,
		Payload:        map[string]interface{}{"tool": call.Name},
	})

	result := l.cfg.Executor.Execute(ctx, call.Name, call.Input, st.params.UserID)
	rendered := tools.RenderResult(result)

	note := rendered
	if len(note) > 200 {
		note = note[:200]
	}
	if err := l.cfg.Runs.AddToolEvent(st.runID, call.Name, result.Success, note); err != nil {
		l.cfg.Logger.Warn().Err(err).Str("run_id", st.runID).Msg("Failed to record tool event")
	}

	status := "ok"
	if !result.Success {
		status = "failed"
	}
	l.publish(eventbus.Event{
		UserID:         st.params.UserID,
		Type:           eventbus.TypeToolCall,
		Status:         status,
		Source:         "agent",
		RunID:          st.runID,
		ConversationID: st.params.ConversationID,
		Payload:        map[string]interface{}{"tool": call.Name},
	})

	toolMsg := Message{Role: RoleTool, Content: rendered, ToolCallID: call.ID}
	if err := l.appendHistory(st, toolMsg); err != nil {
		l.cfg.Logger.Error().Err(err).Msg("Failed to persist tool result")
	}
	if err := l.cfg.Sessions.SetStatus(st.params.ConversationID, session.StatusRunning); err != nil {
		l.cfg.Logger.Warn().Err(err).Msg("Failed to update session status")
	}
}

// recordToolFailure feeds a rejected call back to the provider without
// executing anything.
func (l *Loop) recordToolFailure(st *turnState, call ToolCall, reason string) {
	if err := l.cfg.Runs.AddToolEvent(st.runID, call.Name, false, reason); err != nil {
		l.cfg.Logger.Warn().Err(err).Str("run_id", st.runID).Msg("Failed to record tool event")
	}
	toolMsg := Message{Role: RoleTool, Content: "Error: " + reason, ToolCallID: call.ID}
	if err := l.appendHistory(st, toolMsg); err != nil {
		l.cfg.Logger.Error().Err(err).Msg("Failed to persist tool result")
	}
}

// suspend parks the turn on a pending approval and returns immediately.
func (l *Loop) suspend(st *turnState, call ToolCall, remaining []ToolCall, round int, assessment risk.Assessment) (*TurnResult, error) {
	req, err := l.cfg.Approvals.Create(approval.Request{
		ConversationID: st.params.ConversationID,
		UserID:         st.params.UserID,
		ToolName:       call.Name,
		ToolInput:      call.Input,
		RiskNote:       assessment.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}

	pending := make([]approval.PendingCall, 0, len(remaining))
	for _, rc := range remaining {
		pending = append(pending, approval.PendingCall{ID: rc.ID, Name: rc.Name, Input: rc.Input})
	}
	l.cfg.Resume.Put(approval.ResumeState{
		ConversationID: st.params.ConversationID,
		ApprovalID:     req.ID,
		Call:           approval.PendingCall{ID: call.ID, Name: call.Name, Input: call.Input},
		Remaining:      pending,
		Round:          round,
	})

	st.metrics.Approvals++
	if err := l.cfg.Sessions.SetStatus(st.params.ConversationID, session.StatusWaitingTool); err != nil {
		l.cfg.Logger.Warn().Err(err).Msg("Failed to update session status")
	}

	l.publish(eventbus.Event{
		UserID:         st.params.UserID,
		Type:           eventbus.TypeApproval,
		Status:         string(approval.StatusPending),
		Source:         "agent",
		RunID:          st.runID,
		ConversationID: st.params.ConversationID,
		ApprovalID:     req.ID,
		Payload: map[string]interface{}{
			"tool":       call.Name,
			"risk_level": string(assessment.Level),
			"risk_score": assessment.Score,
			"reason":     assessment.Reason,
		},
	})

	// The resume is a fresh run, so this one closes here rather than
	// lingering in executing until cap eviction.
	if err := l.cfg.Runs.MarkReviewing(st.runID); err != nil {
		l.cfg.Logger.Warn().Err(err).Str("run_id", st.runID).Msg("Failed to mark run reviewing")
	}
	if err := l.cfg.Runs.CompleteRun(st.runID, "suspended awaiting approval: "+call.Name); err != nil {
		l.cfg.Logger.Warn().Err(err).Str("run_id", st.runID).Msg("Failed to complete run")
	}

	l.cfg.Logger.Info().
		Str("approval_id", req.ID).
		Str("tool", call.Name).
		Str("risk_level", string(assessment.Level)).
		Msg("Turn suspended awaiting approval")

	return &TurnResult{
		RunID:      st.runID,
		Status:     StatusWaitingApproval,
		ApprovalID: req.ID,
		Metrics:    st.metrics,
		StartedAt:  st.startedAt,
		FinishedAt: l.now(),
	}, nil
}

// ResumeTurn continues a suspended turn after its approval resolved.
// It is a fresh invocation: history is reloaded and the loop restarts
// from the suspended round.
func (l *Loop) ResumeTurn(ctx context.Context, job approval.ContinuationJob) (*TurnResult, error) {
	state, found := l.cfg.Resume.Take(job.ConversationID, job.ApprovalID)

	l.cfg.Sessions.Touch(job.ConversationID, job.UserID)
	if err := l.cfg.Sessions.SetStatus(job.ConversationID, session.StatusRunning); err != nil {
		return nil, err
	}

	decision := l.cfg.Roles.Decide(job.UserID, "continue: "+job.ToolName)
	run := l.cfg.Runs.StartRun(job.UserID, "resume approved action: "+job.ToolName, decision.Persona)
	if err := l.cfg.Runs.MarkPlanningComplete(run.RunID, []string{"replay resolved action", "continue the turn"}, nil); err != nil {
		return nil, err
	}

	history, err := l.cfg.Conversations.History(job.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	st := &turnState{
		params:       TurnParams{ConversationID: job.ConversationID, UserID: job.UserID},
		runID:        run.RunID,
		provider:     l.cfg.Primary,
		model:        l.cfg.Model,
		history:      history,
		systemPrompt: l.cfg.SystemPrompt + l.cfg.Roles.PromptAppendix(decision),
		startedAt:    l.now(),
	}

	call := ToolCall{ID: state.Call.ID, Name: job.ToolName, Input: job.ToolInput}
	if !found {
		// Restart wiped the in-memory state; the job carries enough to
		// replay the single call.
		call.ID = job.ApprovalID
	}

	if job.Approved {
		l.executeCall(ctx, st, call)
	} else {
		l.recordToolFailure(st, call, "the user denied this action")
	}

	l.publish(eventbus.Event{
		UserID:         job.UserID,
		Type:           eventbus.TypeApproval,
		Status:         resolvedStatus(job.Approved),
		Source:         "agent",
		RunID:          st.runID,
		ConversationID: job.ConversationID,
		ApprovalID:     job.ApprovalID,
		Payload:        map[string]interface{}{"tool": job.ToolName},
	})

	// Calls queued behind the suspended one go back through the gate.
	// Their assistant message was persisted when the round suspended, so
	// they bypass the append path.
	if len(state.Remaining) > 0 {
		restored := make([]ToolCall, 0, len(state.Remaining))
		for _, rc := range state.Remaining {
			restored = append(restored, ToolCall{ID: rc.ID, Name: rc.Name, Input: rc.Input})
		}
		suspended, _, err := l.gateCalls(ctx, st, restored, state.Round)
		if err != nil {
			return l.fail(st, err)
		}
		if suspended != nil {
			return suspended, nil
		}
	}

	startRound := state.Round + 1
	if startRound < 1 || startRound > l.cfg.MaxRounds {
		startRound = l.cfg.MaxRounds
	}
	return l.runRounds(ctx, st, startRound)
}

func resolvedStatus(approved bool) string {
	if approved {
		return string(approval.StatusApproved)
	}
	return string(approval.StatusDenied)
}

// finalize closes out a successful turn.
func (l *Loop) finalize(ctx context.Context, st *turnState, reply string) (*TurnResult, error) {
	if reply != "" {
		msg := Message{Role: RoleAssistant, Content: reply}
		if err := l.cfg.Conversations.AppendMessage(st.params.ConversationID, msg); err != nil {
			return l.fail(st, fmt.Errorf("failed to persist reply: %w", err))
		}
	}

	if err := l.cfg.Runs.MarkReviewing(st.runID); err != nil {
		l.cfg.Logger.Warn().Err(err).Str("run_id", st.runID).Msg("Failed to mark run reviewing")
	}
	summary := reply
	if len(summary) > 200 {
		summary = summary[:200]
	}
	if err := l.cfg.Runs.CompleteRun(st.runID, summary); err != nil {
		l.cfg.Logger.Warn().Err(err).Str("run_id", st.runID).Msg("Failed to complete run")
	}
	if err := l.cfg.Sessions.SetStatus(st.params.ConversationID, session.StatusIdle); err != nil {
		l.cfg.Logger.Warn().Err(err).Msg("Failed to update session status")
	}

	l.publish(eventbus.Event{
		UserID:         st.params.UserID,
		Type:           eventbus.TypeRun,
		Status:         string(StatusDone),
		Source:         "agent",
		RunID:          st.runID,
		ConversationID: st.params.ConversationID,
		Payload: map[string]interface{}{
			"llm_calls":   st.metrics.LLMCalls,
			"tool_rounds": st.metrics.ToolRounds,
		},
	})

	l.maybeGenerateTitle(ctx, st.params.ConversationID)

	observability.RecordTurn(st.provider.Name(), string(StatusDone), l.now().Sub(st.startedAt), st.metrics.ToolRounds)

	return &TurnResult{
		RunID:      st.runID,
		Status:     StatusDone,
		Reply:      reply,
		Metrics:    st.metrics,
		StartedAt:  st.startedAt,
		FinishedAt: l.now(),
	}, nil
}

// fail closes out a failed turn. The error is returned alongside the
// result so callers can surface it.
func (l *Loop) fail(st *turnState, cause error) (*TurnResult, error) {
	if err := l.cfg.Runs.FailRun(st.runID, cause.Error()); err != nil {
		l.cfg.Logger.Warn().Err(err).Str("run_id", st.runID).Msg("Failed to mark run failed")
	}
	if err := l.cfg.Sessions.SetStatus(st.params.ConversationID, session.StatusFailed); err != nil {
		l.cfg.Logger.Warn().Err(err).Msg("Failed to update session status")
	}
	l.publish(eventbus.Event{
		UserID:         st.params.UserID,
		Type:           eventbus.TypeFailure,
		Status:         string(StatusError),
		Source:         "agent",
		RunID:          st.runID,
		ConversationID: st.params.ConversationID,
		Payload:        map[string]interface{}{"error": cause.Error()},
	})
	l.cfg.Logger.Error().Err(cause).Str("run_id", st.runID).Msg("Turn failed")

	observability.RecordTurn(st.provider.Name(), string(StatusError), l.now().Sub(st.startedAt), st.metrics.ToolRounds)

	return &TurnResult{
		RunID:      st.runID,
		Status:     StatusError,
		Metrics:    st.metrics,
		StartedAt:  st.startedAt,
		FinishedAt: l.now(),
	}, cause
}

// appendHistory persists a message and mirrors it into the working
// history.
func (l *Loop) appendHistory(st *turnState, msg Message) error {
	if err := l.cfg.Conversations.AppendMessage(st.params.ConversationID, msg); err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}
	st.history = append(st.history, msg)
	return nil
}

// publish logs event append failures instead of failing the turn. The
// bus already retains failed events for later inspection.
func (l *Loop) publish(event eventbus.Event) {
	if err := l.cfg.Bus.Publish(event); err != nil {
		l.cfg.Logger.Warn().Err(err).Str("type", string(event.Type)).Msg("Failed to publish event")
	}
}
