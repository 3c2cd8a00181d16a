package role

// TaskType is the coarse intent category of a user message.
type TaskType string

const (
	TaskGeneral  TaskType = "general"
	TaskResearch TaskType = "research"
	TaskOps      TaskType = "ops"
	TaskSupport  TaskType = "support"
)

// Urgency of the request.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Complexity of the request.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// ThoughtMode steers how the turn should be approached.
type ThoughtMode string

const (
	ModeExplore ThoughtMode = "explore"
	ModePlan    ThoughtMode = "plan"
	ModeAct     ThoughtMode = "act"
	ModeReflect ThoughtMode = "reflect"
)

// ThinkingDepth trades latency against deliberation.
type ThinkingDepth string

const (
	DepthFast     ThinkingDepth = "fast"
	DepthBalanced ThinkingDepth = "balanced"
	DepthDeep     ThinkingDepth = "deep"
)

// Classification is the raw heuristic read of a message.
type Classification struct {
	TaskType   TaskType   `json:"task_type"`
	Urgency    Urgency    `json:"urgency"`
	Complexity Complexity `json:"complexity"`
}

// SwitchOutcome reports the persona auto-switch evaluation. A no-op
// switch still carries its reasoning for observability.
type SwitchOutcome struct {
	Switched  bool   `json:"switched"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reasoning string `json:"reasoning"`
}

// Decision is the pre-turn verdict fed into the system prompt.
type Decision struct {
	Classification Classification `json:"classification"`
	ThoughtMode    ThoughtMode    `json:"thought_mode"`
	ThinkingDepth  ThinkingDepth  `json:"thinking_depth"`
	PlanSteps      []string       `json:"plan_steps"`
	Concerns       []string       `json:"concerns,omitempty"`
	Confidence     float64        `json:"confidence"`
	Persona        string         `json:"persona"`
	Switch         SwitchOutcome  `json:"switch"`
}
