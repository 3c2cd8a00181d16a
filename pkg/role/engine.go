package role

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avenhq/aven/internal/observability"
)

// SwitchCooldown is the minimum gap between persona switches per user.
const SwitchCooldown = 10 * time.Minute

// BoundaryChecker reports whether a boundary locks the user's persona.
// Implemented by the boundary/limits subsystem; a nil checker means no
// locks.
type BoundaryChecker interface {
	PersonaLocked(userID string) bool
}

// Engine classifies inbound messages and drives persona auto-switching.
type Engine struct {
	personas map[string]Persona
	bounds   BoundaryChecker
	logger   zerolog.Logger

	mu         sync.Mutex
	current    map[string]string
	lastSwitch map[string]time.Time

	now func() time.Time
}

// NewEngine creates a role engine over a persona set.
func NewEngine(personas map[string]Persona, bounds BoundaryChecker, logger zerolog.Logger) *Engine {
	if personas == nil {
		personas = DefaultPersonas()
	}
	return &Engine{
		personas:   personas,
		bounds:     bounds,
		logger:     logger,
		current:    make(map[string]string),
		lastSwitch: make(map[string]time.Time),
		now:        time.Now,
	}
}

var researchWords = []string{"research", "compare", "analyze", "analyse", "investigate", "study", "survey", "why does", "difference between"}
var opsWords = []string{"deploy", "server", "restart", "rollback", "incident", "outage", "monitor", "logs", "kubernetes", "pipeline", "infra"}
var supportWords = []string{"help", "broken", "error", "failing", "doesn't work", "can't", "cannot", "issue", "stuck", "fix"}

var urgentWords = []string{"urgent", "asap", "immediately", "right now", "critical", "emergency"}
var relaxedWords = []string{"whenever", "no rush", "eventually", "someday", "low priority"}

var destructiveWords = []string{"delete", "drop", "wipe", "destroy", "shutdown", "terminate", "purge"}
var credentialWords = []string{"password", "token", "secret", "api key", "credential"}
var productionWords = []string{"production", "prod ", "live environment"}

// Classify reads task type, urgency, and complexity from the raw
// message via keyword and length heuristics.
func (e *Engine) Classify(message string) Classification {
	lowered := strings.ToLower(message)

	taskType := TaskGeneral
	switch {
	case containsAny(lowered, opsWords):
		taskType = TaskOps
	case containsAny(lowered, researchWords):
		taskType = TaskResearch
	case containsAny(lowered, supportWords):
		taskType = TaskSupport
	}

	urgency := UrgencyNormal
	switch {
	case containsAny(lowered, urgentWords):
		urgency = UrgencyHigh
	case containsAny(lowered, relaxedWords):
		urgency = UrgencyLow
	}

	complexity := ComplexityLow
	switch {
	case len(message) > 400 || strings.Count(message, "\n") > 4,
		containsAny(lowered, []string{"step by step", "architecture", "migrate", "end to end"}):
		complexity = ComplexityHigh
	case len(message) > 120:
		complexity = ComplexityMedium
	}

	return Classification{TaskType: taskType, Urgency: urgency, Complexity: complexity}
}

// Decide runs the full pre-turn decision for a user message:
// classification, thought mode and depth, a short plan, safety
// concerns, confidence, and the persona auto-switch.
func (e *Engine) Decide(userID, message string) Decision {
	c := e.Classify(message)

	decision := Decision{
		Classification: c,
		ThoughtMode:    thoughtMode(c),
		ThinkingDepth:  thinkingDepth(c),
		PlanSteps:      planSteps(c),
		Concerns:       concerns(message),
	}

	outcome := e.evaluateSwitch(userID, c)
	decision.Switch = outcome
	decision.Persona = e.CurrentPersona(userID)
	decision.Confidence = e.confidence(message, decision)

	e.logger.Debug().
		Str("user_id", userID).
		Str("task_type", string(c.TaskType)).
		Str("urgency", string(c.Urgency)).
		Str("complexity", string(c.Complexity)).
		Str("persona", decision.Persona).
		Float64("confidence", decision.Confidence).
		Msg("Role decision")

	return decision
}

// CurrentPersona returns the user's active persona, defaulting to the
// navigator.
func (e *Engine) CurrentPersona(userID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.current[userID]; ok {
		return id
	}
	return PersonaNavigator
}

// evaluateSwitch applies the mapped-persona switch with cooldown and
// boundary checks. The reasoning string is always populated.
func (e *Engine) evaluateSwitch(userID string, c Classification) SwitchOutcome {
	target := personaFor(c)

	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.current[userID]
	if !ok {
		current = PersonaNavigator
	}

	outcome := SwitchOutcome{From: current, To: target}
	if target == current {
		outcome.To = current
		outcome.Reasoning = fmt.Sprintf("persona %s already matches %s/%s", current, c.TaskType, c.Urgency)
		return outcome
	}
	if e.bounds != nil && e.bounds.PersonaLocked(userID) {
		outcome.To = current
		outcome.Reasoning = fmt.Sprintf("boundary locks persona %s; wanted %s", current, target)
		return outcome
	}
	if last, ok := e.lastSwitch[userID]; ok {
		if elapsed := e.now().Sub(last); elapsed < SwitchCooldown {
			outcome.To = current
			outcome.Reasoning = fmt.Sprintf("cooldown active (%s remaining); wanted %s", (SwitchCooldown - elapsed).Round(time.Second), target)
			return outcome
		}
	}

	e.current[userID] = target
	e.lastSwitch[userID] = e.now()
	observability.RecordPersonaSwitch(target)
	outcome.Switched = true
	outcome.Reasoning = fmt.Sprintf("switched %s -> %s for %s/%s", current, target, c.TaskType, c.Urgency)
	return outcome
}

func thoughtMode(c Classification) ThoughtMode {
	switch {
	case c.Complexity == ComplexityHigh:
		return ModePlan
	case c.TaskType == TaskResearch:
		return ModeExplore
	case c.TaskType == TaskSupport:
		return ModeReflect
	default:
		return ModeAct
	}
}

func thinkingDepth(c Classification) ThinkingDepth {
	switch {
	case c.Complexity == ComplexityHigh:
		return DepthDeep
	case c.Urgency == UrgencyHigh && c.Complexity == ComplexityLow:
		return DepthFast
	default:
		return DepthBalanced
	}
}

// planSteps synthesizes a short ordered plan, always 2-4 steps.
func planSteps(c Classification) []string {
	steps := []string{"Restate the goal and note constraints"}

	switch c.TaskType {
	case TaskResearch:
		steps = append(steps, "Gather sources and extract the relevant facts", "Compare findings and note disagreements")
	case TaskOps:
		steps = append(steps, "Check current system state before changing anything", "Apply the change with the smallest safe blast radius")
	case TaskSupport:
		steps = append(steps, "Reproduce or narrow down the reported problem")
	default:
		steps = append(steps, "Work through the request directly")
	}

	if c.Complexity == ComplexityHigh && len(steps) < 4 {
		steps = append(steps, "Review the result against the original goal")
	}
	return steps
}

// concerns lists safety observations from the message text.
func concerns(message string) []string {
	lowered := strings.ToLower(message)
	var out []string
	if containsAny(lowered, destructiveWords) {
		out = append(out, "destructive action requested")
	}
	if containsAny(lowered, credentialWords) {
		out = append(out, "credentials mentioned")
	}
	if containsAny(lowered, productionWords) {
		out = append(out, "production environment involved")
	}
	if containsAny(lowered, urgentWords) {
		out = append(out, "time pressure may rush judgment")
	}
	return out
}

// confidence blends message length, persona traits, complexity,
// urgency, and concern count into a bounded heuristic.
func (e *Engine) confidence(message string, d Decision) float64 {
	conf := 0.5

	switch {
	case len(message) < 20:
		conf -= 0.1
	case len(message) > 200:
		conf += 0.1
	}

	if persona, ok := e.personas[d.Persona]; ok {
		conf += 0.15 * (persona.Decisiveness - 0.5)
		conf += 0.05 * (persona.Energy - 0.5)
	}

	switch d.Classification.Complexity {
	case ComplexityHigh:
		conf -= 0.15
	case ComplexityMedium:
		conf -= 0.05
	}
	if d.Classification.Urgency == UrgencyHigh {
		conf -= 0.05
	}
	conf -= 0.05 * float64(len(d.Concerns))

	if conf < 0.05 {
		conf = 0.05
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

// PromptAppendix renders the decision as a system-prompt appendix for
// the turn loop.
func (e *Engine) PromptAppendix(d Decision) string {
	var b strings.Builder
	persona := e.personas[d.Persona]

	fmt.Fprintf(&b, "## Turn Planning\n")
	fmt.Fprintf(&b, "Persona: %s (%s)\n", persona.Name, persona.Description)
	fmt.Fprintf(&b, "Task: %s, urgency %s, complexity %s. Mode: %s, depth: %s.\n",
		d.Classification.TaskType, d.Classification.Urgency, d.Classification.Complexity,
		d.ThoughtMode, d.ThinkingDepth)
	fmt.Fprintf(&b, "Plan:\n")
	for i, step := range d.PlanSteps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	if len(d.Concerns) > 0 {
		fmt.Fprintf(&b, "Watch out for: %s.\n", strings.Join(d.Concerns, "; "))
	}
	return b.String()
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
