package risk

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
)

// Engine scores proposed tool calls and decides whether they may run
// without human sign-off.
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates a risk engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Weighted contributions to the risk score.
const (
	baseScore           = 5
	policyApprovalScore = 60
	outsideWindowScore  = 20
	mutatingNameScore   = 22
	fetchNameScore      = 8
	credentialScore     = 28
	urlScore            = 10
	oversizedScore      = 6

	oversizedInputBytes = 2048
)

var mutatingPatterns = []string{
	"write", "delete", "remove", "drop", "create", "update", "send",
	"post", "exec", "run", "deploy", "kill", "restart", "install",
	"upload", "publish", "modify", "set_",
}

var fetchPatterns = []string{
	"get", "fetch", "read", "list", "search", "query", "lookup", "view",
}

var credentialPatterns = []string{
	"password", "passwd", "token", "secret", "api_key", "apikey",
	"private_key", "credential",
}

// Score computes the weighted risk assessment for a proposed tool call.
// The score is clamped to [0,100] and the level is derived from it.
func (e *Engine) Score(toolName string, toolInput map[string]interface{}, policyRequiresApproval, outsideWindow bool) Assessment {
	score := baseScore
	reasons := []string{}

	if policyRequiresApproval {
		score += policyApprovalScore
		reasons = append(reasons, "policy requires approval")
	}
	if outsideWindow {
		score += outsideWindowScore
		reasons = append(reasons, "outside autonomy window")
	}

	name := strings.ToLower(toolName)
	if matchesAny(name, mutatingPatterns) {
		score += mutatingNameScore
		reasons = append(reasons, "mutating action")
	} else if matchesAny(name, fetchPatterns) {
		score += fetchNameScore
		reasons = append(reasons, "network fetch")
	}

	serialized := serializeInput(toolInput)
	lowered := strings.ToLower(serialized)

	if matchesAny(lowered, credentialPatterns) {
		score += credentialScore
		reasons = append(reasons, "credential-like input")
	}
	if strings.Contains(lowered, "http://") || strings.Contains(lowered, "https://") {
		score += urlScore
		reasons = append(reasons, "URL in input")
	}
	if len(serialized) > oversizedInputBytes {
		score += oversizedScore
		reasons = append(reasons, "oversized input")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	reason := "baseline"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	assessment := Assessment{
		Level:  LevelForScore(score),
		Score:  score,
		Reason: reason,
	}

	e.logger.Debug().
		Str("tool", toolName).
		Int("score", assessment.Score).
		Str("level", string(assessment.Level)).
		Str("reason", assessment.Reason).
		Msg("Scored tool call")

	return assessment
}

// AutoApprove reports whether a call may execute unattended. This is a
// strict conjunction: low risk, inside the autonomy window, and no
// policy mandate.
func (e *Engine) AutoApprove(level Level, withinWindow, policyRequiresApproval bool) bool {
	return level == LevelLow && withinWindow && !policyRequiresApproval
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func serializeInput(input map[string]interface{}) string {
	if len(input) == 0 {
		return ""
	}
	data, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return string(data)
}
