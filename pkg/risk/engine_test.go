package risk

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testEngine() *Engine {
	return NewEngine(zerolog.Nop())
}

func TestScoreBucketing(t *testing.T) {
	e := testEngine()

	tests := []struct {
		name      string
		tool      string
		input     map[string]interface{}
		policy    bool
		outside   bool
		wantLevel Level
	}{
		{
			name:      "benign read inside window",
			tool:      "get_weather",
			input:     map[string]interface{}{"city": "Jakarta"},
			wantLevel: LevelLow,
		},
		{
			name:      "mutating call outside window is medium",
			tool:      "delete_file",
			input:     map[string]interface{}{"path": "/tmp/x"},
			outside:   true,
			wantLevel: LevelMedium,
		},
		{
			name:      "policy mandate alone is medium",
			tool:      "get_weather",
			input:     map[string]interface{}{},
			policy:    true,
			wantLevel: LevelMedium,
		},
		{
			name:      "policy plus mutating is high",
			tool:      "deploy_service",
			input:     map[string]interface{}{"env": "staging"},
			policy:    true,
			wantLevel: LevelHigh,
		},
		{
			name:      "credentials in input escalate",
			tool:      "send_request",
			input:     map[string]interface{}{"api_key": "sk-123", "url": "https://example.com"},
			outside:   true,
			wantLevel: LevelHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Score(tt.tool, tt.input, tt.policy, tt.outside)
			assert.Equal(t, tt.wantLevel, got.Level)
			assert.GreaterOrEqual(t, got.Score, 0)
			assert.LessOrEqual(t, got.Score, 100)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestScoreIsClampedAndLevelIsDeterministic(t *testing.T) {
	e := testEngine()

	// Everything at once: every contribution fires, score must clamp.
	input := map[string]interface{}{
		"password": "hunter2",
		"url":      "https://internal.example.com/admin",
		"blob":     strings.Repeat("a", 4096),
	}
	got := e.Score("delete_production_database", input, true, true)
	assert.Equal(t, 100, got.Score)
	assert.Equal(t, LevelHigh, got.Level)

	for score := 0; score <= 100; score++ {
		level := LevelForScore(score)
		switch {
		case score >= 70:
			assert.Equal(t, LevelHigh, level, "score %d", score)
		case score >= 35:
			assert.Equal(t, LevelMedium, level, "score %d", score)
		default:
			assert.Equal(t, LevelLow, level, "score %d", score)
		}
	}
}

func TestFetchPatternIsLighterThanMutating(t *testing.T) {
	e := testEngine()

	fetch := e.Score("fetch_page", map[string]interface{}{}, false, false)
	mutate := e.Score("write_file", map[string]interface{}{}, false, false)
	assert.Less(t, fetch.Score, mutate.Score)
	assert.Equal(t, LevelLow, fetch.Level)
}

func TestAutoApprove(t *testing.T) {
	e := testEngine()

	assert.True(t, e.AutoApprove(LevelLow, true, false))

	// Any single failing conjunct denies.
	assert.False(t, e.AutoApprove(LevelMedium, true, false))
	assert.False(t, e.AutoApprove(LevelHigh, true, false))
	assert.False(t, e.AutoApprove(LevelLow, false, false))
	assert.False(t, e.AutoApprove(LevelLow, true, true))
}
