package risk

// Level buckets a risk score.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Score thresholds for level bucketing.
const (
	highThreshold   = 70
	mediumThreshold = 35
)

// Assessment is the computed safety verdict for a single tool call.
type Assessment struct {
	Level  Level  `json:"level"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// LevelForScore derives the level from a clamped score. The level is a
// pure function of the score.
func LevelForScore(score int) Level {
	switch {
	case score >= highThreshold:
		return LevelHigh
	case score >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}
