package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avenhq/aven/pkg/risk"
)

func TestValidate(t *testing.T) {
	v := NewValidator()

	t.Run("accepts the default config", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.NoError(t, v.Validate(cfg))
	})

	t.Run("rejects an unknown primary provider", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Providers.Primary = "gemini"
		err := v.Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary provider")
	})

	t.Run("normalizes out of range rounds", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Agent.MaxRounds = 50
		require.NoError(t, v.Validate(cfg))
		assert.Equal(t, 12, cfg.Agent.MaxRounds)

		cfg.Agent.MaxRounds = 0
		require.NoError(t, v.Validate(cfg))
		assert.Equal(t, 6, cfg.Agent.MaxRounds)

		cfg.Agent.MaxRounds = -4
		require.NoError(t, v.Validate(cfg))
		assert.Equal(t, 1, cfg.Agent.MaxRounds)
	})

	t.Run("raises heartbeat knobs to their floors", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Heartbeat.TickIntervalSec = 5
		cfg.Heartbeat.MissedThresholdSec = 10
		require.NoError(t, v.Validate(cfg))
		assert.Equal(t, 15, cfg.Heartbeat.TickIntervalSec)
		assert.Equal(t, 30, cfg.Heartbeat.MissedThresholdSec)
	})

	t.Run("rejects malformed autonomy windows", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Autonomy = risk.Schedule{
			Enabled: true,
			Windows: []risk.Window{
				{Label: "bad", Days: []int{1}, Start: "25:00", End: "10:00"},
			},
		}
		err := v.Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "clock time")
	})

	t.Run("rejects invalid window days", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Autonomy = risk.Schedule{
			Enabled: true,
			Windows: []risk.Window{
				{Label: "bad", Days: []int{7}, Start: "09:00", End: "17:00"},
			},
		}
		err := v.Validate(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid day")
	})

	t.Run("requires a telegram token when enabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Telegram.Enabled = true
		assert.Error(t, v.Validate(cfg))

		cfg.Telegram.BotToken = "123456789:ABCdefGHIjklMNOpqrsTUVwxyz"
		assert.NoError(t, v.Validate(cfg))
	})
}

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAPIKey("sk-ant-abc123", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("wrong", "anthropic"))
	assert.NoError(t, v.ValidateAPIKey("sk-abc123", "openai"))
	assert.Error(t, v.ValidateAPIKey("", "openai"))
}

func TestValidateClock(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateClock("09:00"))
	assert.NoError(t, v.ValidateClock("23:59"))
	assert.Error(t, v.ValidateClock("24:00"))
	assert.Error(t, v.ValidateClock("9am"))
	assert.Error(t, v.ValidateClock(""))
}
