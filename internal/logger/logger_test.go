package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("builds a console logger", func(t *testing.T) {
		log, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		defer log.Close()

		assert.Equal(t, zerolog.InfoLevel, log.GetZerolog().GetLevel())
	})

	t.Run("falls back to info on a bad level", func(t *testing.T) {
		log, err := New(Config{Level: "loud", Console: true})
		require.NoError(t, err)
		defer log.Close()

		assert.Equal(t, zerolog.InfoLevel, log.GetZerolog().GetLevel())
	})

	t.Run("writes to the configured file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aven.log")
		log, err := New(Config{Level: "debug", File: path})
		require.NoError(t, err)

		log.Info().Str("component", "agent").Str("run_id", "r1").Msg("turn started")
		require.NoError(t, log.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "turn started")
		assert.Contains(t, string(data), `"component":"agent"`)
	})

	t.Run("redacts credentials in the file sink", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "aven.log")
		log, err := New(Config{Level: "info", File: path, Redaction: true})
		require.NoError(t, err)

		log.Warn().Str("detail", "anthropic_api_key=sk-ant-REDACTED").Msg("config rejected")
		require.NoError(t, log.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "sk-ant-")
		assert.Contains(t, string(data), "[REDACTED]")
	})
}

func TestLoggerLevels(t *testing.T) {
	log, err := New(Config{Level: "error", Console: true})
	require.NoError(t, err)
	defer log.Close()

	// Below-threshold events are disabled, not emitted.
	assert.False(t, log.Debug().Enabled())
	assert.False(t, log.Info().Enabled())
	assert.True(t, log.Error().Enabled())
}

func TestLoggerWith(t *testing.T) {
	log, err := New(Config{Level: "info", Console: true})
	require.NoError(t, err)
	defer log.Close()

	child := log.With().Str("component", "eventbus").Logger()
	assert.Equal(t, zerolog.InfoLevel, child.GetLevel())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
}
