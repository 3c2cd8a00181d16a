package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole configuration and normalizes bounded
// values in place.
func (v *Validator) Validate(cfg *Config) error {
	if cfg.Providers.Primary != "anthropic" && cfg.Providers.Primary != "openai" {
		return fmt.Errorf("invalid primary provider %q (must be: anthropic, openai)", cfg.Providers.Primary)
	}
	if cfg.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}

	// Bounded knobs are normalized, not rejected.
	if cfg.Agent.MaxRounds == 0 {
		cfg.Agent.MaxRounds = 6
	}
	if cfg.Agent.MaxRounds < 1 {
		cfg.Agent.MaxRounds = 1
	}
	if cfg.Agent.MaxRounds > 12 {
		cfg.Agent.MaxRounds = 12
	}
	if cfg.Heartbeat.TickIntervalSec < 15 {
		cfg.Heartbeat.TickIntervalSec = 15
	}
	if cfg.Heartbeat.MissedThresholdSec < 30 {
		cfg.Heartbeat.MissedThresholdSec = 30
	}
	if cfg.Heartbeat.LookbackHours < 1 {
		cfg.Heartbeat.LookbackHours = 24
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}

	for _, w := range cfg.Autonomy.Windows {
		if err := v.ValidateClock(w.Start); err != nil {
			return fmt.Errorf("autonomy window %q: %w", w.Label, err)
		}
		if err := v.ValidateClock(w.End); err != nil {
			return fmt.Errorf("autonomy window %q: %w", w.Label, err)
		}
		for _, day := range w.Days {
			if day < 0 || day > 6 {
				return fmt.Errorf("autonomy window %q: invalid day %d (Sunday=0..Saturday=6)", w.Label, day)
			}
		}
	}

	if cfg.Telegram.Enabled {
		if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
			return err
		}
	}

	return nil
}

var clockPattern = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// ValidateClock validates an "HH:MM" clock time
func (v *Validator) ValidateClock(clock string) error {
	if !clockPattern.MatchString(clock) {
		return fmt.Errorf("invalid clock time %q (expected HH:MM)", clock)
	}
	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	pattern := regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
	if !pattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}
