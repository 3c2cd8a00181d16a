package config

import (
	"encoding/json"

	"github.com/avenhq/aven/pkg/risk"
)

// Config represents the main Aven configuration
type Config struct {
	// Providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Autonomy schedule applied to users without their own
	Autonomy risk.Schedule `json:"autonomy" mapstructure:"autonomy"`

	// Heartbeat monitor
	Heartbeat HeartbeatConfig `json:"heartbeat" mapstructure:"heartbeat"`

	// HTTP server (event stream, metrics)
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Telegram notifications
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Persona overrides file (YAML), optional
	PersonasPath string `json:"personas_path" mapstructure:"personas_path"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProvidersConfig holds model provider credentials and endpoints
type ProvidersConfig struct {
	Primary    string `json:"primary" mapstructure:"primary"` // anthropic, openai
	Anthropic  string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	OpenAI     string `json:"openai_api_key" mapstructure:"openai_api_key"`
	LocalURL   string `json:"local_url" mapstructure:"local_url"`
	LocalModel string `json:"local_model" mapstructure:"local_model"`
}

// AgentConfig tunes the turn loop
type AgentConfig struct {
	Model         string  `json:"model" mapstructure:"model"`
	FallbackModel string  `json:"fallback_model" mapstructure:"fallback_model"`
	MaxRounds     int     `json:"max_rounds" mapstructure:"max_rounds"`
	Temperature   float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int     `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt  string  `json:"system_prompt" mapstructure:"system_prompt"`
}

// HeartbeatConfig tunes the presence monitor
type HeartbeatConfig struct {
	TickIntervalSec    int `json:"tick_interval_sec" mapstructure:"tick_interval_sec"`
	MissedThresholdSec int `json:"missed_threshold_sec" mapstructure:"missed_threshold_sec"`
	LookbackHours      int `json:"lookback_hours" mapstructure:"lookback_hours"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	BotToken string `json:"bot_token" mapstructure:"bot_token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `json:"level" mapstructure:"level"`
	File     string `json:"file" mapstructure:"file"`
	Pretty   bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize  int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge   int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Primary:    "anthropic",
			LocalURL:   "http://127.0.0.1:11434",
			LocalModel: "llama3.2",
		},
		Agent: AgentConfig{
			Model:         "claude-sonnet-4",
			FallbackModel: "llama3.2",
			MaxRounds:     6,
			Temperature:   0.7,
			MaxTokens:     4096,
		},
		Autonomy: risk.Schedule{
			Enabled: false,
		},
		Heartbeat: HeartbeatConfig{
			TickIntervalSec:    30,
			MissedThresholdSec: 180,
			LookbackHours:      24,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:    "info",
			MaxSize:  100,
			MaxAge:   7,
			Compress: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
