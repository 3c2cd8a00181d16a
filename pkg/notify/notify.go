// Package notify delivers user-facing operational notices. Delivery is
// best effort; a failed sink never fails the caller.
package notify

import (
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Severity of a notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Sink delivers one notice to a user.
type Sink interface {
	Create(userID, title, body string, severity Severity) error
}

// LogSink writes notices to the structured log. It is the sink of last
// resort and never fails.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Create writes the notice at a level matching its severity.
func (s *LogSink) Create(userID, title, body string, severity Severity) error {
	event := s.logger.Info()
	switch severity {
	case SeverityWarning:
		event = s.logger.Warn()
	case SeverityError:
		event = s.logger.Error()
	}
	event.
		Str("user_id", userID).
		Str("title", title).
		Str("body", body).
		Msg("Notification")
	return nil
}

// TelegramSink delivers notices as Telegram messages. Users map to
// chat ids through a registry maintained by the chat transport.
type TelegramSink struct {
	api    *tgbotapi.BotAPI
	logger zerolog.Logger

	mu    sync.RWMutex
	chats map[string]int64
}

// NewTelegramSink authenticates against the bot API.
func NewTelegramSink(botToken string, logger zerolog.Logger) (*TelegramSink, error) {
	if botToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")
	return &TelegramSink{
		api:    api,
		logger: logger,
		chats:  make(map[string]int64),
	}, nil
}

// RegisterChat binds a user to a Telegram chat.
func (s *TelegramSink) RegisterChat(userID string, chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[userID] = chatID
}

// Create sends the notice to the user's registered chat.
func (s *TelegramSink) Create(userID, title, body string, severity Severity) error {
	s.mu.RLock()
	chatID, ok := s.chats[userID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no telegram chat registered for user %s", userID)
	}

	text := title
	if body != "" {
		text = title + "\n\n" + body
	}
	if severity == SeverityWarning || severity == SeverityError {
		text = "⚠️ " + text
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// Fanout sends each notice to every sink, logging failures.
type Fanout struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewFanout creates a fanout over the given sinks.
func NewFanout(logger zerolog.Logger, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, logger: logger}
}

// Create delivers to all sinks and always reports success.
func (f *Fanout) Create(userID, title, body string, severity Severity) error {
	for _, sink := range f.sinks {
		if err := sink.Create(userID, title, body, severity); err != nil {
			f.logger.Warn().Err(err).Str("user_id", userID).Msg("Notification sink failed")
		}
	}
	return nil
}
