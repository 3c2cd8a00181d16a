package agent

import (
	"context"
	"strings"
	"time"
)

const titlePrompt = "Write a short title (at most six words) for this conversation. Reply with the title only, no quotes."

const maxTitleLen = 80

// maybeGenerateTitle fires a one-shot background completion to name an
// untitled conversation. Failures are logged and dropped; the title is
// cosmetic.
func (l *Loop) maybeGenerateTitle(ctx context.Context, conversationID string) {
	if l.cfg.Conversations.HasTitle(conversationID) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		history, err := l.cfg.Conversations.History(conversationID)
		if err != nil || len(history) == 0 {
			return
		}
		// The opening exchange is enough context for a name.
		if len(history) > 4 {
			history = history[:4]
		}
		messages := append([]Message{}, history...)
		messages = append(messages, Message{Role: RoleUser, Content: titlePrompt})

		completion, err := l.cfg.Primary.Complete(ctx, CompletionRequest{
			Model:     l.cfg.Model,
			Messages:  messages,
			MaxTokens: 60,
		})
		if err != nil && IsCredentialMissing(err) {
			completion, err = l.cfg.Fallback.Complete(ctx, CompletionRequest{
				Model:     l.cfg.FallbackModel,
				Messages:  messages,
				MaxTokens: 60,
			})
		}
		if err != nil {
			l.cfg.Logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("Title generation failed")
			return
		}

		title := sanitizeTitle(completion.Content)
		if title == "" {
			return
		}
		if err := l.cfg.Conversations.SetTitle(conversationID, title); err != nil {
			l.cfg.Logger.Debug().Err(err).Str("conversation_id", conversationID).Msg("Failed to store title")
		}
	}()
}

func sanitizeTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > maxTitleLen {
		s = strings.TrimSpace(s[:maxTitleLen])
	}
	return s
}
