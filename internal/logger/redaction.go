package logger

import (
	"io"
	"regexp"
)

// Credential key names scrubbed in key/value form. Same families the
// risk engine scores in tool input; they must not reach a sink in
// clear text either.
var credentialKeys = []string{
	"password", "passwd", "token", "secret", "api_key", "apikey",
	"private_key", "credential",
}

// Token shapes scrubbed regardless of surrounding context.
var tokenShapes = []string{
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9_-]{20,}`,
	`Bearer\s+[a-zA-Z0-9._-]+`,
	// Telegram bot token
	`\d{8,10}:[a-zA-Z0-9_-]{30,}`,
	`AKIA[0-9A-Z]{16}`,
}

// Redactor scrubs credentials out of log lines before they hit a sink.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the builtin shape and key/value patterns.
func NewRedactor() *Redactor {
	patterns := make([]*regexp.Regexp, 0, len(tokenShapes)+len(credentialKeys))
	for _, shape := range tokenShapes {
		patterns = append(patterns, regexp.MustCompile(shape))
	}
	for _, key := range credentialKeys {
		patterns = append(patterns, regexp.MustCompile(`(?i)`+key+`["\s:=]+[^\s",}]+`))
	}
	return &Redactor{patterns: patterns}
}

// Redact replaces every match with a fixed marker.
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Wrap redacts everything written through w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	return w.writer.Write([]byte(redacted))
}
