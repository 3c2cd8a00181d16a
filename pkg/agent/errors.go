package agent

import (
	"errors"
	"fmt"
	"strings"
)

// CredentialMissingError signals that a provider has no usable
// credential. The turn loop matches it by type to trigger the one-shot
// fallback switch.
type CredentialMissingError struct {
	Provider string
}

func (e *CredentialMissingError) Error() string {
	return fmt.Sprintf("no credential configured for provider %s", e.Provider)
}

// IsCredentialMissing reports whether err is, or wraps, a missing
// credential condition. SDK errors that only carry the condition in
// their message are sniffed as a fallback for providers outside our
// control.
func IsCredentialMissing(err error) bool {
	var credErr *CredentialMissingError
	if errors.As(err, &credErr) {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "api key") &&
		(strings.Contains(msg, "missing") || strings.Contains(msg, "not set") || strings.Contains(msg, "invalid x-api-key"))
}
