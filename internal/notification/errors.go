package notification

import (
	"errors"
	"fmt"
)

// ErrSecretNotConfigured is returned when no webhook secret is set.
// Notifications are never accepted without one.
var ErrSecretNotConfigured = errors.New("webhook secret not configured")

// VerificationError reports a notification that could not be authenticated
// or decoded. It is never retried locally.
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return "notification verification failed: " + e.Reason
	}
	return fmt.Sprintf("notification verification failed: %s: %v", e.Reason, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }
