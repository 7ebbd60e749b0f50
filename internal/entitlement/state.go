// Package entitlement defines the local entitlement states an account can be
// in and the fixed mapping from payment-provider subscription statuses.
package entitlement

import "strings"

// State is the local representation of whether an account's paid features
// are unlocked.
type State string

const (
	StateActive    State = "active"
	StatePending   State = "pending"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// MapProviderStatus converts a provider subscription status to a State.
// Unknown statuses map to pending, never to active.
func MapProviderStatus(status string) State {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return StateActive
	case "past_due", "unpaid":
		return StateExpired
	case "canceled", "incomplete_expired":
		return StateCancelled
	default:
		return StatePending
	}
}

// IsValid reports whether s is one of the known states.
func IsValid(s State) bool {
	switch s {
	case StateActive, StatePending, StateExpired, StateCancelled:
		return true
	default:
		return false
	}
}

// Known returns every state in a stable order.
func Known() []State {
	return []State{StateActive, StatePending, StateExpired, StateCancelled}
}

// GrantsPaidFeatures reports whether an account in state s has paid
// features unlocked.
func GrantsPaidFeatures(s State) bool {
	return s == StateActive
}
