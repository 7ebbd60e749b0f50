// Package auditlog records one append-only entry per payment notification
// outcome.
//
// Entries are never updated or deleted. The Recorder wraps a Logger backend
// and falls back to the process log when the backend cannot persist an
// entry, so a logging failure never aborts reconciliation.
package auditlog

import "time"

// Severity grades an entry for later inspection.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Outcome is the terminal state a notification reached.
type Outcome string

const (
	OutcomeReconciled           Outcome = "reconciled"
	OutcomeUnhandled            Outcome = "unhandled"
	OutcomeUnresolvedAccount    Outcome = "unresolved_account"
	OutcomeVerificationFailed   Outcome = "verification_failed"
	OutcomeReconciliationFailed Outcome = "reconciliation_failed"
	OutcomeRateLimited          Outcome = "rate_limited"
)

// KindVerificationFailed is the entry kind used when a notification could
// not be authenticated and its real kind is unknown.
const KindVerificationFailed = "verification_failed"

// KindRateLimited is the entry kind for deliveries refused before the body
// was read.
const KindRateLimited = "rate_limited"

// Entry is a single audit record.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Kind         string    `json:"kind"`
	Severity     Severity  `json:"severity"`
	Outcome      Outcome   `json:"outcome"`
	EventID      string    `json:"event_id,omitempty"`
	ProviderType string    `json:"provider_type,omitempty"`
	AccountID    string    `json:"account_id,omitempty"`
	ActorID      string    `json:"actor_id,omitempty"`
	SourceIP     string    `json:"source_ip,omitempty"`
	Path         string    `json:"path,omitempty"`
	Message      string    `json:"message,omitempty"`
	Error        string    `json:"error,omitempty"`
	Signature    string    `json:"signature,omitempty"`
}

// Filter narrows Query and Count.
type Filter struct {
	ID        string
	Kind      string
	Outcome   Outcome
	AccountID string
	EventID   string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
