package auditlog

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/bookline/internal/metrics"
)

const defaultWriteTimeout = 5 * time.Second

// Recorder appends entries on behalf of the notification pipeline. Record
// never fails: when the backend rejects an entry it is written to the
// process log instead.
type Recorder struct {
	logger  Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRecorder wraps logger. A nil logger records to the console.
func NewRecorder(logger Logger, timeout time.Duration) *Recorder {
	if logger == nil {
		logger = NewConsoleLogger()
	}
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Recorder{logger: logger, timeout: timeout, now: time.Now}
}

// Logger returns the wrapped backend.
func (r *Recorder) Logger() Logger {
	return r.logger
}

// Record fills in the ID and timestamp if unset and appends the entry. It
// returns the entry as recorded.
func (r *Recorder) Record(ctx context.Context, entry Entry) Entry {
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = strings.ToLower(ulid.Make().String())
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}

	// The write must not inherit a cancellation from the inbound request.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.logger.Append(writeCtx, entry); err != nil {
		metrics.AuditWriteFailuresTotal.Inc()
		fallback := log.With().Str("audit_error", err.Error()).Logger()
		logEntry(fallback, entry, "Audit write failed; entry recorded to process log")
	}
	return entry
}
