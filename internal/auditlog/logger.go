package auditlog

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is an append-only audit backend.
type Logger interface {
	// Append persists one entry. Entries are immutable once appended.
	Append(ctx context.Context, entry Entry) error

	// Query returns entries matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Entry, error)

	// Count returns the number of entries matching the filter.
	Count(ctx context.Context, filter Filter) (int, error)

	Close() error
}

// ConsoleLogger writes entries to zerolog and keeps nothing.
type ConsoleLogger struct{}

// NewConsoleLogger creates a console-backed audit logger.
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{}
}

// Append writes the entry to the process log.
func (c *ConsoleLogger) Append(_ context.Context, entry Entry) error {
	logEntry(log.Logger, entry, "Audit entry")
	return nil
}

// Query returns nothing; console entries are not queryable.
func (c *ConsoleLogger) Query(context.Context, Filter) ([]Entry, error) {
	return []Entry{}, nil
}

// Count returns zero for the console logger.
func (c *ConsoleLogger) Count(context.Context, Filter) (int, error) {
	return 0, nil
}

// Close is a no-op for the console logger.
func (c *ConsoleLogger) Close() error {
	return nil
}

func logEntry(base zerolog.Logger, entry Entry, msg string) {
	logger := base.With().
		Str("audit_id", entry.ID).
		Time("timestamp", entry.Timestamp).
		Str("kind", entry.Kind).
		Str("outcome", string(entry.Outcome)).
		Str("event_id", entry.EventID).
		Str("provider_type", entry.ProviderType).
		Str("account_id", entry.AccountID).
		Str("actor_id", entry.ActorID).
		Str("source_ip", entry.SourceIP).
		Str("path", entry.Path).
		Logger()

	var ev *zerolog.Event
	switch entry.Severity {
	case SeverityError:
		ev = logger.Error()
	case SeverityWarning:
		ev = logger.Warn()
	default:
		ev = logger.Info()
	}
	if entry.Error != "" {
		ev = ev.Str("error", entry.Error)
	}
	if entry.Message != "" {
		ev = ev.Str("detail", entry.Message)
	}
	ev.Msg(msg)
}
