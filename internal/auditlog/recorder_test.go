package auditlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rcourtman/bookline/internal/metrics"
)

type memoryLogger struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	ctxErr  error
}

func (m *memoryLogger) Append(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErr = ctx.Err()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryLogger) Query(context.Context, Filter) ([]Entry, error) { return m.entries, nil }
func (m *memoryLogger) Count(context.Context, Filter) (int, error)     { return len(m.entries), nil }
func (m *memoryLogger) Close() error                                    { return nil }

func TestRecorderFillsDefaults(t *testing.T) {
	backend := &memoryLogger{}
	r := NewRecorder(backend, time.Second)
	r.now = func() time.Time { return time.Unix(1700000000, 0) }

	got := r.Record(context.Background(), Entry{Kind: "unrecognized", Outcome: OutcomeUnhandled})

	if len(got.ID) != 26 || got.ID != strings.ToLower(got.ID) {
		t.Fatalf("expected lowercase ulid id, got %q", got.ID)
	}
	if !got.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("timestamp=%v", got.Timestamp)
	}
	if got.Severity != SeverityInfo {
		t.Fatalf("severity=%q, want info", got.Severity)
	}
	if len(backend.entries) != 1 || backend.entries[0].ID != got.ID {
		t.Fatalf("backend entries=%+v", backend.entries)
	}
}

func TestRecorderKeepsExplicitFields(t *testing.T) {
	backend := &memoryLogger{}
	r := NewRecorder(backend, 0)
	ts := time.Unix(42, 0).UTC()

	got := r.Record(context.Background(), Entry{ID: "fixed", Timestamp: ts, Severity: SeverityError})
	if got.ID != "fixed" || !got.Timestamp.Equal(ts) || got.Severity != SeverityError {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestRecorderIgnoresRequestCancellation(t *testing.T) {
	backend := &memoryLogger{}
	r := NewRecorder(backend, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, Entry{Kind: "payment_failed"})

	if backend.ctxErr != nil {
		t.Fatalf("append context should not be cancelled, got %v", backend.ctxErr)
	}
	if len(backend.entries) != 1 {
		t.Fatal("entry should be written despite cancelled request context")
	}
}

func TestRecorderFallsBackOnFailure(t *testing.T) {
	backend := &memoryLogger{err: errors.New("disk full")}
	r := NewRecorder(backend, time.Second)

	before := testutil.ToFloat64(metrics.AuditWriteFailuresTotal)
	got := r.Record(context.Background(), Entry{Kind: "payment_failed", Outcome: OutcomeReconciled})
	after := testutil.ToFloat64(metrics.AuditWriteFailuresTotal)

	if got.ID == "" {
		t.Fatal("entry should still carry an id")
	}
	if after-before != 1 {
		t.Fatalf("audit write failures delta=%v, want 1", after-before)
	}
}

func TestNewRecorderDefaultsToConsole(t *testing.T) {
	r := NewRecorder(nil, 0)
	if _, ok := r.Logger().(*ConsoleLogger); !ok {
		t.Fatalf("expected console logger, got %T", r.Logger())
	}
	if r.timeout != defaultWriteTimeout {
		t.Fatalf("timeout=%v", r.timeout)
	}
}
