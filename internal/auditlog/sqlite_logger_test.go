package auditlog

import (
	"context"
	"testing"
	"time"
)

func newTestSQLiteLogger(t *testing.T, key []byte) *SQLiteLogger {
	t.Helper()
	l, err := NewSQLiteLogger(SQLiteLoggerConfig{DataDir: t.TempDir(), SigningKey: key})
	if err != nil {
		t.Fatalf("NewSQLiteLogger failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestNewSQLiteLoggerRequiresDataDir(t *testing.T) {
	if _, err := NewSQLiteLogger(SQLiteLoggerConfig{}); err == nil {
		t.Fatal("expected error for empty data dir")
	}
}

func TestSQLiteLoggerAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLiteLogger(t, []byte("0123456789abcdef0123456789abcdef"))

	base := time.Unix(1700000000, 0).UTC()
	entries := []Entry{
		{ID: "e1", Timestamp: base, Kind: "checkout_completed", Severity: SeverityInfo, Outcome: OutcomeReconciled, EventID: "evt_1", AccountID: "acc_1"},
		{ID: "e2", Timestamp: base.Add(time.Minute), Kind: "payment_failed", Severity: SeverityInfo, Outcome: OutcomeReconciled, EventID: "evt_2", AccountID: "acc_1"},
		{ID: "e3", Timestamp: base.Add(2 * time.Minute), Kind: KindVerificationFailed, Severity: SeverityWarning, Outcome: OutcomeVerificationFailed, SourceIP: "203.0.113.1"},
	}
	for _, e := range entries {
		if err := l.Append(ctx, e); err != nil {
			t.Fatalf("Append(%s): %v", e.ID, err)
		}
	}

	all, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len=%d, want 3", len(all))
	}
	if all[0].ID != "e3" {
		t.Fatalf("expected newest first, got %s", all[0].ID)
	}
	if all[0].SourceIP != "203.0.113.1" || all[0].Severity != SeverityWarning {
		t.Fatalf("unexpected entry %+v", all[0])
	}
	for _, e := range all {
		if e.Signature == "" {
			t.Fatalf("entry %s not signed", e.ID)
		}
		if !l.Verify(e) {
			t.Fatalf("entry %s signature did not verify", e.ID)
		}
	}

	byAccount, err := l.Query(ctx, Filter{AccountID: "acc_1"})
	if err != nil {
		t.Fatalf("Query by account: %v", err)
	}
	if len(byAccount) != 2 {
		t.Fatalf("len(byAccount)=%d, want 2", len(byAccount))
	}

	byKind, err := l.Query(ctx, Filter{Kind: "payment_failed"})
	if err != nil || len(byKind) != 1 || byKind[0].EventID != "evt_2" {
		t.Fatalf("Query by kind: %+v err %v", byKind, err)
	}

	start := base.Add(30 * time.Second)
	windowed, err := l.Query(ctx, Filter{StartTime: &start, Outcome: OutcomeReconciled})
	if err != nil || len(windowed) != 1 || windowed[0].ID != "e2" {
		t.Fatalf("Query by window: %+v err %v", windowed, err)
	}

	paged, err := l.Query(ctx, Filter{Offset: 1})
	if err != nil || len(paged) != 2 || paged[0].ID != "e2" {
		t.Fatalf("Query with offset: %+v err %v", paged, err)
	}

	count, err := l.Count(ctx, Filter{Outcome: OutcomeVerificationFailed})
	if err != nil || count != 1 {
		t.Fatalf("Count=%d err %v, want 1", count, err)
	}
}

func TestSQLiteLoggerRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLiteLogger(t, nil)

	e := Entry{ID: "dup", Timestamp: time.Now(), Kind: "unrecognized", Severity: SeverityInfo, Outcome: OutcomeUnhandled}
	if err := l.Append(ctx, e); err != nil {
		t.Fatalf("first Append: %v", err)
	}
	e.Message = "rewritten"
	if err := l.Append(ctx, e); err == nil {
		t.Fatal("expected appending an existing id to fail")
	}

	got, err := l.Query(ctx, Filter{ID: "dup"})
	if err != nil || len(got) != 1 || got[0].Message != "" {
		t.Fatalf("entry was modified: %+v err %v", got, err)
	}
}

func TestSQLiteLoggerAppendValidation(t *testing.T) {
	l := newTestSQLiteLogger(t, nil)
	if err := l.Append(context.Background(), Entry{Timestamp: time.Now()}); err == nil {
		t.Fatal("expected error for missing id")
	}
	if err := l.Append(context.Background(), Entry{ID: "x"}); err == nil {
		t.Fatal("expected error for missing timestamp")
	}
}

func TestSQLiteLoggerUnsignedWithoutKey(t *testing.T) {
	ctx := context.Background()
	l := newTestSQLiteLogger(t, nil)

	if err := l.Append(ctx, Entry{ID: "u1", Timestamp: time.Now(), Kind: "unrecognized", Outcome: OutcomeUnhandled, Severity: SeverityInfo}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := l.Query(ctx, Filter{ID: "u1"})
	if err != nil || len(got) != 1 {
		t.Fatalf("Query: %+v err %v", got, err)
	}
	if got[0].Signature != "" {
		t.Fatalf("expected empty signature, got %q", got[0].Signature)
	}
	if l.Verify(got[0]) {
		t.Fatal("unsigned entry should not verify")
	}
}
