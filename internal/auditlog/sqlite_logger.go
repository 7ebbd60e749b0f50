package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteLoggerConfig configures the SQLite audit logger.
type SQLiteLoggerConfig struct {
	DataDir    string // audit.db lives in DataDir/audit
	SigningKey []byte // optional HMAC key
}

// SQLiteLogger persists signed entries to SQLite. It exposes no update or
// delete path and runs no retention worker.
type SQLiteLogger struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
	signer *Signer
}

const entryColumns = `id, timestamp, kind, severity, outcome, event_id, provider_type,
	account_id, actor_id, source_ip, path, message, error, signature`

// NewSQLiteLogger opens (or creates) the audit database.
func NewSQLiteLogger(cfg SQLiteLoggerConfig) (*SQLiteLogger, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	auditDir := filepath.Join(cfg.DataDir, "audit")
	if err := os.MkdirAll(auditDir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	dbPath := filepath.Join(auditDir, "audit.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	l := &SQLiteLogger{
		db:     db,
		dbPath: dbPath,
		signer: NewSigner(cfg.SigningKey),
	}
	if err := l.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().
		Str("dbPath", dbPath).
		Bool("signingEnabled", l.signer.SigningEnabled()).
		Msg("SQLite audit logger initialized")
	return l, nil
}

func (l *SQLiteLogger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id            TEXT PRIMARY KEY,
		timestamp     INTEGER NOT NULL,
		kind          TEXT NOT NULL,
		severity      TEXT NOT NULL,
		outcome       TEXT NOT NULL,
		event_id      TEXT NOT NULL DEFAULT '',
		provider_type TEXT NOT NULL DEFAULT '',
		account_id    TEXT NOT NULL DEFAULT '',
		actor_id      TEXT NOT NULL DEFAULT '',
		source_ip     TEXT NOT NULL DEFAULT '',
		path          TEXT NOT NULL DEFAULT '',
		message       TEXT NOT NULL DEFAULT '',
		error         TEXT NOT NULL DEFAULT '',
		signature     TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_kind ON audit_entries(kind);
	CREATE INDEX IF NOT EXISTS idx_audit_entries_account ON audit_entries(account_id) WHERE account_id != '';
	CREATE INDEX IF NOT EXISTS idx_audit_entries_event ON audit_entries(event_id) WHERE event_id != '';
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}
	return nil
}

// Append signs and inserts an entry.
func (l *SQLiteLogger) Append(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("audit entry id is required")
	}
	if entry.Timestamp.IsZero() {
		return fmt.Errorf("audit entry timestamp is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Signature = l.signer.Sign(entry)
	_, err := l.db.ExecContext(ctx, `INSERT INTO audit_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.Unix(), entry.Kind, string(entry.Severity), string(entry.Outcome),
		entry.EventID, entry.ProviderType, entry.AccountID, entry.ActorID,
		entry.SourceIP, entry.Path, entry.Message, entry.Error, entry.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	logEntry(log.Logger, entry, "Audit entry")
	return nil
}

// Query retrieves entries matching the filter, newest first.
func (l *SQLiteLogger) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	where, args := filterClause(filter)
	query := "SELECT " + entryColumns + " FROM audit_entries" + where + " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		// SQLite requires LIMIT when OFFSET is present.
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var ts int64
		var severity, outcome string
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &severity, &outcome, &e.EventID, &e.ProviderType,
			&e.AccountID, &e.ActorID, &e.SourceIP, &e.Path, &e.Message, &e.Error, &e.Signature); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.Severity = Severity(severity)
		e.Outcome = Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries matching the filter.
func (l *SQLiteLogger) Count(ctx context.Context, filter Filter) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	where, args := filterClause(filter)
	var count int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}

// Verify reports whether an entry's signature is valid.
func (l *SQLiteLogger) Verify(entry Entry) bool {
	return l.signer.Verify(entry)
}

// Close closes the database.
func (l *SQLiteLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func filterClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}

	if f.ID != "" {
		add("id = ?", f.ID)
	}
	if f.Kind != "" {
		add("kind = ?", f.Kind)
	}
	if f.Outcome != "" {
		add("outcome = ?", string(f.Outcome))
	}
	if f.AccountID != "" {
		add("account_id = ?", f.AccountID)
	}
	if f.EventID != "" {
		add("event_id = ?", f.EventID)
	}
	if f.StartTime != nil {
		add("timestamp >= ?", f.StartTime.Unix())
	}
	if f.EndTime != nil {
		add("timestamp <= ?", f.EndTime.Unix())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
