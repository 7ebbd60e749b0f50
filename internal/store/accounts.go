// Package store persists account billing documents in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rcourtman/bookline/internal/entitlement"
	_ "modernc.org/sqlite"
)

// ErrAccountNotFound is returned by Save when no account row matches the ID.
var ErrAccountNotFound = errors.New("account not found")

// AccountStore provides point reads and writes of account documents backed
// by SQLite. Each write replaces one row atomically; there is no cross-row
// transaction.
type AccountStore struct {
	db  *sql.DB
	now func() time.Time
}

const accountColumns = `
	id, email, display_name, entitlement_state,
	payment_customer_ref, payment_subscription_ref,
	entitlement_updated_at, subscription_ends_at,
	last_payment_at, last_payment_amount, last_payment_currency,
	payment_failed_at, last_event_id, created_at, updated_at`

// NewAccountStore opens (or creates) the account database in dir.
func NewAccountStore(dir string) (*AccountStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create account store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "accounts.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open account store db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &AccountStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *AccountStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id                       TEXT PRIMARY KEY,
		email                    TEXT NOT NULL DEFAULT '',
		display_name             TEXT NOT NULL DEFAULT '',
		entitlement_state        TEXT NOT NULL DEFAULT 'pending',
		payment_customer_ref     TEXT NOT NULL DEFAULT '',
		payment_subscription_ref TEXT NOT NULL DEFAULT '',
		entitlement_updated_at   INTEGER,
		subscription_ends_at     INTEGER,
		last_payment_at          INTEGER,
		last_payment_amount      INTEGER NOT NULL DEFAULT 0,
		last_payment_currency    TEXT NOT NULL DEFAULT '',
		payment_failed_at        INTEGER,
		last_event_id            TEXT NOT NULL DEFAULT '',
		created_at               INTEGER NOT NULL,
		updated_at               INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_entitlement_state ON accounts(entitlement_state);
	CREATE INDEX IF NOT EXISTS idx_accounts_payment_customer_ref ON accounts(payment_customer_ref);
	CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init account store schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *AccountStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *AccountStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new account. Accounts without a state start pending.
func (s *AccountStore) Create(ctx context.Context, a *Account) error {
	if a == nil {
		return fmt.Errorf("account is nil")
	}
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if a.EntitlementState == "" {
		a.EntitlementState = entitlement.StatePending
	}
	if !entitlement.IsValid(a.EntitlementState) {
		return fmt.Errorf("invalid entitlement state %q", a.EntitlementState)
	}
	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.DisplayName, string(a.EntitlementState),
		a.PaymentCustomerRef, a.PaymentSubscriptionRef,
		nullableTimeUnix(a.EntitlementUpdatedAt), nullableTimeUnix(a.SubscriptionEndsAt),
		nullableTimeUnix(a.LastPaymentAt), a.LastPaymentAmount, a.LastPaymentCurrency,
		nullableTimeUnix(a.PaymentFailedAt), a.LastEventID,
		a.CreatedAt.Unix(), a.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// Get retrieves an account by ID. It returns nil, nil when none exists.
func (s *AccountStore) Get(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, strings.TrimSpace(id))
	return scanAccount(row)
}

// GetByCustomerRef retrieves the account linked to a provider customer.
func (s *AccountStore) GetByCustomerRef(ctx context.Context, customerRef string) (*Account, error) {
	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE payment_customer_ref = ? ORDER BY created_at ASC LIMIT 1`, customerRef)
	return scanAccount(row)
}

// Save writes the full account document. The row must already exist.
func (s *AccountStore) Save(ctx context.Context, a *Account) error {
	if a == nil {
		return fmt.Errorf("account is nil")
	}
	if !entitlement.IsValid(a.EntitlementState) {
		return fmt.Errorf("invalid entitlement state %q", a.EntitlementState)
	}
	a.UpdatedAt = s.now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET
			email = ?, display_name = ?, entitlement_state = ?,
			payment_customer_ref = ?, payment_subscription_ref = ?,
			entitlement_updated_at = ?, subscription_ends_at = ?,
			last_payment_at = ?, last_payment_amount = ?, last_payment_currency = ?,
			payment_failed_at = ?, last_event_id = ?, updated_at = ?
		WHERE id = ?`,
		a.Email, a.DisplayName, string(a.EntitlementState),
		a.PaymentCustomerRef, a.PaymentSubscriptionRef,
		nullableTimeUnix(a.EntitlementUpdatedAt), nullableTimeUnix(a.SubscriptionEndsAt),
		nullableTimeUnix(a.LastPaymentAt), a.LastPaymentAmount, a.LastPaymentCurrency,
		nullableTimeUnix(a.PaymentFailedAt), a.LastEventID, a.UpdatedAt.Unix(),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("save account %q: %w", a.ID, ErrAccountNotFound)
	}
	return nil
}

// List returns all accounts, newest first.
func (s *AccountStore) List(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// ListByState returns all accounts in the given entitlement state.
func (s *AccountStore) ListByState(ctx context.Context, state entitlement.State) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE entitlement_state = ? ORDER BY created_at DESC, id ASC`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list accounts by state: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// CountByState returns a map of state -> count.
func (s *AccountStore) CountByState(ctx context.Context) (map[entitlement.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entitlement_state, COUNT(*) FROM accounts GROUP BY entitlement_state`)
	if err != nil {
		return nil, fmt.Errorf("count accounts by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[entitlement.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[entitlement.State(state)] = count
	}
	return counts, rows.Err()
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*Account, error) {
	var a Account
	var state string
	var entitlementUpdatedAt, subscriptionEndsAt, lastPaymentAt, paymentFailedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := s.Scan(
		&a.ID, &a.Email, &a.DisplayName, &state,
		&a.PaymentCustomerRef, &a.PaymentSubscriptionRef,
		&entitlementUpdatedAt, &subscriptionEndsAt,
		&lastPaymentAt, &a.LastPaymentAmount, &a.LastPaymentCurrency,
		&paymentFailedAt, &a.LastEventID, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	a.EntitlementState = entitlement.State(state)
	a.EntitlementUpdatedAt = timeFromNullable(entitlementUpdatedAt)
	a.SubscriptionEndsAt = timeFromNullable(subscriptionEndsAt)
	a.LastPaymentAt = timeFromNullable(lastPaymentAt)
	a.PaymentFailedAt = timeFromNullable(paymentFailedAt)
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &a, nil
}

func scanAccounts(rows *sql.Rows) ([]*Account, error) {
	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

func timeFromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	ts := time.Unix(v.Int64, 0).UTC()
	return &ts
}
