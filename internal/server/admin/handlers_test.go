package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/bookline/internal/auditlog"
	"github.com/rcourtman/bookline/internal/entitlement"
	"github.com/rcourtman/bookline/internal/store"
)

func newTestStore(t *testing.T) *store.AccountStore {
	t.Helper()
	s, err := store.NewAccountStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func TestHandleHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandleReadyz(t *testing.T) {
	tests := []struct {
		name   string
		db     Pinger
		status int
		body   string
	}{
		{"ready", newTestStore(t), http.StatusOK, "ready"},
		{"nil store", nil, http.StatusServiceUnavailable, "not ready"},
		{"ping fails", failingPinger{}, http.StatusServiceUnavailable, "not ready"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleReadyz(tc.db)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.body, rec.Body.String())
		})
	}
}

func TestHandleListAccounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Create(ctx, &store.Account{ID: "acc_1", EntitlementState: entitlement.StateActive}))
	require.NoError(t, s.Create(ctx, &store.Account{ID: "acc_2"}))

	handler := HandleListAccounts(s)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/admin/accounts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var all struct {
		Accounts []store.Account `json:"accounts"`
		Count    int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Count)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/admin/accounts?state=active", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var active struct {
		Accounts []store.Account `json:"accounts"`
		Count    int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &active))
	require.Equal(t, 1, active.Count)
	assert.Equal(t, "acc_1", active.Accounts[0].ID)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/admin/accounts?state=cancelled", nil))
	assert.JSONEq(t, `{"accounts":[],"count":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/admin/accounts?state=suspended", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Create(ctx, &store.Account{ID: "acc_1", Email: "owner@example.com"}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/accounts/{account_id}", HandleGetAccount(s))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/accounts/acc_1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got store.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "owner@example.com", got.Email)
	assert.Equal(t, entitlement.StatePending, got.EntitlementState)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/accounts/acc_missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListAudit(t *testing.T) {
	ctx := context.Background()
	logger, err := auditlog.NewSQLiteLogger(auditlog.SQLiteLoggerConfig{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })

	base := time.Unix(1700000000, 0).UTC()
	for i, e := range []auditlog.Entry{
		{ID: "a1", Kind: "checkout_completed", Outcome: auditlog.OutcomeReconciled, AccountID: "acc_1"},
		{ID: "a2", Kind: "payment_failed", Outcome: auditlog.OutcomeReconciled, AccountID: "acc_1"},
		{ID: "a3", Kind: auditlog.KindVerificationFailed, Outcome: auditlog.OutcomeVerificationFailed, Severity: auditlog.SeverityWarning},
	} {
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if e.Severity == "" {
			e.Severity = auditlog.SeverityInfo
		}
		require.NoError(t, logger.Append(ctx, e))
	}

	handler := HandleListAudit(logger)
	query := func(qs string) (int, []auditlog.Entry) {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/admin/audit"+qs, nil))
		var body struct {
			Entries []auditlog.Entry `json:"entries"`
		}
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		}
		return rec.Code, body.Entries
	}

	status, entries := query("")
	require.Equal(t, http.StatusOK, status)
	require.Len(t, entries, 3)
	assert.Equal(t, "a3", entries[0].ID, "newest first")

	_, entries = query("?account_id=acc_1&kind=payment_failed")
	require.Len(t, entries, 1)
	assert.Equal(t, "a2", entries[0].ID)

	_, entries = query("?outcome=verification_failed")
	require.Len(t, entries, 1)

	_, entries = query("?limit=1&offset=1")
	require.Len(t, entries, 1)
	assert.Equal(t, "a2", entries[0].ID)

	status, _ = query("?limit=abc")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = query("?offset=-1")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdminKeyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		adminKey string
		header   string
		value    string
		want     int
	}{
		{"x-admin-key", "secret", "X-Admin-Key", "secret", http.StatusNoContent},
		{"bearer", "secret", "Authorization", "Bearer secret", http.StatusNoContent},
		{"wrong key", "secret", "X-Admin-Key", "nope", http.StatusUnauthorized},
		{"missing", "secret", "", "", http.StatusUnauthorized},
		{"basic auth ignored", "secret", "Authorization", "Basic secret", http.StatusUnauthorized},
		{"unset admin key", "", "X-Admin-Key", "", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/accounts", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			AdminKeyMiddleware(tc.adminKey, next).ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
			}
		})
	}
}
