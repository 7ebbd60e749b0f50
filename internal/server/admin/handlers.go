// Package admin serves the operator-facing endpoints: probes, account
// inspection and the audit trail. Everything except the probes sits behind
// AdminKeyMiddleware.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rcourtman/bookline/internal/auditlog"
	"github.com/rcourtman/bookline/internal/entitlement"
	"github.com/rcourtman/bookline/internal/logging"
	"github.com/rcourtman/bookline/internal/store"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// Pinger is satisfied by the account store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AccountReader is the read side of the account store.
type AccountReader interface {
	Get(ctx context.Context, id string) (*store.Account, error)
	List(ctx context.Context) ([]*store.Account, error)
	ListByState(ctx context.Context, state entitlement.State) ([]*store.Account, error)
}

// HandleHealthz returns 200 "ok" unconditionally (liveness probe).
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that checks database connectivity (readiness probe).
func HandleReadyz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if db == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		if err := db.Ping(r.Context()); err != nil {
			logging.FromContext(r.Context()).Warn().Err(err).Msg("Readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// HandleListAccounts lists accounts, optionally filtered by ?state=.
func HandleListAccounts(accounts AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stateFilter := entitlement.State(strings.TrimSpace(r.URL.Query().Get("state")))
		if stateFilter != "" && !entitlement.IsValid(stateFilter) {
			writeError(w, http.StatusBadRequest, "invalid state")
			return
		}

		var list []*store.Account
		var err error
		if stateFilter != "" {
			list, err = accounts.ListByState(r.Context(), stateFilter)
		} else {
			list, err = accounts.List(r.Context())
		}
		if err != nil {
			logging.FromContext(r.Context()).Error().Err(err).Msg("List accounts failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if list == nil {
			list = []*store.Account{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": list,
			"count":    len(list),
		})
	}
}

// HandleGetAccount returns a single account by its path id.
func HandleGetAccount(accounts AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("account_id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing account_id")
			return
		}
		acct, err := accounts.Get(r.Context(), id)
		if err != nil {
			logging.FromContext(r.Context()).Error().Err(err).Str("account_id", id).Msg("Get account failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if acct == nil {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeJSON(w, http.StatusOK, acct)
	}
}

// HandleListAudit queries the audit trail. Supported filters: kind,
// outcome, account_id, event_id, limit and offset.
func HandleListAudit(logger auditlog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := auditlog.Filter{
			Kind:      strings.TrimSpace(q.Get("kind")),
			Outcome:   auditlog.Outcome(strings.TrimSpace(q.Get("outcome"))),
			AccountID: strings.TrimSpace(q.Get("account_id")),
			EventID:   strings.TrimSpace(q.Get("event_id")),
			Limit:     defaultAuditLimit,
		}
		if v := strings.TrimSpace(q.Get("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			filter.Limit = min(n, maxAuditLimit)
		}
		if v := strings.TrimSpace(q.Get("offset")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid offset")
				return
			}
			filter.Offset = n
		}

		entries, err := logger.Query(r.Context(), filter)
		if err != nil {
			logging.FromContext(r.Context()).Error().Err(err).Msg("Query audit log failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if entries == nil {
			entries = []auditlog.Entry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"entries": entries,
			"count":   len(entries),
		})
	}
}

// AdminKeyMiddleware returns middleware that requires a valid admin API key.
func AdminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			// Also check Authorization: Bearer <key>
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}

		if adminKey == "" || key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
