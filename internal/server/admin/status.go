package admin

import (
	"context"
	"net/http"

	"github.com/rcourtman/bookline/internal/entitlement"
	"github.com/rcourtman/bookline/internal/logging"
	"github.com/rcourtman/bookline/internal/metrics"
)

// StateCounter is satisfied by the account store.
type StateCounter interface {
	CountByState(ctx context.Context) (map[entitlement.State]int, error)
}

type statusResponse struct {
	Version          string                    `json:"version"`
	TotalAccounts    int                       `json:"total_accounts"`
	PaidAccounts     int                       `json:"paid_accounts"`
	ByState          map[entitlement.State]int `json:"by_state"`
	WebhookSecretSet bool                      `json:"webhook_secret_set"`
}

// HandleStatus returns a handler that reports aggregate account status.
func HandleStatus(accounts StateCounter, version string, webhookConfigured bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := accounts.CountByState(r.Context())
		if err != nil {
			logging.FromContext(r.Context()).Error().Err(err).Msg("Count accounts by state failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		resp := statusResponse{
			Version:          version,
			ByState:          make(map[entitlement.State]int, len(entitlement.Known())),
			WebhookSecretSet: webhookConfigured,
		}
		for _, state := range entitlement.Known() {
			c := counts[state]
			resp.ByState[state] = c
			resp.TotalAccounts += c
			if entitlement.GrantsPaidFeatures(state) {
				resp.PaidAccounts += c
			}
			// Opportunistically sync gauges on status calls (in addition to the background updater).
			metrics.AccountsByEntitlementState.WithLabelValues(string(state)).Set(float64(c))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
