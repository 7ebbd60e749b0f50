package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rcourtman/bookline/internal/billing"
	"github.com/rcourtman/bookline/internal/entitlement"
	"github.com/rcourtman/bookline/internal/logging"
)

// SubscriptionRetriever fetches the provider's current view of a subscription.
type SubscriptionRetriever interface {
	RetrieveSubscription(ctx context.Context, ref string) (billing.Subscription, error)
}

type subscriptionView struct {
	AccountID        string            `json:"account_id"`
	EntitlementState entitlement.State `json:"entitlement_state"`
	SubscriptionID   string            `json:"subscription_id"`
	ProviderStatus   string            `json:"provider_status"`
	ProviderState    entitlement.State `json:"provider_state"`
	PeriodEnd        *time.Time        `json:"period_end,omitempty"`
	InSync           bool              `json:"in_sync"`
}

// HandleGetSubscription compares an account's stored entitlement with the
// provider's live subscription status. It never writes; drift is repaired
// by the next notification or a replay.
func HandleGetSubscription(accounts AccountReader, subs SubscriptionRetriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("account_id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "missing account_id")
			return
		}
		logger := logging.FromContext(r.Context())

		acct, err := accounts.Get(r.Context(), id)
		if err != nil {
			logger.Error().Err(err).Str("account_id", id).Msg("Get account failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if acct == nil {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		if acct.PaymentSubscriptionRef == "" {
			writeError(w, http.StatusConflict, "account has no subscription")
			return
		}

		sub, err := subs.RetrieveSubscription(r.Context(), acct.PaymentSubscriptionRef)
		if errors.Is(err, billing.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "payment provider not configured")
			return
		}
		if err != nil {
			logger.Warn().Err(err).Str("account_id", id).
				Str("subscription_id", acct.PaymentSubscriptionRef).
				Msg("Retrieve subscription failed")
			writeError(w, http.StatusBadGateway, "payment provider unavailable")
			return
		}

		providerState := entitlement.MapProviderStatus(sub.Status)
		writeJSON(w, http.StatusOK, subscriptionView{
			AccountID:        acct.ID,
			EntitlementState: acct.EntitlementState,
			SubscriptionID:   sub.ID,
			ProviderStatus:   sub.Status,
			ProviderState:    providerState,
			PeriodEnd:        sub.PeriodEnd,
			InSync:           providerState == acct.EntitlementState,
		})
	}
}
