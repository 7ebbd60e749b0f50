package store

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rcourtman/bookline/internal/entitlement"
)

// Account is the per-professional billing document.
type Account struct {
	ID                     string            `json:"id"`
	Email                  string            `json:"email"`
	DisplayName            string            `json:"display_name"`
	EntitlementState       entitlement.State `json:"entitlement_state"`
	PaymentCustomerRef     string            `json:"payment_customer_ref"`
	PaymentSubscriptionRef string            `json:"payment_subscription_ref"`
	EntitlementUpdatedAt   *time.Time        `json:"entitlement_updated_at,omitempty"`
	SubscriptionEndsAt     *time.Time        `json:"subscription_ends_at,omitempty"`
	LastPaymentAt          *time.Time        `json:"last_payment_at,omitempty"`
	LastPaymentAmount      int64             `json:"last_payment_amount"`
	LastPaymentCurrency    string            `json:"last_payment_currency"`
	PaymentFailedAt        *time.Time        `json:"payment_failed_at,omitempty"`
	LastEventID            string            `json:"last_event_id"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers can compare before/after snapshots.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.EntitlementUpdatedAt = cloneTime(a.EntitlementUpdatedAt)
	cp.SubscriptionEndsAt = cloneTime(a.SubscriptionEndsAt)
	cp.LastPaymentAt = cloneTime(a.LastPaymentAt)
	cp.PaymentFailedAt = cloneTime(a.PaymentFailedAt)
	return &cp
}

// GenerateAccountID returns an account ID of the form "acc_" followed by a
// lowercase ULID.
func GenerateAccountID() string {
	return "acc_" + strings.ToLower(ulid.Make().String())
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
