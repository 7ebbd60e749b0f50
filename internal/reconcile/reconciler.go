// Package reconcile applies verified payment notifications to account
// entitlement state.
//
// Every write is derived from the notification alone: timestamps come from
// the provider event and states from the provider's current status, so
// applying the same notification twice leaves the account unchanged.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/bookline/internal/entitlement"
	"github.com/rcourtman/bookline/internal/metrics"
	"github.com/rcourtman/bookline/internal/notification"
	"github.com/rcourtman/bookline/internal/store"
)

// DefaultTimeout bounds a single reconciliation, store and provider calls included.
const DefaultTimeout = 10 * time.Second

// AccountStore is the subset of the account store the reconciler uses.
type AccountStore interface {
	Get(ctx context.Context, id string) (*store.Account, error)
	GetByCustomerRef(ctx context.Context, customerRef string) (*store.Account, error)
	Save(ctx context.Context, a *store.Account) error
}

// CustomerResolver looks up the account reference a provider customer was
// created for.
type CustomerResolver interface {
	CustomerAccountRef(ctx context.Context, customerRef string) (string, error)
}

// Change describes the effect of one reconciliation.
type Change struct {
	AccountID string
	Previous  entitlement.State
	State     entitlement.State
	Stale     bool
}

// Reconciler resolves the target account of a notification and persists its
// new entitlement state.
type Reconciler struct {
	accounts AccountStore
	resolver CustomerResolver
	timeout  time.Duration
}

// New creates a reconciler. resolver may be nil, in which case accounts are
// only resolved from local data.
func New(accounts AccountStore, resolver CustomerResolver, timeout time.Duration) *Reconciler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Reconciler{accounts: accounts, resolver: resolver, timeout: timeout}
}

// CheckoutCompleted activates the account named by the checkout session and
// links its provider references. The session must carry an account reference.
func (r *Reconciler) CheckoutCompleted(ctx context.Context, ev notification.Event, p notification.CheckoutCompleted) (Change, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if p.AccountRef == "" {
		return Change{}, &UnresolvedAccountError{
			Kind:        ev.Kind,
			CustomerRef: p.CustomerRef,
			Reason:      "checkout session carries no account reference",
		}
	}
	acct, err := r.accounts.Get(ctx, p.AccountRef)
	if err != nil {
		return Change{}, fmt.Errorf("load account %s: %w", p.AccountRef, err)
	}
	if acct == nil {
		return Change{}, &UnresolvedAccountError{
			Kind:        ev.Kind,
			AccountRef:  p.AccountRef,
			CustomerRef: p.CustomerRef,
			Reason:      "no account with this id",
		}
	}

	return r.apply(ctx, ev, acct, func(a *store.Account) {
		a.EntitlementState = entitlement.StateActive
		if p.CustomerRef != "" {
			a.PaymentCustomerRef = p.CustomerRef
		}
		if p.SubscriptionRef != "" {
			a.PaymentSubscriptionRef = p.SubscriptionRef
		}
		if a.Email == "" && p.CustomerEmail != "" {
			a.Email = strings.ToLower(p.CustomerEmail)
		}
	})
}

// SubscriptionChanged maps the provider's current subscription status onto
// the account.
func (r *Reconciler) SubscriptionChanged(ctx context.Context, ev notification.Event, p notification.SubscriptionChanged) (Change, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	acct, err := r.resolve(ctx, ev.Kind, p.AccountRef, p.CustomerRef)
	if err != nil {
		return Change{}, err
	}
	return r.apply(ctx, ev, acct, func(a *store.Account) {
		a.EntitlementState = entitlement.MapProviderStatus(p.Status)
		a.PaymentSubscriptionRef = p.SubscriptionRef
		if p.CustomerRef != "" {
			a.PaymentCustomerRef = p.CustomerRef
		}
		a.SubscriptionEndsAt = cloneTime(p.PeriodEnd)
	})
}

// SubscriptionDeleted cancels the account's entitlement.
func (r *Reconciler) SubscriptionDeleted(ctx context.Context, ev notification.Event, p notification.SubscriptionDeleted) (Change, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	acct, err := r.resolve(ctx, ev.Kind, p.AccountRef, p.CustomerRef)
	if err != nil {
		return Change{}, err
	}
	return r.apply(ctx, ev, acct, func(a *store.Account) {
		a.EntitlementState = entitlement.StateCancelled
		if p.CustomerRef != "" {
			a.PaymentCustomerRef = p.CustomerRef
		}
	})
}

// PaymentSucceeded activates the account and records the payment. Invoices
// carry no account reference; resolution is by customer only.
func (r *Reconciler) PaymentSucceeded(ctx context.Context, ev notification.Event, p notification.PaymentSucceeded) (Change, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	acct, err := r.resolve(ctx, ev.Kind, "", p.CustomerRef)
	if err != nil {
		return Change{}, err
	}
	paidAt := p.PaidAt
	return r.apply(ctx, ev, acct, func(a *store.Account) {
		a.EntitlementState = entitlement.StateActive
		a.LastPaymentAt = &paidAt
		a.LastPaymentAmount = p.AmountPaid
		a.LastPaymentCurrency = p.Currency
		if p.SubscriptionRef != "" {
			a.PaymentSubscriptionRef = p.SubscriptionRef
		}
	})
}

// PaymentFailed expires the account regardless of its prior state.
func (r *Reconciler) PaymentFailed(ctx context.Context, ev notification.Event, p notification.PaymentFailed) (Change, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	acct, err := r.resolve(ctx, ev.Kind, "", p.CustomerRef)
	if err != nil {
		return Change{}, err
	}
	failedAt := p.FailedAt
	return r.apply(ctx, ev, acct, func(a *store.Account) {
		a.EntitlementState = entitlement.StateExpired
		a.PaymentFailedAt = &failedAt
	})
}

// resolve finds the target account: the embedded account reference first,
// then the stored customer link, then the provider's customer metadata.
func (r *Reconciler) resolve(ctx context.Context, kind notification.Kind, accountRef, customerRef string) (*store.Account, error) {
	if accountRef != "" {
		acct, err := r.accounts.Get(ctx, accountRef)
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", accountRef, err)
		}
		if acct != nil {
			return acct, nil
		}
	}

	if customerRef != "" {
		acct, err := r.accounts.GetByCustomerRef(ctx, customerRef)
		if err != nil {
			return nil, fmt.Errorf("lookup account by customer %s: %w", customerRef, err)
		}
		if acct != nil {
			return acct, nil
		}

		if r.resolver != nil {
			ref, err := r.resolver.CustomerAccountRef(ctx, customerRef)
			if err != nil {
				return nil, fmt.Errorf("resolve provider customer %s: %w", customerRef, err)
			}
			if ref != "" && ref != accountRef {
				acct, err := r.accounts.Get(ctx, ref)
				if err != nil {
					return nil, fmt.Errorf("load account %s: %w", ref, err)
				}
				if acct != nil {
					return acct, nil
				}
			}
		}
	}

	reason := "no account matches the notification references"
	if accountRef == "" && customerRef == "" {
		reason = "notification carries no account or customer reference"
	}
	return nil, &UnresolvedAccountError{
		Kind:        kind,
		AccountRef:  accountRef,
		CustomerRef: customerRef,
		Reason:      reason,
	}
}

// apply mutates a copy of acct and saves it. Stale notifications are applied
// as they arrive but flagged.
func (r *Reconciler) apply(ctx context.Context, ev notification.Event, acct *store.Account, mutate func(*store.Account)) (Change, error) {
	change := Change{AccountID: acct.ID, Previous: acct.EntitlementState}

	if acct.EntitlementUpdatedAt != nil && ev.Created.Before(*acct.EntitlementUpdatedAt) {
		change.Stale = true
		metrics.StaleNotificationsTotal.WithLabelValues(string(ev.Kind)).Inc()
		log.Warn().
			Str("account_id", acct.ID).
			Str("event_id", ev.ID).
			Str("kind", string(ev.Kind)).
			Time("event_created", ev.Created).
			Time("entitlement_updated_at", *acct.EntitlementUpdatedAt).
			Msg("Applying notification older than the stored entitlement")
	}

	next := acct.Clone()
	mutate(next)
	created := ev.Created
	next.EntitlementUpdatedAt = &created
	next.LastEventID = ev.ID
	change.State = next.EntitlementState

	if err := r.accounts.Save(ctx, next); err != nil {
		return change, &StoreWriteError{AccountID: acct.ID, Err: err}
	}

	log.Info().
		Str("account_id", acct.ID).
		Str("event_id", ev.ID).
		Str("kind", string(ev.Kind)).
		Str("from", string(change.Previous)).
		Str("to", string(change.State)).
		Msg("Entitlement reconciled")
	return change, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
