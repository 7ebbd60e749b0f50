// Package webhook turns raw payment notifications into reconciled account
// state. Processor is runtime independent; HTTPHandler and the replay
// command are thin adapters over it.
package webhook

import (
	"context"
	"fmt"

	"github.com/rcourtman/bookline/internal/auditlog"
	"github.com/rcourtman/bookline/internal/notification"
	"github.com/rcourtman/bookline/internal/reconcile"
)

// Reconciler applies one notification kind to account state.
type Reconciler interface {
	CheckoutCompleted(ctx context.Context, ev notification.Event, p notification.CheckoutCompleted) (reconcile.Change, error)
	SubscriptionChanged(ctx context.Context, ev notification.Event, p notification.SubscriptionChanged) (reconcile.Change, error)
	SubscriptionDeleted(ctx context.Context, ev notification.Event, p notification.SubscriptionDeleted) (reconcile.Change, error)
	PaymentSucceeded(ctx context.Context, ev notification.Event, p notification.PaymentSucceeded) (reconcile.Change, error)
	PaymentFailed(ctx context.Context, ev notification.Event, p notification.PaymentFailed) (reconcile.Change, error)
}

// Result is the outcome of a successful dispatch.
type Result struct {
	Outcome auditlog.Outcome
	Change  reconcile.Change
}

// Router dispatches a verified event to exactly one handler.
type Router struct {
	reconciler Reconciler
}

// NewRouter creates a router over reconciler.
func NewRouter(reconciler Reconciler) *Router {
	return &Router{reconciler: reconciler}
}

// Dispatch runs the handler for ev.Kind synchronously. Unrecognized kinds are
// not errors; they yield an unhandled result.
func (r *Router) Dispatch(ctx context.Context, ev notification.Event) (Result, error) {
	var (
		change reconcile.Change
		err    error
	)

	switch p := ev.Payload.(type) {
	case notification.CheckoutCompleted:
		change, err = r.reconciler.CheckoutCompleted(ctx, ev, p)
	case notification.SubscriptionChanged:
		change, err = r.reconciler.SubscriptionChanged(ctx, ev, p)
	case notification.SubscriptionDeleted:
		change, err = r.reconciler.SubscriptionDeleted(ctx, ev, p)
	case notification.PaymentSucceeded:
		change, err = r.reconciler.PaymentSucceeded(ctx, ev, p)
	case notification.PaymentFailed:
		change, err = r.reconciler.PaymentFailed(ctx, ev, p)
	case notification.Unrecognized, nil:
		if ev.Kind != notification.KindUnrecognized {
			return Result{}, fmt.Errorf("event %s: kind %s has no payload", ev.ID, ev.Kind)
		}
		return Result{Outcome: auditlog.OutcomeUnhandled}, nil
	default:
		return Result{}, fmt.Errorf("event %s: unsupported payload %T", ev.ID, ev.Payload)
	}

	if err != nil {
		return Result{Change: change}, err
	}
	return Result{Outcome: auditlog.OutcomeReconciled, Change: change}, nil
}
