// Package notification authenticates payment provider notifications and
// decodes them into one typed payload per notification kind.
package notification

import "time"

// Kind is the closed set of notification kinds the pipeline understands.
type Kind string

const (
	KindCheckoutCompleted   Kind = "checkout_completed"
	KindSubscriptionCreated Kind = "subscription_created"
	KindSubscriptionUpdated Kind = "subscription_updated"
	KindSubscriptionDeleted Kind = "subscription_deleted"
	KindPaymentSucceeded    Kind = "payment_succeeded"
	KindPaymentFailed       Kind = "payment_failed"
	KindUnrecognized        Kind = "unrecognized"
)

var providerKinds = map[string]Kind{
	"checkout.session.completed":    KindCheckoutCompleted,
	"customer.subscription.created": KindSubscriptionCreated,
	"customer.subscription.updated": KindSubscriptionUpdated,
	"customer.subscription.deleted": KindSubscriptionDeleted,
	"invoice.payment_succeeded":     KindPaymentSucceeded,
	"invoice.paid":                  KindPaymentSucceeded,
	"invoice.payment_failed":        KindPaymentFailed,
}

// KindFor maps a provider event type to a notification kind.
func KindFor(providerType string) Kind {
	if k, ok := providerKinds[providerType]; ok {
		return k
	}
	return KindUnrecognized
}

// Event is a verified notification. Payload's concrete type is fixed by Kind.
type Event struct {
	ID           string
	ProviderType string
	Kind         Kind
	Created      time.Time
	Payload      Payload
}

// Payload is implemented by the per-kind payload types below.
type Payload interface {
	payload()
}

// CheckoutCompleted is a finished checkout session.
type CheckoutCompleted struct {
	SessionID       string
	AccountRef      string
	CustomerRef     string
	SubscriptionRef string
	CustomerEmail   string
}

// SubscriptionChanged covers subscription creation and updates.
type SubscriptionChanged struct {
	SubscriptionRef string
	CustomerRef     string
	AccountRef      string
	Status          string
	PeriodEnd       *time.Time
}

// SubscriptionDeleted is a subscription that has ended.
type SubscriptionDeleted struct {
	SubscriptionRef string
	CustomerRef     string
	AccountRef      string
}

// PaymentSucceeded is a paid invoice. Amounts are in the currency's minor unit.
type PaymentSucceeded struct {
	InvoiceRef      string
	CustomerRef     string
	SubscriptionRef string
	AmountPaid      int64
	Currency        string
	PaidAt          time.Time
}

// PaymentFailed is a failed invoice payment attempt.
type PaymentFailed struct {
	InvoiceRef      string
	CustomerRef     string
	SubscriptionRef string
	AttemptCount    int64
	FailedAt        time.Time
}

// Unrecognized carries no data; the event is acknowledged and dropped.
type Unrecognized struct{}

func (CheckoutCompleted) payload()   {}
func (SubscriptionChanged) payload() {}
func (SubscriptionDeleted) payload() {}
func (PaymentSucceeded) payload()    {}
func (PaymentFailed) payload()       {}
func (Unrecognized) payload()        {}
