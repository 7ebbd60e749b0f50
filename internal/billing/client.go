// Package billing talks to the payment provider on behalf of accounts:
// customers, checkout sessions, billing portal sessions and subscription
// lookups.
package billing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"

	"github.com/rcourtman/bookline/internal/store"
)

// ErrNotConfigured is returned when the provider secret key (or, for
// checkout, the price) is missing.
var ErrNotConfigured = errors.New("payment provider not configured")

// ErrNoCustomer is returned when a portal session is requested for an
// account that was never linked to a provider customer.
var ErrNoCustomer = errors.New("account has no payment customer")

// Config configures the provider client.
type Config struct {
	SecretKey   string
	PriceID     string
	FrontendURL string
}

// AccountSaver persists the customer link created by EnsureCustomer.
type AccountSaver interface {
	Save(ctx context.Context, a *store.Account) error
}

// Subscription is the provider's current view of a subscription.
type Subscription struct {
	ID          string
	CustomerRef string
	Status      string
	PeriodEnd   *time.Time
}

// Client wraps an explicitly constructed stripe client.
type Client struct {
	cfg      Config
	accounts AccountSaver

	findCustomerByEmail func(ctx context.Context, email string) (*stripe.Customer, error)
	createCustomer      func(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error)
	retrieveCustomer    func(ctx context.Context, id string) (*stripe.Customer, error)
	retrieveSub         func(ctx context.Context, id string) (*stripe.Subscription, error)
	createCheckout      func(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	createPortal        func(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error)
}

// NewClient builds a provider client. Without a secret key every call fails
// with ErrNotConfigured.
func NewClient(cfg Config, accounts AccountSaver) *Client {
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.PriceID = strings.TrimSpace(cfg.PriceID)
	cfg.FrontendURL = strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/")
	c := &Client{cfg: cfg, accounts: accounts}
	if cfg.SecretKey == "" {
		return c
	}

	sc := stripe.NewClient(cfg.SecretKey)
	c.findCustomerByEmail = func(ctx context.Context, email string) (*stripe.Customer, error) {
		for cust, err := range sc.V1Customers.List(ctx, &stripe.CustomerListParams{Email: stripe.String(email)}) {
			if err != nil {
				return nil, err
			}
			if cust != nil && !cust.Deleted {
				return cust, nil
			}
		}
		return nil, nil
	}
	c.createCustomer = func(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
		return sc.V1Customers.Create(ctx, params)
	}
	c.retrieveCustomer = func(ctx context.Context, id string) (*stripe.Customer, error) {
		return sc.V1Customers.Retrieve(ctx, id, nil)
	}
	c.retrieveSub = func(ctx context.Context, id string) (*stripe.Subscription, error) {
		return sc.V1Subscriptions.Retrieve(ctx, id, nil)
	}
	c.createCheckout = func(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
		return sc.V1CheckoutSessions.Create(ctx, params)
	}
	c.createPortal = func(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
		return sc.V1BillingPortalSessions.Create(ctx, params)
	}
	return c
}

// Configured reports whether a secret key is set.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.SecretKey != ""
}

// EnsureCustomer returns the account's provider customer, reusing the stored
// link, then a customer with the same email, and creating one otherwise. A
// new link is saved onto the account.
func (c *Client) EnsureCustomer(ctx context.Context, acct *store.Account) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if acct == nil {
		return "", fmt.Errorf("account is nil")
	}
	if ref := strings.TrimSpace(acct.PaymentCustomerRef); ref != "" {
		return ref, nil
	}

	var customerID string
	if email := strings.TrimSpace(acct.Email); email != "" {
		existing, err := c.findCustomerByEmail(ctx, email)
		if err != nil {
			return "", fmt.Errorf("search customers: %w", err)
		}
		if existing != nil {
			customerID = existing.ID
		}
	}

	if customerID == "" {
		params := &stripe.CustomerCreateParams{
			Metadata: map[string]string{"account_id": acct.ID},
		}
		if acct.Email != "" {
			params.Email = stripe.String(acct.Email)
		}
		if acct.DisplayName != "" {
			params.Name = stripe.String(acct.DisplayName)
		}
		created, err := c.createCustomer(ctx, params)
		if err != nil {
			return "", fmt.Errorf("create customer: %w", err)
		}
		if created == nil || created.ID == "" {
			return "", fmt.Errorf("create customer: empty response")
		}
		customerID = created.ID
		log.Info().
			Str("account_id", acct.ID).
			Str("customer_id", customerID).
			Msg("Created payment customer")
	}

	acct.PaymentCustomerRef = customerID
	if c.accounts != nil {
		if err := c.accounts.Save(ctx, acct); err != nil {
			return "", fmt.Errorf("link customer to account: %w", err)
		}
	}
	return customerID, nil
}

// CustomerAccountRef returns the account id recorded on a provider customer.
func (c *Client) CustomerAccountRef(ctx context.Context, customerRef string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	cust, err := c.retrieveCustomer(ctx, customerRef)
	if err != nil {
		return "", fmt.Errorf("retrieve customer %s: %w", customerRef, err)
	}
	if cust == nil || cust.Deleted {
		return "", nil
	}
	return strings.TrimSpace(cust.Metadata["account_id"]), nil
}

// RetrieveSubscription returns the provider's current subscription state.
func (c *Client) RetrieveSubscription(ctx context.Context, ref string) (Subscription, error) {
	if !c.Configured() {
		return Subscription{}, ErrNotConfigured
	}
	sub, err := c.retrieveSub(ctx, ref)
	if err != nil {
		return Subscription{}, fmt.Errorf("retrieve subscription %s: %w", ref, err)
	}
	if sub == nil {
		return Subscription{}, fmt.Errorf("retrieve subscription %s: empty response", ref)
	}

	out := Subscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}
	if sub.Items != nil {
		var end int64
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > end {
				end = item.CurrentPeriodEnd
			}
		}
		if end > 0 {
			t := time.Unix(end, 0).UTC()
			out.PeriodEnd = &t
		}
	}
	return out, nil
}

// CreateCheckoutSession starts a subscription checkout for acct and returns
// the hosted checkout URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, acct *store.Account) (string, error) {
	if !c.Configured() || c.cfg.PriceID == "" {
		return "", ErrNotConfigured
	}
	customerID, err := c.EnsureCustomer(ctx, acct)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(acct.ID),
		SuccessURL:        stripe.String(c.frontendURL("/billing/success", url.Values{"session_id": {"{CHECKOUT_SESSION_ID}"}})),
		CancelURL:         stripe.String(c.frontendURL("/billing/cancelled", nil)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(c.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: map[string]string{"account_id": acct.ID},
		},
		Metadata: map[string]string{"account_id": acct.ID},
	}

	session, err := c.createCheckout(ctx, params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", fmt.Errorf("create checkout session: no redirect url")
	}
	return session.URL, nil
}

// CreatePortalSession returns a billing portal URL for an account that
// already has a provider customer.
func (c *Client) CreatePortalSession(ctx context.Context, acct *store.Account) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if acct == nil || strings.TrimSpace(acct.PaymentCustomerRef) == "" {
		return "", ErrNoCustomer
	}

	session, err := c.createPortal(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(acct.PaymentCustomerRef),
		ReturnURL: stripe.String(c.frontendURL("/billing", nil)),
	})
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", fmt.Errorf("create portal session: no redirect url")
	}
	return session.URL, nil
}

// frontendURL joins path onto the frontend base URL. The checkout session
// placeholder is left unescaped so the provider can substitute it.
func (c *Client) frontendURL(path string, query url.Values) string {
	u := c.cfg.FrontendURL + path
	if len(query) > 0 {
		u += "?" + strings.ReplaceAll(query.Encode(), "%7BCHECKOUT_SESSION_ID%7D", "{CHECKOUT_SESSION_ID}")
	}
	return u
}
