package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcourtman/bookline/internal/server/admin"
	"github.com/rcourtman/bookline/internal/webhook"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config         *Config
	Components     *Components
	WebhookLimiter *RateLimiter // created from Config when nil
	Version        string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	c := deps.Components
	adminAuth := func(next http.Handler) http.Handler {
		return admin.AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("GET /healthz", admin.HandleHealthz)
	mux.HandleFunc("GET /readyz", admin.HandleReadyz(c.Accounts))

	mux.Handle("GET /metrics", adminAuth(promhttp.Handler()))
	mux.Handle("GET /admin/status", adminAuth(admin.HandleStatus(c.Accounts, deps.Version, c.Verifier.Configured())))

	// Stripe webhook (signature-authenticated). The handler answers
	// non-POST methods itself so they are counted.
	limiter := deps.WebhookLimiter
	if limiter == nil {
		limiter = NewRateLimiter(deps.Config.WebhookRateLimit, time.Minute)
	}
	mux.Handle("/api/stripe/webhook", webhook.NewHTTPHandler(c.Webhooks, limiter))

	// Billing sessions are requested by the trusted frontend backend.
	mux.Handle("POST /api/billing/checkout", adminAuth(handleCreateCheckout(c.Accounts, c.Billing)))
	mux.Handle("POST /api/billing/portal", adminAuth(handleCreatePortal(c.Accounts, c.Billing)))

	mux.Handle("POST /api/notifications/booking-confirmation", adminAuth(handleBookingConfirmation(c.Email)))

	// Admin API (key-authenticated)
	mux.Handle("GET /admin/accounts", adminAuth(admin.HandleListAccounts(c.Accounts)))
	mux.Handle("GET /admin/accounts/{account_id}", adminAuth(admin.HandleGetAccount(c.Accounts)))
	mux.Handle("GET /admin/accounts/{account_id}/subscription", adminAuth(admin.HandleGetSubscription(c.Accounts, c.Billing)))
	mux.Handle("GET /admin/audit", adminAuth(admin.HandleListAudit(c.Audit)))
}
