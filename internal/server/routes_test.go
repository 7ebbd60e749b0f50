package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/rcourtman/bookline/internal/auditlog"
	"github.com/rcourtman/bookline/internal/entitlement"
	"github.com/rcourtman/bookline/internal/store"
)

const (
	testAdminKey      = "test-admin-key"
	testWebhookSecret = "whsec_test"
)

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		DataDir:             t.TempDir(),
		BindAddress:         "127.0.0.1",
		Port:                8080,
		AdminKey:            testAdminKey,
		FrontendURL:         "https://app.bookline.test",
		StripeWebhookSecret: testWebhookSecret,
		EmailFrom:           "bookings@bookline.test",
		StoreTimeout:        5 * time.Second,
		WebhookRateLimit:    120,
	}
}

func newTestMux(t *testing.T, cfg *Config) (*http.ServeMux, *Components) {
	t.Helper()
	comps, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = comps.Email.Wait(context.Background())
		_ = comps.Close()
	})

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{Config: cfg, Components: comps, Version: "test"})
	return mux, comps
}

func serve(mux http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func adminRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Admin-Key", testAdminKey)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRegisterRoutes_AuthBoundaries(t *testing.T) {
	mux, _ := newTestMux(t, newTestConfig(t))

	public := []string{"/healthz", "/readyz"}
	for _, path := range public {
		rec := serve(mux, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	protected := []struct{ method, path string }{
		{http.MethodGet, "/metrics"},
		{http.MethodGet, "/admin/status"},
		{http.MethodGet, "/admin/accounts"},
		{http.MethodGet, "/admin/accounts/acc_1"},
		{http.MethodGet, "/admin/accounts/acc_1/subscription"},
		{http.MethodGet, "/admin/audit"},
		{http.MethodPost, "/api/billing/checkout"},
		{http.MethodPost, "/api/billing/portal"},
		{http.MethodPost, "/api/notifications/booking-confirmation"},
	}
	for _, tc := range protected {
		rec := serve(mux, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}

	rec := serve(mux, adminRequest(http.MethodGet, "/metrics", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bookline_audit_write_failures_total")
}

func TestRegisterRoutes_MethodPatterns(t *testing.T) {
	mux, _ := newTestMux(t, newTestConfig(t))

	rec := serve(mux, adminRequest(http.MethodGet, "/api/billing/checkout", ""))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(mux, adminRequest(http.MethodDelete, "/admin/accounts", ""))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(mux, httptest.NewRequest(http.MethodGet, "/api/stripe/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestRegisterRoutes_WebhookReconcilesAndAudits(t *testing.T) {
	mux, comps := newTestMux(t, newTestConfig(t))
	ctx := context.Background()
	require.NoError(t, comps.Accounts.Create(ctx, &store.Account{ID: "acc_123"}))

	payload := `{"id":"evt_1","object":"event","type":"checkout.session.completed","created":1700000000,
		"data":{"object":{"id":"cs_1","client_reference_id":"acc_123","customer":"cus_1","subscription":"sub_1"}}}`
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)

	rec := serve(mux, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(mux, adminRequest(http.MethodGet, "/admin/accounts/acc_123", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var acct store.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	assert.Equal(t, entitlement.StateActive, acct.EntitlementState)
	assert.Equal(t, "cus_1", acct.PaymentCustomerRef)

	rec = serve(mux, adminRequest(http.MethodGet, "/admin/accounts/acc_123/subscription", ""))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "subscription view needs the provider key")

	rec = serve(mux, adminRequest(http.MethodGet, "/admin/audit?account_id=acc_123", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	var audit struct {
		Entries []auditlog.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &audit))
	require.Len(t, audit.Entries, 1)
	assert.Equal(t, auditlog.OutcomeReconciled, audit.Entries[0].Outcome)
	assert.Equal(t, "evt_1", audit.Entries[0].EventID)
}

func TestRegisterRoutes_WebhookRateLimited(t *testing.T) {
	cfg := newTestConfig(t)
	comps, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = comps.Close() })

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{Config: cfg, Components: comps, WebhookLimiter: NewRateLimiter(1, time.Minute)})

	codes := make([]int, 0, 3)
	for _, xff := range []string{"", "203.0.113.10", "203.0.113.11"} {
		req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader("{}"))
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		codes = append(codes, serve(mux, req).Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes,
		"a forwarding header does not open a fresh bucket")

	entries, err := comps.Audit.Query(context.Background(), auditlog.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3, "every delivery is audited once")
	outcomes := map[auditlog.Outcome]int{}
	for _, e := range entries {
		outcomes[e.Outcome]++
	}
	assert.Equal(t, 1, outcomes[auditlog.OutcomeVerificationFailed])
	assert.Equal(t, 2, outcomes[auditlog.OutcomeRateLimited])
}

func TestBillingSessionHandlers(t *testing.T) {
	mux, comps := newTestMux(t, newTestConfig(t))
	require.NoError(t, comps.Accounts.Create(context.Background(), &store.Account{ID: "acc_123", Email: "owner@example.com"}))

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"invalid json", "/api/billing/checkout", "{", http.StatusBadRequest},
		{"missing account", "/api/billing/checkout", `{"account_id":" "}`, http.StatusBadRequest},
		{"unknown account", "/api/billing/checkout", `{"account_id":"acc_nope"}`, http.StatusNotFound},
		{"checkout without provider key", "/api/billing/checkout", `{"account_id":"acc_123"}`, http.StatusServiceUnavailable},
		{"portal without provider key", "/api/billing/portal", `{"account_id":"acc_123"}`, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(mux, adminRequest(http.MethodPost, tc.path, tc.body))
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

const bookingBody = `{
	"client_name": "Ana",
	"client_email": "ana@example.com",
	"professional_name": "Studio Nine",
	"service_name": "Haircut",
	"starts_at": "2026-11-02T10:30:00Z",
	"duration_minutes": 45
}`

func TestBookingConfirmationHandler(t *testing.T) {
	t.Run("log-only mode queues", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.EmailLogOnly = true
		mux, _ := newTestMux(t, cfg)

		rec := serve(mux, adminRequest(http.MethodPost, "/api/notifications/booking-confirmation", bookingBody))
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"status":"queued"}`, rec.Body.String())

		rec = serve(mux, adminRequest(http.MethodPost, "/api/notifications/booking-confirmation", `{"client_name":"Ana"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = serve(mux, adminRequest(http.MethodPost, "/api/notifications/booking-confirmation", `not json`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no provider fails closed", func(t *testing.T) {
		mux, _ := newTestMux(t, newTestConfig(t))
		rec := serve(mux, adminRequest(http.MethodPost, "/api/notifications/booking-confirmation", bookingBody))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
