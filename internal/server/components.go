package server

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/bookline/internal/auditlog"
	"github.com/rcourtman/bookline/internal/billing"
	"github.com/rcourtman/bookline/internal/email"
	"github.com/rcourtman/bookline/internal/notification"
	"github.com/rcourtman/bookline/internal/reconcile"
	"github.com/rcourtman/bookline/internal/store"
	"github.com/rcourtman/bookline/internal/webhook"
)

// Components is the wired object graph shared by the HTTP server and the CLI.
type Components struct {
	Accounts *store.AccountStore
	Audit    *auditlog.SQLiteLogger
	Recorder *auditlog.Recorder
	Billing  *billing.Client
	Email    *email.Dispatcher
	Webhooks *webhook.Processor
	Verifier *notification.Verifier
}

// Open builds every component from cfg. Callers must Close the result.
func Open(cfg *Config) (*Components, error) {
	accounts, err := store.NewAccountStore(cfg.AccountsDir())
	if err != nil {
		return nil, fmt.Errorf("open account store: %w", err)
	}

	audit, err := auditlog.NewSQLiteLogger(auditlog.SQLiteLoggerConfig{
		DataDir:    cfg.DataDir,
		SigningKey: cfg.AuditSigningKey,
	})
	if err != nil {
		_ = accounts.Close()
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	if len(cfg.AuditSigningKey) == 0 {
		log.Warn().Msg("Audit signing key not set; audit entries will be unsigned")
	}

	billingClient := billing.NewClient(billing.Config{
		SecretKey:   cfg.StripeSecretKey,
		PriceID:     cfg.StripePriceID,
		FrontendURL: cfg.FrontendURL,
	}, accounts)

	// Only consult the provider for customer metadata when it can answer.
	var resolver reconcile.CustomerResolver
	if billingClient.Configured() {
		resolver = billingClient
	} else {
		log.Warn().Msg("Stripe secret key not set; billing sessions disabled and customer lookups are local only")
	}

	verifier := notification.NewVerifier(cfg.StripeWebhookSecret)
	if !verifier.Configured() {
		log.Warn().Msg("Stripe webhook secret not set; webhook deliveries will be rejected")
	}

	recorder := auditlog.NewRecorder(audit, 0)
	router := webhook.NewRouter(reconcile.New(accounts, resolver, cfg.StoreTimeout))

	return &Components{
		Accounts: accounts,
		Audit:    audit,
		Recorder: recorder,
		Billing:  billingClient,
		Email:    email.NewDispatcher(newEmailSender(cfg), cfg.EmailFrom, 0),
		Webhooks: webhook.NewProcessor(verifier, router, recorder),
		Verifier: verifier,
	}, nil
}

// Close releases the databases.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	return errors.Join(c.Audit.Close(), c.Accounts.Close())
}

func newEmailSender(cfg *Config) email.Sender {
	switch {
	case cfg.EmailLogOnly:
		log.Info().Msg("Email sender: log-only (BOOKLINE_EMAIL_LOG_ONLY is set)")
		return email.NewLogSender(func(to, subject, body string) {
			const maxBody = 4096
			bodyForLog := body
			if len(bodyForLog) > maxBody {
				bodyForLog = bodyForLog[:maxBody] + "...(truncated)"
			}
			log.Info().
				Str("to", to).
				Str("subject", subject).
				Str("body", bodyForLog).
				Msg("Email (log-only mode)")
		})
	case cfg.ResendAPIKey != "":
		log.Info().Msg("Email sender configured (Resend)")
		return email.NewResendSender(cfg.ResendAPIKey)
	default:
		log.Warn().Msg("Email sender not configured; set RESEND_API_KEY or BOOKLINE_EMAIL_LOG_ONLY")
		return nil
	}
}
