package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/bookline/internal/auditlog"
	"github.com/rcourtman/bookline/internal/logging"
	"github.com/rcourtman/bookline/internal/metrics"
	"github.com/rcourtman/bookline/internal/notification"
	"github.com/rcourtman/bookline/internal/reconcile"
)

// RawRequest is a notification as received, independent of transport.
// Body must be the exact bytes the provider signed.
type RawRequest struct {
	Body      []byte
	Signature string
	SourceIP  string
	ActorID   string
	Path      string

	// Tolerance overrides the maximum signature age; zero keeps the
	// provider default.
	Tolerance time.Duration
}

// Response is what the transport adapter sends back to the provider.
type Response struct {
	Status int
	Kind   string
	Body   any
}

type errorResponse struct {
	Error string `json:"error"`
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// Processor runs one notification through verification, routing,
// reconciliation and audit. Every call records exactly one audit entry.
type Processor struct {
	verifier *notification.Verifier
	router   *Router
	recorder *auditlog.Recorder
}

// NewProcessor wires a processor.
func NewProcessor(verifier *notification.Verifier, router *Router, recorder *auditlog.Recorder) *Processor {
	if recorder == nil {
		recorder = auditlog.NewRecorder(nil, 0)
	}
	return &Processor{verifier: verifier, router: router, recorder: recorder}
}

// Process handles req and returns the response to acknowledge or reject it.
func (p *Processor) Process(ctx context.Context, req RawRequest) Response {
	if !p.verifier.Configured() {
		p.reject(ctx, req, auditlog.SeverityError, notification.ErrSecretNotConfigured)
		return Response{
			Status: http.StatusServiceUnavailable,
			Kind:   auditlog.KindVerificationFailed,
			Body:   errorResponse{Error: "webhook secret not configured"},
		}
	}

	ev, err := p.verifier.VerifyWithTolerance(req.Body, req.Signature, req.Tolerance)
	if err != nil {
		p.reject(ctx, req, auditlog.SeverityWarning, err)
		msg := "invalid signature"
		var verr *notification.VerificationError
		if errors.As(err, &verr) {
			msg = verr.Reason
		}
		return Response{
			Status: http.StatusBadRequest,
			Kind:   auditlog.KindVerificationFailed,
			Body:   errorResponse{Error: msg},
		}
	}

	entry := auditlog.Entry{
		Kind:         string(ev.Kind),
		EventID:      ev.ID,
		ProviderType: ev.ProviderType,
		ActorID:      req.ActorID,
		SourceIP:     req.SourceIP,
		Path:         req.Path,
	}

	result, err := p.router.Dispatch(ctx, ev)
	entry.AccountID = result.Change.AccountID

	var unresolved *reconcile.UnresolvedAccountError
	switch {
	case err == nil:
		entry.Severity = auditlog.SeverityInfo
		entry.Outcome = result.Outcome
		if result.Outcome == auditlog.OutcomeUnhandled {
			entry.Message = "unhandled notification kind " + ev.ProviderType
			logging.FromContext(ctx).Info().
				Str("type", ev.ProviderType).
				Str("event_id", ev.ID).
				Msg("Notification ignored (unhandled type)")
		} else {
			entry.Message = string(result.Change.Previous) + " -> " + string(result.Change.State)
			if result.Change.Stale {
				entry.Severity = auditlog.SeverityWarning
				entry.Message += " (stale notification applied)"
			}
		}

	case errors.As(err, &unresolved):
		entry.Severity = auditlog.SeverityWarning
		entry.Outcome = auditlog.OutcomeUnresolvedAccount
		entry.AccountID = unresolved.AccountRef
		entry.Message = unresolved.Reason
		entry.Error = err.Error()
		logging.FromContext(ctx).Warn().Err(err).
			Str("event_id", ev.ID).
			Str("kind", string(ev.Kind)).
			Msg("Notification acknowledged without a resolvable account")

	default:
		entry.Severity = auditlog.SeverityError
		entry.Outcome = auditlog.OutcomeReconciliationFailed
		entry.Error = err.Error()
		logging.FromContext(ctx).Error().Err(err).
			Str("event_id", ev.ID).
			Str("type", ev.ProviderType).
			Msg("Notification processing failed")
	}

	p.recorder.Record(ctx, entry)
	metrics.ReconciliationsTotal.WithLabelValues(entry.Kind, string(entry.Outcome)).Inc()

	if entry.Outcome == auditlog.OutcomeReconciliationFailed {
		return Response{
			Status: http.StatusInternalServerError,
			Kind:   entry.Kind,
			Body:   errorResponse{Error: "processing failed"},
		}
	}
	return Response{Status: http.StatusOK, Kind: entry.Kind, Body: receivedResponse{Received: true}}
}

// Reject records a delivery that never reached verification, such as an
// unreadable body, and returns a client error.
func (p *Processor) Reject(ctx context.Context, req RawRequest, cause error) Response {
	p.reject(ctx, req, auditlog.SeverityWarning, cause)
	return Response{
		Status: http.StatusBadRequest,
		Kind:   auditlog.KindVerificationFailed,
		Body:   errorResponse{Error: "failed to read request body"},
	}
}

// RateLimited records a delivery refused by the sender's rate limit and
// returns 429. The body is never read, so the entry carries only request
// metadata.
func (p *Processor) RateLimited(ctx context.Context, req RawRequest) Response {
	log.Warn().
		Str("source_ip", req.SourceIP).
		Str("path", req.Path).
		Msg("Rate limited payment notification")

	p.recorder.Record(ctx, auditlog.Entry{
		Kind:     auditlog.KindRateLimited,
		Severity: auditlog.SeverityWarning,
		Outcome:  auditlog.OutcomeRateLimited,
		ActorID:  req.ActorID,
		SourceIP: req.SourceIP,
		Path:     req.Path,
		Message:  "delivery refused by rate limit",
	})
	metrics.ReconciliationsTotal.WithLabelValues(auditlog.KindRateLimited, string(auditlog.OutcomeRateLimited)).Inc()
	return Response{
		Status: http.StatusTooManyRequests,
		Kind:   auditlog.KindRateLimited,
		Body:   errorResponse{Error: "rate limited"},
	}
}

func (p *Processor) reject(ctx context.Context, req RawRequest, severity auditlog.Severity, cause error) {
	log.Warn().Err(cause).
		Str("source_ip", req.SourceIP).
		Str("path", req.Path).
		Msg("Rejected payment notification")

	p.recorder.Record(ctx, auditlog.Entry{
		Kind:     auditlog.KindVerificationFailed,
		Severity: severity,
		Outcome:  auditlog.OutcomeVerificationFailed,
		ActorID:  req.ActorID,
		SourceIP: req.SourceIP,
		Path:     req.Path,
		Error:    cause.Error(),
	})
	metrics.ReconciliationsTotal.WithLabelValues(auditlog.KindVerificationFailed, string(auditlog.OutcomeVerificationFailed)).Inc()
}
