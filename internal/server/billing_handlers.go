package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rcourtman/bookline/internal/billing"
	"github.com/rcourtman/bookline/internal/email"
	"github.com/rcourtman/bookline/internal/logging"
	"github.com/rcourtman/bookline/internal/store"
)

const requestBodyLimit = 1024 * 1024 // 1 MiB

type accountGetter interface {
	Get(ctx context.Context, id string) (*store.Account, error)
}

type accountSessionRequest struct {
	AccountID string `json:"account_id"`
}

type sessionURLResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type sessionCreator func(ctx context.Context, acct *store.Account) (string, error)

// handleCreateCheckout starts a subscription checkout for an account.
func handleCreateCheckout(accounts accountGetter, client *billing.Client) http.HandlerFunc {
	return handleAccountSession(accounts, client.CreateCheckoutSession, "checkout")
}

// handleCreatePortal opens the provider's billing portal for an account.
func handleCreatePortal(accounts accountGetter, client *billing.Client) http.HandlerFunc {
	return handleAccountSession(accounts, client.CreatePortalSession, "portal")
}

func handleAccountSession(accounts accountGetter, create sessionCreator, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
		var req accountSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		req.AccountID = strings.TrimSpace(req.AccountID)
		if req.AccountID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "account_id is required"})
			return
		}

		acct, err := accounts.Get(r.Context(), req.AccountID)
		if err != nil {
			logger.Error().Err(err).Str("account_id", req.AccountID).Msg("Load account failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if acct == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "account not found"})
			return
		}

		url, err := create(r.Context(), acct)
		switch {
		case errors.Is(err, billing.ErrNotConfigured):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "billing not configured"})
			return
		case errors.Is(err, billing.ErrNoCustomer):
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		case err != nil:
			logger.Error().Err(err).
				Str("account_id", acct.ID).
				Str("session", kind).
				Msg("Create billing session failed")
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "payment provider error"})
			return
		}

		logger.Info().Str("account_id", acct.ID).Str("session", kind).Msg("Billing session created")
		writeJSON(w, http.StatusOK, sessionURLResponse{URL: url})
	}
}

type queuedResponse struct {
	Status string `json:"status"`
}

// handleBookingConfirmation queues a booking confirmation email.
func handleBookingConfirmation(dispatcher *email.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
		var b email.BookingConfirmation
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}

		err := dispatcher.SendBookingConfirmation(b)
		var verrs validator.ValidationErrors
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, queuedResponse{Status: "queued"})
		case errors.Is(err, email.ErrNotConfigured):
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "email not configured"})
		case errors.As(err, &verrs):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		default:
			logging.FromContext(r.Context()).Error().Err(err).Msg("Render booking confirmation failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
