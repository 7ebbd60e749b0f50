package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/bookline/internal/auditlog"
	"github.com/rcourtman/bookline/internal/metrics"
)

const (
	bodyLimit       = 1024 * 1024 // 1 MiB
	signatureHeader = "Stripe-Signature"
)

// Limiter decides whether a sender may deliver another notification now.
type Limiter interface {
	Allow(key string) bool
}

// HTTPHandler adapts Processor to net/http. The body is read as raw bytes
// and never decoded before verification.
type HTTPHandler struct {
	processor *Processor
	limiter   Limiter
}

// NewHTTPHandler creates the provider-facing webhook endpoint. limiter may
// be nil. It is keyed on the connection's remote address; refused
// deliveries are still audited.
func NewHTTPHandler(processor *Processor, limiter Limiter) *HTTPHandler {
	return &HTTPHandler{processor: processor, limiter: limiter}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	kind := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, status, errorResponse{Error: "method not allowed"})
		return
	}

	meta := auditlog.MetaFromRequest(r)
	req := RawRequest{
		Signature: r.Header.Get(signatureHeader),
		SourceIP:  meta.SourceIP,
		ActorID:   meta.ActorID,
		Path:      meta.Path,
	}

	if h.limiter != nil && !h.limiter.Allow(auditlog.RemoteIP(r)) {
		resp := h.processor.RateLimited(r.Context(), req)
		kind = resp.Kind
		status = resp.Status
		w.Header().Set("Retry-After", "60")
		writeJSON(w, status, resp.Body)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	body, err := io.ReadAll(r.Body)
	var resp Response
	if err != nil {
		resp = h.processor.Reject(r.Context(), req, err)
	} else {
		req.Body = body
		resp = h.processor.Process(r.Context(), req)
	}

	kind = resp.Kind
	status = resp.Status
	writeJSON(w, status, resp.Body)
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("webhook: encode response")
	}
}
