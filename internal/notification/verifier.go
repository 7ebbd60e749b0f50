package notification

import (
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// Verifier authenticates raw notification bodies against the shared
// webhook secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier returns a verifier for secret using the provider's default
// timestamp tolerance.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret), tolerance: webhook.DefaultTolerance}
}

// Configured reports whether a secret is set.
func (v *Verifier) Configured() bool {
	return v != nil && v.secret != ""
}

// Verify checks signatureHeader against the exact payload bytes and decodes
// the event. payload must not have been re-serialized.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (Event, error) {
	return v.VerifyWithTolerance(payload, signatureHeader, 0)
}

// VerifyWithTolerance is Verify with a custom maximum signature age. A
// non-positive tolerance uses the verifier's default.
func (v *Verifier) VerifyWithTolerance(payload []byte, signatureHeader string, tolerance time.Duration) (Event, error) {
	if !v.Configured() {
		return Event{}, ErrSecretNotConfigured
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return Event{}, &VerificationError{Reason: "missing signature"}
	}

	if tolerance <= 0 {
		tolerance = v.tolerance
	}
	providerEvent, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, &VerificationError{Reason: "invalid signature", Err: err}
	}

	ev := Event{
		ID:           providerEvent.ID,
		ProviderType: string(providerEvent.Type),
		Kind:         KindFor(string(providerEvent.Type)),
		Created:      time.Unix(providerEvent.Created, 0).UTC(),
	}
	if providerEvent.Data == nil {
		if ev.Kind != KindUnrecognized {
			return Event{}, &VerificationError{Reason: "malformed payload"}
		}
		ev.Payload = Unrecognized{}
		return ev, nil
	}

	p, err := decodePayload(ev.Kind, providerEvent.Data.Raw, ev.Created)
	if err != nil {
		return Event{}, &VerificationError{Reason: "malformed payload", Err: err}
	}
	ev.Payload = p
	return ev, nil
}
