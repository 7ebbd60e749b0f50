package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// expandableID accepts either a bare id or an expanded object with an id.
type expandableID string

func (x *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*x = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*x = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*x = expandableID(obj.ID)
	return nil
}

func (x expandableID) String() string { return strings.TrimSpace(string(x)) }

type checkoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	CustomerEmail     string            `json:"customer_email"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type subscription struct {
	ID               string            `json:"id"`
	Customer         expandableID      `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type invoice struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	AmountPaid   int64        `json:"amount_paid"`
	Currency     string       `json:"currency"`
	AttemptCount int64        `json:"attempt_count"`
	Created      int64        `json:"created"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

// decodePayload builds the typed payload for kind from the event's data
// object. created is the event creation time, used when the object itself
// carries no timestamp.
func decodePayload(kind Kind, raw json.RawMessage, created time.Time) (Payload, error) {
	switch kind {
	case KindCheckoutCompleted:
		var s checkoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		if strings.TrimSpace(s.ID) == "" {
			return nil, fmt.Errorf("checkout session id is missing")
		}
		email := strings.TrimSpace(s.CustomerEmail)
		if email == "" {
			email = strings.TrimSpace(s.CustomerDetails.Email)
		}
		accountRef := strings.TrimSpace(s.ClientReferenceID)
		if accountRef == "" {
			accountRef = metadataAccountRef(s.Metadata)
		}
		return CheckoutCompleted{
			SessionID:       strings.TrimSpace(s.ID),
			AccountRef:      accountRef,
			CustomerRef:     s.Customer.String(),
			SubscriptionRef: s.Subscription.String(),
			CustomerEmail:   email,
		}, nil

	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		var s subscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		if strings.TrimSpace(s.ID) == "" {
			return nil, fmt.Errorf("subscription id is missing")
		}
		if kind == KindSubscriptionDeleted {
			return SubscriptionDeleted{
				SubscriptionRef: strings.TrimSpace(s.ID),
				CustomerRef:     s.Customer.String(),
				AccountRef:      metadataAccountRef(s.Metadata),
			}, nil
		}
		if strings.TrimSpace(s.Status) == "" {
			return nil, fmt.Errorf("subscription %s has no status", s.ID)
		}
		return SubscriptionChanged{
			SubscriptionRef: strings.TrimSpace(s.ID),
			CustomerRef:     s.Customer.String(),
			AccountRef:      metadataAccountRef(s.Metadata),
			Status:          strings.TrimSpace(s.Status),
			PeriodEnd:       s.periodEnd(),
		}, nil

	case KindPaymentSucceeded, KindPaymentFailed:
		var inv invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		if strings.TrimSpace(inv.ID) == "" {
			return nil, fmt.Errorf("invoice id is missing")
		}
		if inv.Customer.String() == "" {
			return nil, fmt.Errorf("invoice %s has no customer", inv.ID)
		}
		subRef := inv.Subscription.String()
		if subRef == "" {
			subRef = inv.Parent.SubscriptionDetails.Subscription.String()
		}
		if kind == KindPaymentFailed {
			return PaymentFailed{
				InvoiceRef:      strings.TrimSpace(inv.ID),
				CustomerRef:     inv.Customer.String(),
				SubscriptionRef: subRef,
				AttemptCount:    inv.AttemptCount,
				FailedAt:        created,
			}, nil
		}
		paidAt := created
		if inv.StatusTransitions.PaidAt > 0 {
			paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		}
		return PaymentSucceeded{
			InvoiceRef:      strings.TrimSpace(inv.ID),
			CustomerRef:     inv.Customer.String(),
			SubscriptionRef: subRef,
			AmountPaid:      inv.AmountPaid,
			Currency:        strings.ToLower(strings.TrimSpace(inv.Currency)),
			PaidAt:          paidAt,
		}, nil

	default:
		return Unrecognized{}, nil
	}
}

// periodEnd prefers the subscription-level period end and falls back to the
// latest item period end (newer API versions only set it per item).
func (s subscription) periodEnd() *time.Time {
	end := s.CurrentPeriodEnd
	if end == 0 {
		for _, item := range s.Items.Data {
			if item.CurrentPeriodEnd > end {
				end = item.CurrentPeriodEnd
			}
		}
	}
	if end <= 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

func metadataAccountRef(metadata map[string]string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata["account_id"])
}
