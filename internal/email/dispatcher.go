package email

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcourtman/bookline/internal/metrics"
)

const (
	defaultSendTimeout          = 15 * time.Second
	templateBookingConfirmation = "booking_confirmation"
)

// Dispatcher renders and sends emails in the background. A send failure is
// logged and counted; it never reaches the caller.
type Dispatcher struct {
	sender  Sender
	from    string
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil sender makes every dispatch fail
// with ErrNotConfigured.
func NewDispatcher(sender Sender, from string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{sender: sender, from: strings.TrimSpace(from), timeout: timeout}
}

// Configured reports whether the dispatcher can send.
func (d *Dispatcher) Configured() bool {
	return d != nil && d.sender != nil
}

// SendBookingConfirmation validates and renders b, then sends it on its own
// goroutine. Only validation, rendering and configuration errors are returned.
func (d *Dispatcher) SendBookingConfirmation(b BookingConfirmation) error {
	if !d.Configured() {
		metrics.EmailsTotal.WithLabelValues(templateBookingConfirmation, "not_configured").Inc()
		return ErrNotConfigured
	}
	if err := b.Validate(); err != nil {
		metrics.EmailsTotal.WithLabelValues(templateBookingConfirmation, "invalid").Inc()
		return fmt.Errorf("invalid booking confirmation: %w", err)
	}
	html, text, err := RenderBookingConfirmation(b)
	if err != nil {
		metrics.EmailsTotal.WithLabelValues(templateBookingConfirmation, "render_failed").Inc()
		return err
	}

	msg := Message{
		From:    d.from,
		To:      b.ClientEmail,
		Subject: fmt.Sprintf("Booking confirmed: %s with %s", b.ServiceName, b.ProfessionalName),
		HTML:    html,
		Text:    text,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sender.Send(ctx, msg); err != nil {
			metrics.EmailsTotal.WithLabelValues(templateBookingConfirmation, "failed").Inc()
			log.Error().Err(err).
				Str("to", msg.To).
				Str("template", templateBookingConfirmation).
				Msg("Failed to send booking confirmation email")
			return
		}
		metrics.EmailsTotal.WithLabelValues(templateBookingConfirmation, "sent").Inc()
		log.Info().
			Str("to", msg.To).
			Str("template", templateBookingConfirmation).
			Msg("Booking confirmation email sent")
	}()
	return nil
}

// Wait blocks until in-flight sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
