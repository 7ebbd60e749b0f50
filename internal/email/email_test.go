package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcourtman/bookline/internal/metrics"
)

func validBooking() BookingConfirmation {
	return BookingConfirmation{
		ClientName:       "Ada",
		ClientEmail:      "ada@example.com",
		ProfessionalName: "Studio Nine",
		ServiceName:      "Haircut",
		StartsAt:         time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
		DurationMinutes:  90,
		Location:         "12 Market St",
		Price:            "€45.00",
		Notes:            "Bring <reference> photos",
	}
}

func TestLogSender_Send(t *testing.T) {
	var gotTo, gotSubject string
	sender := NewLogSender(func(to, subject, body string) {
		gotTo = to
		gotSubject = subject
	})

	err := sender.Send(context.Background(), Message{To: "test@example.com", Subject: "Test Subject", Text: "Hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTo != "test@example.com" || gotSubject != "Test Subject" {
		t.Fatalf("got to=%q subject=%q", gotTo, gotSubject)
	}
}

func TestResendSender_Send(t *testing.T) {
	var got resendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	s := NewResendSender("re_test")
	s.endpoint = srv.URL

	err := s.Send(context.Background(), Message{From: "bookings@bookline.app", To: "ada@example.com", Subject: "Hi", HTML: "<p>Hi</p>", Text: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer re_test", auth)
	assert.Equal(t, []string{"ada@example.com"}, got.To)
	assert.Equal(t, "bookings@bookline.app", got.From)
	assert.Equal(t, "<p>Hi</p>", got.HTML)
}

func TestResendSender_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"validation_error","message":"bad from"}`))
	}))
	defer srv.Close()

	s := NewResendSender("re_test")
	s.endpoint = srv.URL
	err := s.Send(context.Background(), Message{To: "ada@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 422")
	assert.Contains(t, err.Error(), "bad from")
}

func TestResendSender_NoKey(t *testing.T) {
	err := NewResendSender(" ").Send(context.Background(), Message{To: "ada@example.com"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBookingConfirmationValidate(t *testing.T) {
	require.NoError(t, validBooking().Validate())

	b := validBooking()
	b.ClientEmail = "not-an-email"
	assert.Error(t, b.Validate())

	b = validBooking()
	b.StartsAt = time.Time{}
	assert.Error(t, b.Validate())

	b = validBooking()
	b.ServiceName = ""
	assert.Error(t, b.Validate())

	b = validBooking()
	b.DurationMinutes = -5
	assert.Error(t, b.Validate())
}

func TestRenderBookingConfirmation(t *testing.T) {
	html, text, err := RenderBookingConfirmation(validBooking())
	require.NoError(t, err)

	assert.Contains(t, html, "Hi Ada, you're booked")
	assert.Contains(t, html, "Monday, 2 March 2026 at 14:30 UTC")
	assert.Contains(t, html, "1 h 30 min")
	assert.Contains(t, html, "Bring &lt;reference&gt; photos")
	assert.NotContains(t, html, "<reference>")

	assert.Contains(t, text, "Service: Haircut")
	assert.Contains(t, text, "Where: 12 Market St")
	assert.Contains(t, text, "Price: €45.00")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "", formatDuration(0))
	assert.Equal(t, "45 min", formatDuration(45))
	assert.Equal(t, "2 h", formatDuration(120))
	assert.Equal(t, "1 h 5 min", formatDuration(65))
}

type captureSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (c *captureSender) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.err
}

func TestDispatcherSendsInBackground(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, "bookings@bookline.app", time.Second)

	require.NoError(t, d.SendBookingConfirmation(validBooking()))
	require.NoError(t, d.Wait(context.Background()))

	require.Len(t, sender.msgs, 1)
	msg := sender.msgs[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "bookings@bookline.app", msg.From)
	assert.True(t, strings.HasPrefix(msg.Subject, "Booking confirmed: Haircut"))
	assert.NotEmpty(t, msg.HTML)
	assert.NotEmpty(t, msg.Text)
}

func TestDispatcherSendFailureIsNotReturned(t *testing.T) {
	sender := &captureSender{err: errors.New("smtp down")}
	d := NewDispatcher(sender, "bookings@bookline.app", time.Second)

	failed := metrics.EmailsTotal.WithLabelValues(templateBookingConfirmation, "failed")
	before := testutil.ToFloat64(failed)
	require.NoError(t, d.SendBookingConfirmation(validBooking()))
	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, float64(1), testutil.ToFloat64(failed)-before)
}

func TestDispatcherRejectsInvalidAndUnconfigured(t *testing.T) {
	sender := &captureSender{}
	d := NewDispatcher(sender, "bookings@bookline.app", 0)

	b := validBooking()
	b.ClientEmail = ""
	assert.Error(t, d.SendBookingConfirmation(b))
	require.NoError(t, d.Wait(context.Background()))
	assert.Empty(t, sender.msgs)

	assert.ErrorIs(t, NewDispatcher(nil, "", 0).SendBookingConfirmation(validBooking()), ErrNotConfigured)
}
