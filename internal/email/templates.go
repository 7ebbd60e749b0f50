package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// BookingConfirmation is the fixed field set of a booking confirmation.
type BookingConfirmation struct {
	ClientName       string    `json:"client_name" validate:"required,max=200"`
	ClientEmail      string    `json:"client_email" validate:"required,email,max=254"`
	ProfessionalName string    `json:"professional_name" validate:"required,max=200"`
	ServiceName      string    `json:"service_name" validate:"required,max=200"`
	StartsAt         time.Time `json:"starts_at" validate:"required"`
	DurationMinutes  int       `json:"duration_minutes" validate:"gte=0,lte=1440"`
	Location         string    `json:"location" validate:"max=500"`
	Price            string    `json:"price" validate:"max=50"`
	Notes            string    `json:"notes" validate:"max=2000"`
}

// Validate checks the confirmation fields.
func (b BookingConfirmation) Validate() error {
	return validate.Struct(b)
}

var bookingConfirmationTemplate = template.Must(template.New("booking_confirmation").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Your booking is confirmed</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: left;">
<h1 style="margin: 0 0 16px; font-size: 22px; color: #1a1a1a;">Hi {{.ClientName}}, you're booked</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
{{.ProfessionalName}} is looking forward to seeing you.
</p>
<table role="presentation" style="width: 100%; font-size: 15px; color: #1a1a1a; line-height: 1.6;">
<tr><td style="color: #999; padding-right: 16px;">Service</td><td>{{.ServiceName}}</td></tr>
<tr><td style="color: #999; padding-right: 16px;">When</td><td>{{.When}}</td></tr>
{{- if .Duration}}
<tr><td style="color: #999; padding-right: 16px;">Duration</td><td>{{.Duration}}</td></tr>
{{- end}}
{{- if .Location}}
<tr><td style="color: #999; padding-right: 16px;">Where</td><td>{{.Location}}</td></tr>
{{- end}}
{{- if .Price}}
<tr><td style="color: #999; padding-right: 16px;">Price</td><td>{{.Price}}</td></tr>
{{- end}}
</table>
{{- if .Notes}}
<p style="margin: 24px 0 0; color: #666; font-size: 14px; line-height: 1.5;">{{.Notes}}</p>
{{- end}}
<p style="margin: 24px 0 0; color: #999; font-size: 13px; line-height: 1.5;">
Need to change something? Reply to this email or contact {{.ProfessionalName}} directly.
</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

type bookingView struct {
	BookingConfirmation
	When     string
	Duration string
}

// RenderBookingConfirmation renders the HTML and text bodies.
func RenderBookingConfirmation(b BookingConfirmation) (html, text string, err error) {
	view := bookingView{
		BookingConfirmation: b,
		When:                b.StartsAt.Format("Monday, 2 January 2006 at 15:04 MST"),
		Duration:            formatDuration(b.DurationMinutes),
	}

	var buf bytes.Buffer
	if err := bookingConfirmationTemplate.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("render booking confirmation template: %w", err)
	}

	var t strings.Builder
	fmt.Fprintf(&t, "Hi %s, you're booked with %s.\n\n", b.ClientName, b.ProfessionalName)
	fmt.Fprintf(&t, "Service: %s\nWhen: %s\n", b.ServiceName, view.When)
	if view.Duration != "" {
		fmt.Fprintf(&t, "Duration: %s\n", view.Duration)
	}
	if b.Location != "" {
		fmt.Fprintf(&t, "Where: %s\n", b.Location)
	}
	if b.Price != "" {
		fmt.Fprintf(&t, "Price: %s\n", b.Price)
	}
	if b.Notes != "" {
		fmt.Fprintf(&t, "\n%s\n", b.Notes)
	}
	return buf.String(), t.String(), nil
}

func formatDuration(minutes int) string {
	if minutes <= 0 {
		return ""
	}
	d := time.Duration(minutes) * time.Minute
	h, m := int(d.Hours()), minutes%60
	switch {
	case h == 0:
		return fmt.Sprintf("%d min", m)
	case m == 0:
		return fmt.Sprintf("%d h", h)
	default:
		return fmt.Sprintf("%d h %d min", h, m)
	}
}
