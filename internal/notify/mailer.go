package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"

	"github.com/antonminaichev/tstore/internal/types/order"
	"github.com/shopspring/decimal"
)

// Email is the request body of the mail API.
type Email struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

// ErrRejected wraps mail API answers that will not change on retry.
var ErrRejected = errors.New("email rejected")

// Mailer delivers notifications through an HTTP email API.
// With an empty APIKey every send is a no-op.
type Mailer struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
	From    string
	ReplyTo string
}

func (m *Mailer) OrderConfirmed(ctx context.Context, o *order.Order) error {
	return m.send(ctx, confirmedEmail(o))
}

func (m *Mailer) OrderShipped(ctx context.Context, o *order.Order) error {
	return m.send(ctx, shippedEmail(o))
}

func (m *Mailer) send(ctx context.Context, e Email) error {
	if m.APIKey == "" {
		return nil
	}
	e.From = m.From
	e.ReplyTo = m.ReplyTo

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}
	url := strings.TrimRight(m.BaseURL, "/") + "/emails"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("mail api status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return err
	}
	return nil
}

func money(cents int64, currency string) string {
	return decimal.New(cents, -2).StringFixed(2) + " " + strings.ToUpper(currency)
}

func confirmedEmail(o *order.Order) Email {
	id := html.EscapeString(o.ID)
	total := money(o.TotalCents, o.Currency)
	return Email{
		To:      []string{o.Email},
		Subject: "Order received: " + o.ID,
		HTML: "<h2>Thanks for your order!</h2>" +
			"<p>We're getting it ready. We'll email tracking details when it ships.</p>" +
			"<p>Order ID: <b>" + id + "</b><br>Total: " + total + "</p>",
		Text: fmt.Sprintf("Thanks for your order %s (total %s).\n"+
			"We're getting it ready and will email tracking when it ships.", o.ID, total),
	}
}

func shippedEmail(o *order.Order) Email {
	var htmlTracking, textTracking string
	switch {
	case o.TrackingURL != nil && *o.TrackingURL != "":
		u := html.EscapeString(*o.TrackingURL)
		htmlTracking = `<p>Track your package: <a href="` + u + `">` + u + `</a></p>`
		textTracking = "Track your package: " + *o.TrackingURL
	case o.TrackingNumber != nil && *o.TrackingNumber != "":
		carrier := ""
		if o.Carrier != nil && *o.Carrier != "" {
			carrier = " (" + *o.Carrier + ")"
		}
		htmlTracking = "<p>Tracking number: <b>" + html.EscapeString(*o.TrackingNumber) + "</b>" +
			html.EscapeString(carrier) + "</p>"
		textTracking = "Tracking number: " + *o.TrackingNumber + carrier
	default:
		htmlTracking = "<p>Tracking details will follow shortly.</p>"
		textTracking = "Tracking details will follow shortly."
	}
	return Email{
		To:      []string{o.Email},
		Subject: "Your order has shipped: " + o.ID,
		HTML: "<h2>Your order is on its way!</h2>" +
			"<p>Order ID: <b>" + html.EscapeString(o.ID) + "</b></p>" + htmlTracking,
		Text: fmt.Sprintf("Your order %s has shipped.\n%s", o.ID, textTracking),
	}
}
