package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Intent is what checkout needs back from the processor.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

type IntentRequest struct {
	AmountCents int64
	Currency    string
	Email       string
	Metadata    map[string]string
}

// HTTPClient creates payment intents over the processor's form-encoded API.
type HTTPClient struct {
	Client    *http.Client
	BaseURL   string
	SecretKey string
}

func (c *HTTPClient) CreatePaymentIntent(ctx context.Context, in IntentRequest, idempotencyKey string) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(in.AmountCents, 10))
	form.Set("currency", strings.ToLower(in.Currency))
	form.Set("automatic_payment_methods[enabled]", "true")
	if in.Email != "" {
		form.Set("receipt_email", in.Email)
	}
	for k, v := range in.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/v1/payment_intents"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("payment api status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("payment api status %d", resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return nil, errors.New("payment api returned incomplete intent")
	}
	return &intent, nil
}
