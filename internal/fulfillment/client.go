package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrPartnerOrderNotFound is returned when the partner has no order with the given id.
var ErrPartnerOrderNotFound = errors.New("partner order not found")

type PartnerAddress struct {
	CompanyName  string `json:"companyName,omitempty"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	State        string `json:"state,omitempty"`
	City         string `json:"city"`
	PostCode     string `json:"postCode"`
	Country      string `json:"country"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
}

type PartnerFile struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type PartnerItem struct {
	ItemReferenceID string        `json:"itemReferenceId"`
	ProductUID      string        `json:"productUid"`
	Files           []PartnerFile `json:"files"`
	Quantity        int           `json:"quantity"`
}

type PartnerMetadata struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// OrderRequest is the body of a partner order submission.
type OrderRequest struct {
	OrderType           string            `json:"orderType"`
	OrderReferenceID    string            `json:"orderReferenceId"`
	CustomerReferenceID string            `json:"customerReferenceId"`
	Currency            string            `json:"currency"`
	Items               []PartnerItem     `json:"items"`
	ShipmentMethodUID   string            `json:"shipmentMethodUid"`
	ShippingAddress     PartnerAddress    `json:"shippingAddress"`
	ReturnAddress       PartnerAddress    `json:"returnAddress"`
	Metadata            []PartnerMetadata `json:"metadata"`
}

type PartnerClient interface {
	SubmitOrder(ctx context.Context, req *OrderRequest, idempotencyKey string) (string, error)
	GetOrder(ctx context.Context, partnerID string) (*PartnerOrder, error)
}

// HTTPPartnerClient talks to the print partner's order API.
type HTTPPartnerClient struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
}

func (c *HTTPPartnerClient) SubmitOrder(ctx context.Context, or *OrderRequest, idempotencyKey string) (string, error) {
	body, err := json.Marshal(or)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v4/orders", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", statusError(resp)
	}

	var created struct {
		ID      string `json:"id"`
		OrderID string `json:"orderId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	id := firstNonEmpty(created.ID, created.OrderID)
	if id == "" {
		return "", errors.New("partner response has no order id")
	}
	return id, nil
}

func (c *HTTPPartnerClient) GetOrder(ctx context.Context, partnerID string) (*PartnerOrder, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v4/orders/"+partnerID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrPartnerOrderNotFound, partnerID)
	case resp.StatusCode/100 != 2:
		return nil, statusError(resp)
	}

	var po PartnerOrder
	if err := json.NewDecoder(resp.Body).Decode(&po); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return &po, nil
}

func (c *HTTPPartnerClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.APIKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("too many requests (429): %s", bytes.TrimSpace(msg))
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
}
