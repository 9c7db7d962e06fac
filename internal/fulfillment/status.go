package fulfillment

import (
	"strings"

	"github.com/antonminaichev/tstore/internal/types/order"
)

// PartnerOrder is the part of the partner's order document the workflow reads.
type PartnerOrder struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Shipments    []Shipment `json:"shipments"`
	Fulfillments []Shipment `json:"fulfillments"`
}

type Shipment struct {
	TrackingURL    string `json:"trackingUrl"`
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
	Tracking       *struct {
		URL     string `json:"url"`
		Number  string `json:"number"`
		Carrier string `json:"carrier"`
	} `json:"tracking"`
}

var statusKeywords = []struct {
	status   order.FulfillmentStatus
	keywords []string
}{
	{order.FulfillmentShipped, []string{"SHIPPED"}},
	{order.FulfillmentInProduction, []string{"IN_PRODUCTION", "PRODUCTION"}},
	{order.FulfillmentCancelled, []string{"CANCEL"}},
	{order.FulfillmentSubmitted, []string{"CREATED", "RECEIVED", "QUEUED"}},
}

// MapStatus maps the partner's free-text status onto the local vocabulary.
// The first matching keyword group wins; unmatched text maps to UNKNOWN.
func MapStatus(raw string) order.FulfillmentStatus {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return order.FulfillmentUnknown
	}
	for _, group := range statusKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(s, kw) {
				return group.status
			}
		}
	}
	return order.FulfillmentUnknown
}

// ExtractTracking returns tracking from the first shipment that has a url or number.
func ExtractTracking(po *PartnerOrder) order.Tracking {
	shipments := po.Shipments
	if len(shipments) == 0 {
		shipments = po.Fulfillments
	}
	for _, s := range shipments {
		url, num, carrier := s.TrackingURL, s.TrackingNumber, s.Carrier
		if s.Tracking != nil {
			url = firstNonEmpty(url, s.Tracking.URL)
			num = firstNonEmpty(num, s.Tracking.Number)
			carrier = firstNonEmpty(carrier, s.Tracking.Carrier)
		}
		if url != "" || num != "" {
			return order.Tracking{URL: strOrNil(url), Number: strOrNil(num), Carrier: strOrNil(carrier)}
		}
	}
	return order.Tracking{}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
