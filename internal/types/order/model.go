package order

import "time"

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPaid      Status = "PAID"
	StatusSubmitted Status = "SUBMITTED"
	StatusFulfilled Status = "FULFILLED"
	StatusCancelled Status = "CANCELLED"
)

var next = map[Status][]Status{
	StatusDraft:     {StatusPaid},
	StatusPaid:      {StatusSubmitted, StatusCancelled},
	StatusSubmitted: {StatusFulfilled, StatusCancelled},
}

// CanTransition reports whether from -> to is a forward move of the order lifecycle.
// Terminal statuses have no outgoing transitions.
func CanTransition(from, to Status) bool {
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further status change is possible.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusCancelled
}

// FulfillmentStatus is the local vocabulary for the partner's production status.
type FulfillmentStatus string

const (
	FulfillmentSubmitted    FulfillmentStatus = "SUBMITTED"
	FulfillmentInProduction FulfillmentStatus = "IN_PRODUCTION"
	FulfillmentShipped      FulfillmentStatus = "SHIPPED"
	FulfillmentCancelled    FulfillmentStatus = "CANCELLED"
	FulfillmentUnknown      FulfillmentStatus = "UNKNOWN"
)

type Address struct {
	Name     string  `json:"name" validate:"required"`
	Line1    string  `json:"line1" validate:"required"`
	Line2    *string `json:"line2,omitempty"`
	City     string  `json:"city" validate:"required"`
	State    *string `json:"state,omitempty"`
	PostCode string  `json:"postCode" validate:"required"`
	Country  string  `json:"country" validate:"required,len=2,alpha"`
	Phone    string  `json:"phone" validate:"required,min=4,max=20,phone"`
}

type Order struct {
	ID                 string             `db:"id" json:"id"`
	Status             Status             `db:"status" json:"status"`
	Currency           string             `db:"currency" json:"currency"`
	SubtotalCents      int64              `db:"subtotal_cents" json:"subtotalCents"`
	ShippingCents      int64              `db:"shipping_cents" json:"shippingCents"`
	TaxCents           int64              `db:"tax_cents" json:"taxCents"`
	TotalCents         int64              `db:"total_cents" json:"totalCents"`
	Email              string             `db:"email" json:"email"`
	Shipping           Address            `json:"shippingAddress"`
	PaymentRef         *string            `db:"payment_ref" json:"paymentRef,omitempty"`
	PartnerOrderID     *string            `db:"partner_order_id" json:"partnerOrderId,omitempty"`
	PartnerStatus      *string            `db:"partner_status" json:"partnerStatus,omitempty"`
	FulfillmentStatus  *FulfillmentStatus `db:"fulfillment_status" json:"fulfillmentStatus,omitempty"`
	TrackingURL        *string            `db:"tracking_url" json:"trackingUrl,omitempty"`
	TrackingNumber     *string            `db:"tracking_number" json:"trackingNumber,omitempty"`
	Carrier            *string            `db:"carrier" json:"carrier,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"createdAt"`
	SubmittedAt        *time.Time         `db:"submitted_at" json:"submittedAt,omitempty"`
	ShippedAt          *time.Time         `db:"shipped_at" json:"shippedAt,omitempty"`
	ConfirmationSentAt *time.Time         `db:"confirmation_sent_at" json:"confirmationSentAt,omitempty"`
	LastFulfillCheckAt *time.Time         `db:"last_fulfill_check_at" json:"lastFulfillCheckAt,omitempty"`
	LastFulfillError   *string            `db:"last_fulfill_error" json:"lastFulfillError,omitempty"`
	Items              []Item             `json:"items,omitempty"`
}

// Item is one order line. Price, names and partner variant are frozen at checkout.
type Item struct {
	ID                string `db:"id" json:"id"`
	OrderID           string `db:"order_id" json:"-"`
	ProductID         string `db:"product_id" json:"productId"`
	ProductName       string `db:"product_name" json:"productName"`
	ProductSlug       string `db:"product_slug" json:"productSlug"`
	Size              string `db:"size" json:"size"`
	Color             string `db:"color" json:"color"`
	Qty               int    `db:"qty" json:"qty"`
	UnitPriceCents    int64  `db:"unit_price_cents" json:"unitPriceCents"`
	LineTotalCents    int64  `db:"line_total_cents" json:"lineTotalCents"`
	SpecID            string `db:"spec_id" json:"specId"`
	VariantProductUID string `db:"variant_product_uid" json:"variantProductUid"`
}

// Tracking is the shipment data copied from the partner.
type Tracking struct {
	URL     *string
	Number  *string
	Carrier *string
}

// PartnerUpdate is what one status check writes back to the order.
type PartnerUpdate struct {
	RawStatus string
	Status    FulfillmentStatus
	Tracking  Tracking
	CheckedAt time.Time
}
