package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/antonminaichev/tstore/internal/metrics"
	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/catalog"
	"github.com/antonminaichev/tstore/internal/types/order"
)

const (
	ReasonOrderNotFound    = "order_not_found"
	ReasonAlreadySubmitted = "already_submitted"
	ReasonNotPaid          = "not_paid"
)

// ErrNoPaymentRef is returned for a manual submission of an order that was never paid.
var ErrNoPaymentRef = errors.New("order has no payment reference")

type SubmitResult struct {
	Submitted      bool   `json:"submitted"`
	Reason         string `json:"reason,omitempty"`
	PartnerOrderID string `json:"partnerOrderId,omitempty"`
}

type SubmitRepository interface {
	FindOrderByID(ctx context.Context, id string) (*order.Order, error)
	FindOrderByPaymentRef(ctx context.Context, ref string) (*order.Order, error)
	FindSpecs(ctx context.Context, ids []string) ([]catalog.PrintSpec, error)
	MarkSubmitted(ctx context.Context, id, partnerID string, at time.Time) (bool, error)
	RecordFulfillError(ctx context.Context, id, msg string, at time.Time) error
}

// SubmitConfig holds the fixed parts of every partner order.
type SubmitConfig struct {
	ShipmentMethodUID string
	BrandLabelURL     string
	ReturnAddress     PartnerAddress
}

type Submitter struct {
	repo   SubmitRepository
	client PartnerClient
	cfg    SubmitConfig
	now    func() time.Time
	log    *slog.Logger
}

func NewSubmitter(repo SubmitRepository, client PartnerClient, cfg SubmitConfig) *Submitter {
	if cfg.ShipmentMethodUID == "" {
		cfg.ShipmentMethodUID = "express"
	}
	return &Submitter{
		repo:   repo,
		client: client,
		cfg:    cfg,
		now:    time.Now,
		log:    logger.New("fulfillment"),
	}
}

// IdempotencyKey is sent with every submission of the order so partner-side retries
// never create a second production order.
func IdempotencyKey(orderID, paymentRef string) string {
	return "order-" + orderID + "-pi-" + paymentRef
}

// SubmitForPaymentRef sends the paid order identified by its payment reference to the
// partner. It is safe to call any number of times.
func (s *Submitter) SubmitForPaymentRef(ctx context.Context, ref string) (SubmitResult, error) {
	o, err := s.repo.FindOrderByPaymentRef(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.Submissions.WithLabelValues("skipped").Inc()
		return SubmitResult{Reason: ReasonOrderNotFound}, nil
	}
	if err != nil {
		return SubmitResult{}, fmt.Errorf("find order by payment ref: %w", err)
	}
	return s.submit(ctx, o, ref)
}

// SubmitOrderID is the manual retry entry point.
func (s *Submitter) SubmitOrderID(ctx context.Context, id string) (SubmitResult, error) {
	o, err := s.repo.FindOrderByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return SubmitResult{Reason: ReasonOrderNotFound}, nil
	}
	if err != nil {
		return SubmitResult{}, fmt.Errorf("find order: %w", err)
	}
	if o.PaymentRef == nil || *o.PaymentRef == "" {
		return SubmitResult{}, ErrNoPaymentRef
	}
	return s.submit(ctx, o, *o.PaymentRef)
}

func (s *Submitter) submit(ctx context.Context, o *order.Order, ref string) (SubmitResult, error) {
	if o.PartnerOrderID != nil {
		metrics.Submissions.WithLabelValues("skipped").Inc()
		return SubmitResult{Reason: ReasonAlreadySubmitted, PartnerOrderID: *o.PartnerOrderID}, nil
	}
	if o.Status != order.StatusPaid {
		metrics.Submissions.WithLabelValues("skipped").Inc()
		return SubmitResult{Reason: ReasonNotPaid}, nil
	}

	req, err := s.buildRequest(ctx, o, ref)
	if err == nil {
		var partnerID string
		partnerID, err = s.client.SubmitOrder(ctx, req, IdempotencyKey(o.ID, ref))
		if err == nil {
			return s.recordSuccess(ctx, o, partnerID)
		}
	}

	metrics.Submissions.WithLabelValues("error").Inc()
	if rerr := s.repo.RecordFulfillError(ctx, o.ID, err.Error(), s.now()); rerr != nil {
		s.log.Error("record fulfillment error", "order", o.ID, "err", rerr)
	}
	s.log.Warn("fulfillment submit failed", "order", o.ID, "err", err)
	return SubmitResult{}, fmt.Errorf("submit order %s: %w", o.ID, err)
}

func (s *Submitter) recordSuccess(ctx context.Context, o *order.Order, partnerID string) (SubmitResult, error) {
	ok, err := s.repo.MarkSubmitted(ctx, o.ID, partnerID, s.now())
	if err != nil {
		metrics.Submissions.WithLabelValues("error").Inc()
		return SubmitResult{}, fmt.Errorf("mark submitted: %w", err)
	}
	if !ok {
		// a concurrent submission won; the idempotency key made it the same partner order
		metrics.Submissions.WithLabelValues("skipped").Inc()
		return SubmitResult{Reason: ReasonAlreadySubmitted, PartnerOrderID: partnerID}, nil
	}
	metrics.Submissions.WithLabelValues("ok").Inc()
	s.log.Info("order submitted to partner", "order", o.ID, "partner_order", partnerID)
	return SubmitResult{Submitted: true, PartnerOrderID: partnerID}, nil
}

func (s *Submitter) buildRequest(ctx context.Context, o *order.Order, ref string) (*OrderRequest, error) {
	ids := make([]string, 0, len(o.Items))
	seen := make(map[string]bool, len(o.Items))
	for _, it := range o.Items {
		if it.SpecID != "" && !seen[it.SpecID] {
			seen[it.SpecID] = true
			ids = append(ids, it.SpecID)
		}
	}
	specs := make(map[string]catalog.PrintSpec, len(ids))
	if len(ids) > 0 {
		list, err := s.repo.FindSpecs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load print specs: %w", err)
		}
		for _, sp := range list {
			specs[sp.ID] = sp
		}
	}

	items := make([]PartnerItem, 0, len(o.Items))
	for _, it := range o.Items {
		var files []PartnerFile
		if sp, ok := specs[it.SpecID]; ok {
			if sp.FrontFileURL != nil && *sp.FrontFileURL != "" {
				files = append(files, PartnerFile{Type: "default", URL: *sp.FrontFileURL})
			}
			if sp.BackFileURL != nil && *sp.BackFileURL != "" {
				files = append(files, PartnerFile{Type: "back", URL: *sp.BackFileURL})
			}
		}
		if s.cfg.BrandLabelURL != "" {
			files = append(files, PartnerFile{Type: "inner-neck", URL: s.cfg.BrandLabelURL})
		}
		items = append(items, PartnerItem{
			ItemReferenceID: it.ID,
			ProductUID:      it.VariantProductUID,
			Files:           files,
			Quantity:        it.Qty,
		})
	}

	return &OrderRequest{
		OrderType:           "order",
		OrderReferenceID:    o.ID,
		CustomerReferenceID: o.Email,
		Currency:            strings.ToUpper(o.Currency),
		Items:               items,
		ShipmentMethodUID:   s.cfg.ShipmentMethodUID,
		ShippingAddress:     shippingAddress(o),
		ReturnAddress:       s.cfg.ReturnAddress,
		Metadata:            []PartnerMetadata{{Key: "payment_intent_id", Value: ref}},
	}, nil
}

var phoneJunk = regexp.MustCompile(`[^0-9+()\-\s]`)

// NormalizePhone drops every character the partner rejects in phone numbers.
func NormalizePhone(p string) string {
	return strings.TrimSpace(phoneJunk.ReplaceAllString(p, ""))
}

func shippingAddress(o *order.Order) PartnerAddress {
	a := o.Shipping
	first := strings.TrimSpace(a.Name)
	if first == "" {
		first = "Customer"
	}
	return PartnerAddress{
		FirstName:    first,
		AddressLine1: a.Line1,
		AddressLine2: deref(a.Line2),
		State:        deref(a.State),
		City:         a.City,
		PostCode:     a.PostCode,
		Country:      strings.ToUpper(a.Country),
		Email:        o.Email,
		Phone:        NormalizePhone(a.Phone),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
