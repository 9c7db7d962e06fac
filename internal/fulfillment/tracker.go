package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/antonminaichev/tstore/internal/metrics"
	"github.com/antonminaichev/tstore/internal/notify"
	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/order"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrNotSubmitted  = errors.New("order has not been submitted to the partner")
)

type TrackRepository interface {
	FindOrderByID(ctx context.Context, id string) (*order.Order, error)
	FindOrderByPartnerID(ctx context.Context, partnerID string) (*order.Order, error)
	RecordFulfillError(ctx context.Context, id, msg string, at time.Time) error
	ApplyPartnerUpdate(ctx context.Context, id string, u order.PartnerUpdate) error
	MarkShipped(ctx context.Context, id string, at time.Time) (bool, error)
}

// Tracker copies the partner's view of an order onto the local record.
type Tracker struct {
	repo     TrackRepository
	client   PartnerClient
	notifier notify.Notifier
	now      func() time.Time
	log      *slog.Logger
}

func NewTracker(repo TrackRepository, client PartnerClient, n notify.Notifier) *Tracker {
	return &Tracker{
		repo:     repo,
		client:   client,
		notifier: n,
		now:      time.Now,
		log:      logger.New("fulfillment"),
	}
}

// RefreshByID refreshes one order looked up by its local id.
func (t *Tracker) RefreshByID(ctx context.Context, id string) (*order.Order, error) {
	o, err := t.repo.FindOrderByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return t.Refresh(ctx, o)
}

// RefreshByPartnerID refreshes one order looked up by the partner's order id.
func (t *Tracker) RefreshByPartnerID(ctx context.Context, partnerID string) (*order.Order, error) {
	o, err := t.repo.FindOrderByPartnerID(ctx, partnerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order by partner id: %w", err)
	}
	return t.Refresh(ctx, o)
}

// Refresh fetches the partner order and applies it to o. The shipped
// notification goes out only from the call that first records the shipment.
// The returned order reflects what was written.
func (t *Tracker) Refresh(ctx context.Context, o *order.Order) (*order.Order, error) {
	if o.PartnerOrderID == nil || *o.PartnerOrderID == "" {
		return nil, ErrNotSubmitted
	}
	now := t.now()

	po, err := t.client.GetOrder(ctx, *o.PartnerOrderID)
	if err != nil {
		metrics.Polls.WithLabelValues("error").Inc()
		if rerr := t.repo.RecordFulfillError(ctx, o.ID, err.Error(), now); rerr != nil {
			t.log.Error("record fulfillment error", "order", o.ID, "err", rerr)
		}
		return nil, fmt.Errorf("get partner order %s: %w", *o.PartnerOrderID, err)
	}

	status := MapStatus(po.Status)
	tracking := ExtractTracking(po)
	if tracking.URL == nil && tracking.Number == nil {
		// keep what an earlier check found
		tracking = order.Tracking{URL: o.TrackingURL, Number: o.TrackingNumber, Carrier: o.Carrier}
	}
	u := order.PartnerUpdate{RawStatus: po.Status, Status: status, Tracking: tracking, CheckedAt: now}
	if err := t.repo.ApplyPartnerUpdate(ctx, o.ID, u); err != nil {
		metrics.Polls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("apply partner update: %w", err)
	}

	updated := *o
	updated.PartnerStatus = strOrNil(po.Status)
	updated.FulfillmentStatus = &status
	updated.TrackingURL, updated.TrackingNumber, updated.Carrier = tracking.URL, tracking.Number, tracking.Carrier
	updated.LastFulfillCheckAt = &now
	updated.LastFulfillError = nil

	if status == order.FulfillmentShipped && o.ShippedAt == nil {
		first, err := t.repo.MarkShipped(ctx, o.ID, now)
		if err != nil {
			metrics.Polls.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("mark shipped: %w", err)
		}
		if first {
			updated.ShippedAt = &now
			if updated.Status == order.StatusSubmitted {
				updated.Status = order.StatusFulfilled
			}
			t.log.Info("order shipped", "order", o.ID, "partner_order", *o.PartnerOrderID)
			if err := t.notifier.OrderShipped(ctx, &updated); err != nil {
				t.log.Error("shipped notification failed", "order", o.ID, "err", err)
			}
		}
	}

	metrics.Polls.WithLabelValues("ok").Inc()
	return &updated, nil
}
