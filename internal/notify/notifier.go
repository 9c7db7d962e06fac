package notify

import (
	"context"

	"github.com/antonminaichev/tstore/internal/metrics"
	"github.com/antonminaichev/tstore/internal/types/order"
)

const (
	KindConfirmed = "confirmed"
	KindShipped   = "shipped"
)

// Notifier sends customer notifications. Callers treat failures as non-fatal.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o *order.Order) error
	OrderShipped(ctx context.Context, o *order.Order) error
}

type observed struct {
	next Notifier
}

// WithMetrics counts every notification outcome.
func WithMetrics(n Notifier) Notifier {
	return observed{next: n}
}

func (o observed) OrderConfirmed(ctx context.Context, ord *order.Order) error {
	return count(KindConfirmed, o.next.OrderConfirmed(ctx, ord))
}

func (o observed) OrderShipped(ctx context.Context, ord *order.Order) error {
	return count(KindShipped, o.next.OrderShipped(ctx, ord))
}

func count(kind string, err error) error {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Notifications.WithLabelValues(kind, result).Inc()
	return err
}
