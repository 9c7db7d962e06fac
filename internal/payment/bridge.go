package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/antonminaichev/tstore/internal/fulfillment"
	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/antonminaichev/tstore/internal/metrics"
	"github.com/antonminaichev/tstore/internal/notify"
	"github.com/antonminaichev/tstore/internal/storage"
	"github.com/antonminaichev/tstore/internal/types/order"
)

const lockScope = "payment-event"

type Locker interface {
	TryLock(ctx context.Context, scope, id string) (bool, error)
	Release(ctx context.Context, scope, id string) error
}

type Repository interface {
	FindOrderByPaymentRef(ctx context.Context, ref string) (*order.Order, error)
	UpdateStatusIf(ctx context.Context, id string, from, to order.Status) (bool, error)
	ClaimConfirmation(ctx context.Context, id string, at time.Time) (bool, error)
	ReleaseConfirmation(ctx context.Context, id string) error
}

type Submitter interface {
	SubmitForPaymentRef(ctx context.Context, ref string) (fulfillment.SubmitResult, error)
}

// Bridge turns payment events into order state changes. Every step is
// conditional on persisted state, so redelivered events change nothing.
type Bridge struct {
	repo      Repository
	locker    Locker
	notifier  notify.Notifier
	submitter Submitter
	now       func() time.Time
	log       *slog.Logger
}

func NewBridge(repo Repository, locker Locker, n notify.Notifier, s Submitter) *Bridge {
	return &Bridge{
		repo:      repo,
		locker:    locker,
		notifier:  n,
		submitter: s,
		now:       time.Now,
		log:       logger.New("payment"),
	}
}

// HandleEvent processes one verified event. A returned error means the event
// should be redelivered.
func (b *Bridge) HandleEvent(ctx context.Context, ev *Event) error {
	if ev.Type != EventPaymentSucceeded {
		metrics.PaymentEvents.WithLabelValues(ev.Type, "ignored").Inc()
		return nil
	}

	locked, err := b.locker.TryLock(ctx, lockScope, ev.ID)
	if err != nil {
		// conditional updates below still keep processing idempotent
		b.log.Warn("event lock unavailable", "event", ev.ID, "err", err)
		locked = true
	}
	if !locked {
		metrics.PaymentEvents.WithLabelValues(ev.Type, "duplicate").Inc()
		b.log.Info("duplicate payment event", "event", ev.ID)
		return nil
	}

	result, err := b.paymentSucceeded(ctx, ev.Data.Object.ID)
	if err != nil || result == resultPending {
		// a redelivery of this event has to get through to retry
		b.release(ctx, ev.ID)
	}
	if err != nil {
		metrics.PaymentEvents.WithLabelValues(ev.Type, "error").Inc()
		return err
	}
	metrics.PaymentEvents.WithLabelValues(ev.Type, result).Inc()
	return nil
}

const (
	resultOK      = "ok"
	resultPending = "pending"
)

// paymentSucceeded reports resultPending when the order was paid but the
// confirmation or the fulfillment submission still has to be retried.
func (b *Bridge) paymentSucceeded(ctx context.Context, ref string) (string, error) {
	o, err := b.repo.FindOrderByPaymentRef(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		b.log.Warn("payment for unknown order", "payment_ref", ref)
		return "not_found", nil
	}
	if err != nil {
		return "", fmt.Errorf("find order by payment ref: %w", err)
	}

	moved, err := b.repo.UpdateStatusIf(ctx, o.ID, order.StatusDraft, order.StatusPaid)
	if err != nil {
		return "", fmt.Errorf("mark paid: %w", err)
	}
	if moved {
		o.Status = order.StatusPaid
		b.log.Info("order paid", "order", o.ID, "payment_ref", ref)
	} else if o.Status == order.StatusCancelled {
		return "cancelled", nil
	}

	result := resultOK
	if !b.confirm(ctx, o) {
		result = resultPending
	}

	res, err := b.submitter.SubmitForPaymentRef(ctx, ref)
	if err != nil {
		// order stays PAID for a redelivery or a manual retry
		b.log.Error("fulfillment submit failed", "order", o.ID, "err", err)
		result = resultPending
	} else if !res.Submitted {
		b.log.Info("fulfillment submit skipped", "order", o.ID, "reason", res.Reason)
	}
	return result, nil
}

// confirm sends the confirmation email at most once per order. It returns
// false when the email could not be sent and the claim was given back.
func (b *Bridge) confirm(ctx context.Context, o *order.Order) bool {
	claimed, err := b.repo.ClaimConfirmation(ctx, o.ID, b.now())
	if err != nil {
		b.log.Error("claim confirmation", "order", o.ID, "err", err)
		return false
	}
	if !claimed {
		return true
	}
	if err := b.notifier.OrderConfirmed(ctx, o); err != nil {
		b.log.Error("confirmation email failed", "order", o.ID, "err", err)
		if rerr := b.repo.ReleaseConfirmation(ctx, o.ID); rerr != nil {
			b.log.Error("release confirmation", "order", o.ID, "err", rerr)
		}
		return false
	}
	return true
}

func (b *Bridge) release(ctx context.Context, eventID string) {
	if err := b.locker.Release(ctx, lockScope, eventID); err != nil {
		b.log.Warn("release event lock", "event", eventID, "err", err)
	}
}
