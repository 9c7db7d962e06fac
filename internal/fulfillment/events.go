package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/antonminaichev/tstore/internal/logger"
)

// StatusEvent is a partner status change relayed onto kafka. It only triggers a
// refresh; the partner API stays the source of truth.
type StatusEvent struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type EventHandlerFunc func(ctx context.Context, ev StatusEvent) error

// NewGroup builds a consumer group reading from the oldest uncommitted offset.
func NewGroup(brokers []string, groupID string) (sarama.ConsumerGroup, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_6_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Net.DialTimeout = 5 * time.Second
	return sarama.NewConsumerGroup(brokers, groupID, cfg)
}

// EventConsumer consumes partner status topics with a single handler.
type EventConsumer struct {
	Group  sarama.ConsumerGroup
	Topics []string
	Handle EventHandlerFunc
}

func NewEventConsumer(group sarama.ConsumerGroup, topics []string, h EventHandlerFunc) *EventConsumer {
	return &EventConsumer{Group: group, Topics: topics, Handle: h}
}

// Run consumes until ctx is cancelled. A rebalance re-enters Consume.
func (c *EventConsumer) Run(ctx context.Context) error {
	handler := &cgHandler{handle: c.Handle, log: logger.New("kafka")}
	for {
		if err := c.Group.Consume(ctx, c.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type cgHandler struct {
	handle EventHandlerFunc
	log    *slog.Logger
}

func (h *cgHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *cgHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var ev StatusEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil || strings.TrimSpace(ev.OrderID) == "" {
			h.log.Warn("skip undecodable status event", "offset", msg.Offset, "err", err)
			sess.MarkMessage(msg, "decode-error")
			continue
		}
		if err := h.handle(sess.Context(), ev); err != nil {
			// not marked: redelivered after the next rebalance or restart
			h.log.Error("status event handler failed", "partner_order", ev.OrderID, "offset", msg.Offset, "err", err)
			continue
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

// HandleStatusEvent refreshes the order a status event points at. Events for
// orders this store does not know are dropped.
func (t *Tracker) HandleStatusEvent(ctx context.Context, ev StatusEvent) error {
	_, err := t.RefreshByPartnerID(ctx, ev.OrderID)
	if errors.Is(err, ErrOrderNotFound) {
		t.log.Warn("status event for unknown partner order", "partner_order", ev.OrderID)
		return nil
	}
	return err
}
