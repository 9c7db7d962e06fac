package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/antonminaichev/tstore/internal/types/order"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "order.notifications"
	QueueName    = "order.notifications.q"

	keyConfirmed = "order.confirmed"
	keyShipped   = "order.shipped"
)

// Message is the queued form of a notification.
type Message struct {
	Kind  string      `json:"kind"`
	Order order.Order `json:"order"`
}

// QueuePublisher implements Notifier by publishing to RabbitMQ.
type QueuePublisher struct {
	ch *amqp.Channel
}

// NewQueuePublisher declares the exchange, the queue and its bindings.
func NewQueuePublisher(ch *amqp.Channel) (*QueuePublisher, error) {
	if err := ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	for _, key := range []string{keyConfirmed, keyShipped} {
		if err := ch.QueueBind(q.Name, key, ExchangeName, false, nil); err != nil {
			return nil, fmt.Errorf("queue bind %s: %w", key, err)
		}
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	return &QueuePublisher{ch: ch}, nil
}

func (p *QueuePublisher) OrderConfirmed(ctx context.Context, o *order.Order) error {
	return p.publish(ctx, keyConfirmed, Message{Kind: KindConfirmed, Order: *o})
}

func (p *QueuePublisher) OrderShipped(ctx context.Context, o *order.Order) error {
	return p.publish(ctx, keyShipped, Message{Kind: KindShipped, Order: *o})
}

func (p *QueuePublisher) publish(ctx context.Context, key string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(
		ctx,
		ExchangeName,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.Order.ID + ":" + msg.Kind,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait confirm: %w", err)
	}
	if !acked {
		return errors.New("publish nacked by broker")
	}
	return nil
}

// Handler processes a single delivery. Return nil to ACK.
type Handler interface {
	Handle(ctx context.Context, d amqp.Delivery) error
}

// JSONHandler unmarshals the delivery body into T and calls HandleFunc.
type JSONHandler[T any] struct {
	HandleFunc func(ctx context.Context, msg T) error
}

func (h JSONHandler[T]) Handle(ctx context.Context, d amqp.Delivery) error {
	var v T
	if err := json.Unmarshal(d.Body, &v); err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	return h.HandleFunc(ctx, v)
}

var errPoison = errors.New("undecodable message")

// DeliverTo returns a handler that sends queued messages through n.
func DeliverTo(n Notifier) Handler {
	return JSONHandler[Message]{HandleFunc: func(ctx context.Context, m Message) error {
		switch m.Kind {
		case KindConfirmed:
			return n.OrderConfirmed(ctx, &m.Order)
		case KindShipped:
			return n.OrderShipped(ctx, &m.Order)
		default:
			return fmt.Errorf("%w: unknown kind %q", errPoison, m.Kind)
		}
	}}
}

// Router runs one consumer per registered queue on a single channel.
type Router struct {
	ch            *amqp.Channel
	prefetch      int
	callTimeout   time.Duration
	requeueOnErr  bool
	registrations []registration
}

type registration struct {
	queueName   string
	handler     Handler
	consumerTag string
}

type RouterOption func(*Router)

func WithPrefetch(n int) RouterOption          { return func(r *Router) { r.prefetch = n } }
func WithTimeout(d time.Duration) RouterOption { return func(r *Router) { r.callTimeout = d } }
func WithRequeue(b bool) RouterOption          { return func(r *Router) { r.requeueOnErr = b } }

// NewRouter defaults: prefetch=20, timeout=15s, requeueOnErr=true.
func NewRouter(ch *amqp.Channel, opts ...RouterOption) *Router {
	r := &Router{
		ch:           ch,
		prefetch:     20,
		callTimeout:  15 * time.Second,
		requeueOnErr: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Register(queueName string, h Handler) {
	r.registrations = append(r.registrations, registration{
		queueName:   queueName,
		handler:     h,
		consumerTag: "tstore_" + queueName,
	})
}

// Run consumes until ctx is cancelled, then cancels the consumers and returns.
func (r *Router) Run(ctx context.Context) error {
	if err := r.ch.Qos(r.prefetch, 0, false); err != nil {
		return err
	}
	log := logger.New("rabbit")

	done := make(chan struct{}, len(r.registrations))
	for _, reg := range r.registrations {
		deliveries, err := r.ch.Consume(
			reg.queueName,
			reg.consumerTag,
			false, // manual ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		if err != nil {
			return err
		}

		go func(reg registration, msgs <-chan amqp.Delivery) {
			defer func() { done <- struct{}{} }()
			for d := range msgs {
				r.dispatch(ctx, reg, d)
			}
			log.Info("consumer stopped", "queue", reg.queueName)
		}(reg, deliveries)
	}

	<-ctx.Done()
	for _, reg := range r.registrations {
		_ = r.ch.Cancel(reg.consumerTag, false)
	}
	for range r.registrations {
		<-done
	}
	return nil
}

func (r *Router) dispatch(ctx context.Context, reg registration, d amqp.Delivery) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.callTimeout)
	err := reg.handler.Handle(callCtx, d)
	cancel()

	if err == nil {
		_ = d.Ack(false)
		return
	}
	// poison and rejected messages would fail the same way forever
	requeue := r.requeueOnErr && !errors.Is(err, errPoison) && !errors.Is(err, ErrRejected)
	log := logger.New("rabbit")
	if requeue {
		log.Error("handler error", "queue", reg.queueName, "rk", d.RoutingKey, "err", err, "requeue", true)
	} else {
		log.Error("message dropped", "queue", reg.queueName, "rk", d.RoutingKey, "err", err, "redelivered", d.Redelivered)
	}
	_ = d.Nack(false, requeue)
}
