package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/antonminaichev/tstore/internal/admin"
	"github.com/antonminaichev/tstore/internal/cache"
	"github.com/antonminaichev/tstore/internal/catalog"
	"github.com/antonminaichev/tstore/internal/checkout"
	"github.com/antonminaichev/tstore/internal/fulfillment"
	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/antonminaichev/tstore/internal/notify"
	"github.com/antonminaichev/tstore/internal/order"
	"github.com/antonminaichev/tstore/internal/payment"
	storage "github.com/antonminaichev/tstore/internal/storage/postgres"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// locker covers both the webhook dedupe lock and the poller cycle lease.
type locker interface {
	payment.Locker
	fulfillment.Lease
}

// app holds the long-lived dependencies shared by every command.
type app struct {
	cfg   *Config
	log   *slog.Logger
	store *storage.PostgresStorage

	locker   locker
	notifier notify.Notifier
	// set only when RABBITMQ_URL is configured
	consumer *notify.Router

	admins    *admin.Service
	catalog   *catalog.Service
	checkout  *checkout.Service
	orders    *order.Service
	submitter *fulfillment.Submitter
	tracker   *fulfillment.Tracker
	bridge    *payment.Bridge
	poller    *fulfillment.Poller

	closers []func() error
}

func newApp(ctx context.Context, cfg *Config) (*app, error) {
	a := &app{cfg: cfg, log: logger.New("app")}

	store, err := storage.NewPostgresStorage(cfg.DatabaseConnection)
	if err != nil {
		return nil, fmt.Errorf("init postgres storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if err := a.initLocker(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initNotifier(); err != nil {
		a.Close()
		return nil, err
	}
	a.initServices()
	return a, nil
}

func (a *app) initLocker(ctx context.Context) error {
	if a.cfg.RedisAddr == "" {
		// без redis опираемся только на условные UPDATE в БД
		a.log.Warn("REDIS_ADDR not set, using in-process locks")
		a.locker = cache.LocalLocker{}
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("ping redis: %w", err)
	}
	a.closers = append(a.closers, rdb.Close)
	a.locker = cache.NewRedisLocker(rdb, a.cfg.IdempotencyTTL)
	return nil
}

func (a *app) initNotifier() error {
	mailer := &notify.Mailer{
		Client:  &http.Client{Timeout: 10 * time.Second},
		BaseURL: a.cfg.MailAPIURL,
		APIKey:  a.cfg.MailAPIKey,
		From:    a.cfg.MailFrom,
		ReplyTo: a.cfg.MailReplyTo,
	}
	if a.cfg.MailAPIKey == "" {
		a.log.Warn("MAIL_API_KEY not set, notifications are dropped")
	}
	delivery := notify.WithMetrics(mailer)

	if a.cfg.RabbitURL == "" {
		a.notifier = delivery
		return nil
	}

	conn, err := amqp.Dial(a.cfg.RabbitURL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	a.closers = append(a.closers, conn.Close)

	pubCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	pub, err := notify.NewQueuePublisher(pubCh)
	if err != nil {
		return err
	}
	consCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	a.consumer = notify.NewRouter(consCh)
	a.consumer.Register(notify.QueueName, notify.DeliverTo(delivery))
	a.notifier = pub
	return nil
}

func (a *app) initServices() {
	cfg := a.cfg
	partner := &fulfillment.HTTPPartnerClient{
		Client:  &http.Client{Timeout: cfg.PartnerTimeout},
		BaseURL: cfg.PartnerAPIURL,
		APIKey:  cfg.PartnerAPIKey,
	}
	payments := &payment.HTTPClient{
		Client:    &http.Client{Timeout: 15 * time.Second},
		BaseURL:   cfg.PaymentAPIURL,
		SecretKey: cfg.PaymentSecretKey,
	}

	a.admins = admin.NewService(a.store, []byte(cfg.JWTSecret), cfg.JWTTTL)
	a.catalog = catalog.NewService(a.store)
	a.checkout = checkout.NewService(a.store, payments)
	a.orders = order.NewService(a.store)
	a.submitter = fulfillment.NewSubmitter(a.store, partner, cfg.SubmitConfig())
	a.tracker = fulfillment.NewTracker(a.store, partner, a.notifier)
	a.bridge = payment.NewBridge(a.store, a.locker, a.notifier, a.submitter)
	a.poller = fulfillment.NewPoller(cfg.PollerConfig(), a.store, a.tracker, a.locker)
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
