package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/antonminaichev/tstore/internal/admin"
	"github.com/antonminaichev/tstore/internal/catalog"
	"github.com/antonminaichev/tstore/internal/checkout"
	"github.com/antonminaichev/tstore/internal/fulfillment"
	"github.com/antonminaichev/tstore/internal/order"
	"github.com/antonminaichev/tstore/internal/payment"
	"github.com/antonminaichev/tstore/internal/router"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the fulfillment poller and the event consumers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(true); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.log.Warn("failed to close dependencies", "err", err)
		}
	}()

	r := router.NewRouter(router.Handlers{
		Admin:       admin.NewHandler(a.admins),
		Checkout:    checkout.NewHandler(a.checkout),
		Payment:     payment.NewHandler(a.bridge, cfg.PaymentWebhookSecret, cfg.PaymentWebhookTolerance),
		Catalog:     catalog.NewHandler(a.catalog),
		Orders:      order.NewHandler(a.orders),
		Fulfillment: fulfillment.NewHandler(a.tracker, a.submitter),
	}, []byte(cfg.JWTSecret), a.store)

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.PollerEnabled {
		a.poller.Start(gctx)
		g.Go(func() error {
			<-gctx.Done()
			a.poller.Stop()
			return nil
		})
	}

	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(gctx) })
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		group, err := fulfillment.NewGroup(brokers, cfg.KafkaGroup)
		if err != nil {
			a.log.Error("kafka consumer disabled", "err", err)
		} else {
			consumer := fulfillment.NewEventConsumer(group, []string{cfg.KafkaStatusTopic}, a.tracker.HandleStatusEvent)
			g.Go(func() error {
				defer group.Close()
				// опрос партнёра продолжает работать и без kafka
				if err := consumer.Run(gctx); err != nil {
					a.log.Error("kafka consumer stopped", "err", err)
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("server stopped gracefully")
	return nil
}
