package router

import (
	"github.com/antonminaichev/tstore/internal/admin"
	"github.com/antonminaichev/tstore/internal/catalog"
	"github.com/antonminaichev/tstore/internal/checkout"
	"github.com/antonminaichev/tstore/internal/fulfillment"
	"github.com/antonminaichev/tstore/internal/logger"
	"github.com/antonminaichev/tstore/internal/metrics"
	"github.com/antonminaichev/tstore/internal/middleware"
	"github.com/antonminaichev/tstore/internal/order"
	"github.com/antonminaichev/tstore/internal/payment"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

type Handlers struct {
	Admin       *admin.Handler
	Checkout    *checkout.Handler
	Payment     *payment.Handler
	Catalog     *catalog.Handler
	Orders      *order.Handler
	Fulfillment *fulfillment.Handler
}

func NewRouter(h Handlers, jwtSecret []byte, admins middleware.AdminFinder) chi.Router {
	r := chi.NewRouter()

	r.Use(logger.WithLogging)
	r.Use(chiMiddleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Handle("/metrics", metrics.Handler())

	// подпись считается по сырому телу, gzip сюда не пускаем
	r.Post("/api/payments/webhook", h.Payment.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.GzipHandler)

		r.Post("/api/orders/checkout", h.Checkout.Checkout)
		r.Get("/api/shipping/eligibility", h.Checkout.Eligibility)
		r.Post("/api/admin/login", h.Admin.Login)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.JWTMiddleware(jwtSecret, admins))

			r.Mount("/", adminRoutes(h))
		})
	})

	return r
}

// adminRoutes merges the admin sub-routers into one: orders and fulfillment
// share the /orders prefix, so they cannot be mounted side by side.
func adminRoutes(h Handlers) chi.Router {
	r := chi.NewRouter()
	for _, sub := range []chi.Router{h.Catalog.Routes(), h.Orders.Routes(), h.Fulfillment.Routes()} {
		for _, rt := range sub.Routes() {
			for method, handler := range rt.Handlers {
				r.Method(method, rt.Pattern, handler)
			}
		}
	}
	return r
}
