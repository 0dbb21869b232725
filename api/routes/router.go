package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hirohirohiro3/marche-app-sub000/api/controllers"
	ordercontrollers "github.com/hirohirohiro3/marche-app-sub000/api/controllers/orders"
	webhookcontrollers "github.com/hirohirohiro3/marche-app-sub000/api/controllers/webhooks"
	"github.com/hirohirohiro3/marche-app-sub000/api/middleware"
	checkoutsvc "github.com/hirohirohiro3/marche-app-sub000/internal/checkout"
	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/internal/payments"
	"github.com/hirohirohiro3/marche-app-sub000/internal/periods"
	"github.com/hirohirohiro3/marche-app-sub000/internal/receipts"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/config"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/redis"
)

// Deps carries everything the HTTP surface calls into. Payment provider
// fields stay nil when the provider is not configured.
type Deps struct {
	DB    controllers.Pinger
	Redis redis.Store

	Checkout checkoutsvc.Service
	Orders   orders.Service
	Periods  periods.Service
	Receipts receipts.Service
	Payments payments.Service
	Stores   controllers.StoreReader
	Streamer ordercontrollers.Streamer

	StripeWebhook  webhookcontrollers.StripeWebhookService
	StripeVerifier webhookcontrollers.StripeVerifier
	StripeGuard    webhookcontrollers.WebhookGuard
	SquareWebhook  webhookcontrollers.SquareWebhookService
	SquareVerifier webhookcontrollers.SquareVerifier
	SquareGuard    webhookcontrollers.WebhookGuard

	Metrics http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.RateLimit.CheckoutWindow,
		cfg.RateLimit.CheckoutIPLimit,
		0,
	)
	receiptPolicy := middleware.NewRateLimitPolicy(
		"receipt",
		cfg.RateLimit.ReceiptWindow,
		cfg.RateLimit.ReceiptIPLimit,
		cfg.RateLimit.ReceiptEmailLimit,
	)
	idempotent := middleware.Idempotency(deps.Redis, middleware.DefaultIdempotencyTTL, logg)
	orderIdempotent := middleware.Idempotency(deps.Redis, middleware.OrderIdempotencyTTL, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeVerifier, deps.StripeGuard, logg))
		r.Post("/square", webhookcontrollers.SquareWebhook(deps.SquareWebhook, deps.SquareVerifier, deps.SquareGuard, logg))
	})

	// Customer surface: no staff token, reached from the QR ordering page.
	r.Route("/api/v1/orders/{orderId}", func(r chi.Router) {
		r.Get("/", ordercontrollers.Detail(deps.Orders, logg))
		r.Get("/stream", ordercontrollers.StreamOrder(deps.Streamer, deps.Orders, logg))
		r.With(idempotent).Post("/payment-intent", controllers.PaymentIntent(deps.Payments, logg))
		r.With(middleware.RateLimit(receiptPolicy, deps.Redis, logg), idempotent).
			Post("/receipt", controllers.Receipt(deps.Receipts, logg))
	})

	r.Route("/api/v1/stores/{storeId}", func(r chi.Router) {
		r.Get("/", controllers.StoreProfile(deps.Stores, logg))
		r.With(middleware.RateLimit(checkoutPolicy, deps.Redis, logg), orderIdempotent).
			Post("/orders", controllers.Checkout(deps.Checkout, logg))

		// Staff dashboard.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.StoreScope("storeId", logg))

			r.Get("/orders", ordercontrollers.List(deps.Orders, logg))
			r.Get("/orders/stream", ordercontrollers.StreamStore(deps.Streamer, deps.Orders, logg))
			r.Get("/orders/history", ordercontrollers.History(deps.Orders, logg))
			r.Patch("/orders/{orderId}/status", ordercontrollers.ChangeStatus(deps.Orders, logg))
			r.Get("/sales", ordercontrollers.Sales(deps.Orders, logg))
			r.With(orderIdempotent).Post("/walkup-orders", controllers.WalkupOrder(deps.Checkout, logg))
			r.Get("/counters", controllers.PeriodCounters(deps.Periods, logg))
			r.Post("/reset", controllers.ResetPeriod(deps.Periods, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.StaffRoleOwner))
				r.Post("/events/start", controllers.StartEvent(deps.Periods, logg))
				r.Post("/events/end", controllers.EndEvent(deps.Periods, logg))
			})
		})
	})

	return r
}
