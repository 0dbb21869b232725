package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/hirohirohiro3/marche-app-sub000/api/routes"
	checkoutsvc "github.com/hirohirohiro3/marche-app-sub000/internal/checkout"
	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/internal/payments"
	"github.com/hirohirohiro3/marche-app-sub000/internal/periods"
	"github.com/hirohirohiro3/marche-app-sub000/internal/realtime"
	"github.com/hirohirohiro3/marche-app-sub000/internal/receipts"
	"github.com/hirohirohiro3/marche-app-sub000/internal/sequence"
	"github.com/hirohirohiro3/marche-app-sub000/internal/stores"
	"github.com/hirohirohiro3/marche-app-sub000/internal/webhooks"
	squarewebhook "github.com/hirohirohiro3/marche-app-sub000/internal/webhooks/square"
	stripewebhook "github.com/hirohirohiro3/marche-app-sub000/internal/webhooks/stripe"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/config"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/instance"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/metrics"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/migrate"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/redis"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/square"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/stripe"
)

const (
	serviceKind     = "api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() (err error) {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if loadErr := godotenv.Load(); loadErr != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		return err
	}
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": addr, "instance": instance.ID()})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	deps, err := buildDeps(ctx, cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(ctx, "failed to wire api dependencies", err)
		return err
	}

	// No write timeout: order streams stay open for as long as the client listens.
	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
		return err
	}
	logg.Info(ctx, "api server shut down gracefully")
	return nil
}

func buildDeps(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (routes.Deps, error) {
	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)
	orderRepo := orders.NewRepository(dbClient.DB())
	storeRepo := stores.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	allocator := sequence.NewAllocator()

	broker, err := realtime.NewBroker(redisClient, logg)
	if err != nil {
		return routes.Deps{}, err
	}

	checkout, err := checkoutsvc.NewService(checkoutsvc.Deps{
		Tx:        dbClient,
		Allocator: allocator,
		Orders:    orderRepo,
		Stores:    storeRepo,
		Outbox:    emitter,
		Notifier:  broker,
		Recorder:  orderMetrics,
		Logger:    logg,
	}, checkoutsvc.Config{MaxAttempts: cfg.Checkout.MaxRetries, Backoff: cfg.Checkout.RetryBackoff})
	if err != nil {
		return routes.Deps{}, err
	}

	orderSvc, err := orders.NewService(orderRepo, dbClient, emitter, logg,
		orders.WithNotifier(broker),
		orders.WithRecorder(orderMetrics),
	)
	if err != nil {
		return routes.Deps{}, err
	}

	periodSvc, err := periods.NewService(periods.Deps{
		Tx:        dbClient,
		Orders:    orderRepo,
		Stores:    storeRepo,
		Allocator: allocator,
		Outbox:    emitter,
		Notifier:  broker,
		Recorder:  orderMetrics,
		Logger:    logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	receiptSvc, err := receipts.NewService(orderRepo, storeRepo, dbClient, emitter, logg)
	if err != nil {
		return routes.Deps{}, err
	}

	deps := routes.Deps{
		DB:       dbClient,
		Redis:    redisClient,
		Checkout: checkout,
		Orders:   orderSvc,
		Periods:  periodSvc,
		Receipts: receiptSvc,
		Stores:   storeRepo,
		Streamer: broker,
		Metrics:  promhttp.Handler(),
	}

	// Providers are optional; their routes answer with an error until configured.
	if cfg.Stripe.Enabled() {
		stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return routes.Deps{}, err
		}
		paymentSvc, err := payments.NewService(orderRepo, storeRepo, stripeClient, payments.Config{
			Currency: cfg.Stripe.Currency,
			FeeRate:  cfg.Stripe.FeeRate(),
		}, logg)
		if err != nil {
			return routes.Deps{}, err
		}
		reconciler, err := webhooks.NewReconciler(enums.PaymentProviderStripe, orderSvc, orderMetrics, logg)
		if err != nil {
			return routes.Deps{}, err
		}
		webhookSvc, err := stripewebhook.NewService(reconciler)
		if err != nil {
			return routes.Deps{}, err
		}
		guard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "stripe-webhook")
		if err != nil {
			return routes.Deps{}, err
		}
		deps.Payments = paymentSvc
		deps.StripeWebhook = webhookSvc
		deps.StripeVerifier = stripeClient
		deps.StripeGuard = guard
	} else {
		logg.Warn(ctx, "stripe not configured; payment intents and stripe webhooks disabled")
	}

	if cfg.Square.Enabled() {
		squareClient, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return routes.Deps{}, err
		}
		reconciler, err := webhooks.NewReconciler(enums.PaymentProviderSquare, orderSvc, orderMetrics, logg)
		if err != nil {
			return routes.Deps{}, err
		}
		webhookSvc, err := squarewebhook.NewService(reconciler, squareClient)
		if err != nil {
			return routes.Deps{}, err
		}
		guard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "square-webhook")
		if err != nil {
			return routes.Deps{}, err
		}
		deps.SquareWebhook = webhookSvc
		deps.SquareVerifier = squareClient
		deps.SquareGuard = guard
	} else if strings.TrimSpace(cfg.Square.AccessToken) != "" {
		logg.Warn(ctx, "square access token set without webhook signature key or notification url; square webhooks disabled")
	} else {
		logg.Warn(ctx, "square not configured; square webhooks disabled")
	}

	return deps, nil
}
