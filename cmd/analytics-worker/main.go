package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/hirohirohiro3/marche-app-sub000/internal/analytics/router"
	"github.com/hirohirohiro3/marche-app-sub000/internal/analytics/worker"
	"github.com/hirohirohiro3/marche-app-sub000/internal/analytics/writer"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/bigquery"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/config"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/instance"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/metrics"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox/idempotency"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/pubsub"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/redis"
)

const (
	serviceKind  = "analytics-worker"
	flushTimeout = 10 * time.Second
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": serviceKind, "instance": instance.ID()})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		return err
	}
	defer func() { err = multierr.Append(err, pubsubClient.Close()) }()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap bigquery", err)
		return err
	}
	defer func() { err = multierr.Append(err, bqClient.Close()) }()

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		return err
	}

	analyticsWriter, err := writer.New(bqClient, writer.Config{OrderEventsTable: cfg.BigQuery.OrderEventsTable})
	if err != nil {
		logg.Error(ctx, "failed to create bigquery writer", err)
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		err = multierr.Append(err, analyticsWriter.Flush(flushCtx))
	}()

	routingHandler, err := router.NewRouter(analyticsWriter, logg)
	if err != nil {
		logg.Error(ctx, "failed to create analytics router", err)
		return err
	}

	service, err := worker.NewService(pubsubClient.AnalyticsSubscription(), routingHandler, manager, logg)
	if err != nil {
		logg.Error(ctx, "failed to create analytics worker", err)
		return err
	}

	metrics.Serve(ctx, cfg.App.MetricsAddr, logg)
	logg.Info(ctx, "analytics worker ready")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "analytics worker stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, "analytics worker shutting down gracefully")
	return nil
}
