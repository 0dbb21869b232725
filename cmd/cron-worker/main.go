package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/hirohirohiro3/marche-app-sub000/internal/cron"
	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/internal/periods"
	"github.com/hirohirohiro3/marche-app-sub000/internal/realtime"
	"github.com/hirohirohiro3/marche-app-sub000/internal/sequence"
	"github.com/hirohirohiro3/marche-app-sub000/internal/stores"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/config"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/instance"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/metrics"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/migrate"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()
	if err := run(*once); err != nil {
		os.Exit(1)
	}
}

func run(once bool) (err error) {
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

	orderMetrics := metrics.NewOrderMetrics(prometheus.DefaultRegisterer)
	broker, err := realtime.NewBroker(redisClient, logg)
	if err != nil {
		logg.Error(ctx, "failed to create realtime broker", err)
		return err
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	storeRepo := stores.NewRepository(dbClient.DB())
	periodSvc, err := periods.NewService(periods.Deps{
		Tx:        dbClient,
		Orders:    orders.NewRepository(dbClient.DB()),
		Stores:    storeRepo,
		Allocator: sequence.NewAllocator(),
		Outbox:    outbox.NewService(outboxRepo, logg),
		Notifier:  broker,
		Recorder:  orderMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create period service", err)
		return err
	}

	registry := cron.NewRegistry()
	if cfg.Cron.AutoClose {
		autoClose, err := cron.NewAutoCloseJob(cron.AutoCloseJobParams{Logger: logg, Stores: storeRepo, Periods: periodSvc})
		if err != nil {
			logg.Error(ctx, "failed to create auto-close job", err)
			return err
		}
		registry.Register(autoClose)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		Repository:    outboxRepo,
		RetentionDays: cfg.Outbox.RetentionDays,
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox retention job", err)
		return err
	}
	registry.Register(retention)

	lock, err := cron.NewRedisLock(redisClient, cron.LockKey+":"+cfg.App.Env, cfg.Cron.Interval)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		return err
	}

	if once {
		logg.Info(ctx, "running single cron cycle")
		return service.RunOnce(ctx)
	}

	metrics.Serve(ctx, cfg.App.MetricsAddr, logg)
	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}
