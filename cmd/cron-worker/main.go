package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/digistore1/digistore-backend/internal/app"
	"github.com/digistore1/digistore-backend/internal/cron"
	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/db"
	"github.com/digistore1/digistore-backend/pkg/instance"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/metrics"
	"github.com/digistore1/digistore-backend/pkg/migrate"
	"github.com/digistore1/digistore-backend/pkg/outbox"
	"github.com/digistore1/digistore-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	boot := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		boot.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		boot.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.GetID(),
		"serviceKind": serviceKind,
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeLogged(logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeLogged(logg, "redis", redisClient.Close)

	svcs, err := app.Build(ctx, app.Params{
		Config:     cfg,
		DB:         dbClient,
		Logger:     logg,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	jobMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	registry, err := schedule(cfg.Cron, logg, jobMetrics, svcs, dbClient)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(redisClient, lockPrefix(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  jobMetrics,
		Tick:     cfg.Cron.Tick,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener failed", err)
		}
	}()

	logg.Info(ctx, "starting cron worker")
	return service.Run(ctx)
}

// schedule builds every job with its cadence.
func schedule(cfg config.CronConfig, logg *logger.Logger, jobMetrics *metrics.CronJobMetrics, svcs *app.Services, dbClient *db.Client) (*cron.Registry, error) {
	reconcile, err := cron.NewCheckoutReconcileJob(cron.CheckoutReconcileJobParams{
		Logger:     logg,
		Checkout:   svcs.Checkout,
		Metrics:    jobMetrics,
		StaleAfter: cfg.ReconcileAfter,
		Limit:      cfg.BatchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout reconcile job: %w", err)
	}
	expiry, err := cron.NewGiftCardExpiryJob(cron.GiftCardExpiryJobParams{
		Logger:    logg,
		GiftCards: svcs.GiftCards,
		Metrics:   jobMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("gift card expiry job: %w", err)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: svcs.OutboxRepo,
		Parked:     outbox.NewDLQRepository(dbClient.DB()),
		Retention:  cfg.OutboxRetention,
		BatchSize:  cfg.RetentionBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	registry := cron.NewRegistry()
	for _, s := range []struct {
		job   cron.Job
		every time.Duration
	}{
		{reconcile, cfg.ReconcileEvery},
		{expiry, cfg.ExpiryEvery},
		{retention, cfg.RetentionEvery},
	} {
		registry.Register(s.job, s.every)
	}
	return registry, nil
}

func lockPrefix(env string) string {
	if env == "" {
		env = "local"
	}
	return "ds:" + serviceKind + ":lock:" + env
}

func closeLogged(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}
