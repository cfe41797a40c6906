package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gpubsub "cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/digistore1/digistore-backend/internal/analytics"
	"github.com/digistore1/digistore-backend/internal/notifications"
	"github.com/digistore1/digistore-backend/pkg/bigquery"
	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/instance"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/metrics"
	"github.com/digistore1/digistore-backend/pkg/outbox/idempotency"
	"github.com/digistore1/digistore-backend/pkg/pubsub"
	"github.com/digistore1/digistore-backend/pkg/redis"
)

const serviceKind = "worker"

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
		logg.Error(ctx, "worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeLogged(logg, "redis", redisClient.Close)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer closeLogged(logg, "pubsub", pubsubClient.Close)

	guard, err := idempotency.NewGuard(redisClient, cfg.Mail.Dedupe)
	if err != nil {
		return fmt.Errorf("idempotency guard: %w", err)
	}
	mailer, err := notifications.NewMailer(cfg.Mail, logg)
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	subscription := pubsubClient.Subscription(cfg.PubSub.NotificationSubscription)
	if subscription == nil {
		return errors.New("notification subscription not configured")
	}
	consumer, err := notifications.NewConsumer(notifications.ConsumerParams{
		Subscription: subscription,
		Mailer:       mailer,
		Guard:        guard,
		DownloadBase: cfg.Mail.DownloadBaseURL,
		SendTimeout:  cfg.Mail.Timeout,
		Logger:       logg,
	})
	if err != nil {
		return fmt.Errorf("notification consumer: %w", err)
	}

	params := ServiceParams{
		Config:   cfg,
		Logger:   logg,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		Consumer: consumer,
	}
	if cfg.BigQuery.Dataset != "" {
		bq, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			return fmt.Errorf("bootstrap bigquery: %w", err)
		}
		defer closeLogged(logg, "bigquery", bq.Close)

		var subs []*gpubsub.Subscriber
		for _, name := range cfg.PubSub.AnalyticsSubscriptionNames() {
			subs = append(subs, pubsubClient.Subscription(name))
		}
		params.Analytics, err = analytics.NewConsumer(analytics.ConsumerParams{
			Subscriptions: analytics.Subscriptions(subs...),
			Inserter:      bq,
			Table:         bq.Table(),
			Guard:         guard,
			Logger:        logg,
		})
		if err != nil {
			return fmt.Errorf("analytics consumer: %w", err)
		}
		params.AnalyticsBigQuery = bq
	}

	service, err := NewService(params)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.Service.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener failed", err)
		}
	}()

	logg.Info(ctx, "starting worker")
	return service.Run(ctx)
}

func closeLogged(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}
