package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/digistore1/digistore-backend/api/routes"
	"github.com/digistore1/digistore-backend/internal/app"
	"github.com/digistore1/digistore-backend/internal/webhooks"
	squarewebhook "github.com/digistore1/digistore-backend/internal/webhooks/square"
	stripewebhook "github.com/digistore1/digistore-backend/internal/webhooks/stripe"
	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/db"
	"github.com/digistore1/digistore-backend/pkg/instance"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/migrate"
	"github.com/digistore1/digistore-backend/pkg/redis"
)

const (
	serviceKind     = "api"
	shutdownTimeout = 15 * time.Second
)

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
		"env":      cfg.App.Env,
		"instance": instance.GetID(),
		"provider": cfg.Payments.Name(),
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down")
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

	deps := routes.Dependencies{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient,
		Redis:     redisClient,
		Checkout:  svcs.Checkout,
		Orders:    svcs.Orders,
		Coupons:   svcs.Coupons,
		Qualifier: svcs.Qualifier,
		GiftCards: svcs.GiftCards,
		Referrals: svcs.Referrals,
		Downloads: svcs.Downloads,
		Incidents: svcs.Incidents,
	}
	if err := wireWebhooks(&deps, svcs, redisClient, cfg.Payments.WebhookTTL); err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx = logg.WithField(ctx, "addr", server.Addr)

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// wireWebhooks mounts the endpoint of whichever provider app.Build selected,
// each with its own event-id guard scope.
func wireWebhooks(deps *routes.Dependencies, svcs *app.Services, store redis.IdempotencyStore, ttl time.Duration) error {
	if svcs.Stripe != nil {
		handler, err := stripewebhook.NewService(stripewebhook.ServiceParams{Dispatcher: svcs.Dispatcher})
		if err != nil {
			return fmt.Errorf("stripe webhook service: %w", err)
		}
		guard, err := webhooks.NewIdempotencyGuard(store, ttl, "stripe-webhook")
		if err != nil {
			return fmt.Errorf("stripe webhook guard: %w", err)
		}
		deps.StripeWebhook, deps.StripeVerifier, deps.StripeWebhookGuard = handler, svcs.Stripe, guard
	}
	if svcs.Square != nil {
		handler, err := squarewebhook.NewService(squarewebhook.ServiceParams{Dispatcher: svcs.Dispatcher})
		if err != nil {
			return fmt.Errorf("square webhook service: %w", err)
		}
		guard, err := webhooks.NewIdempotencyGuard(store, ttl, "square-webhook")
		if err != nil {
			return fmt.Errorf("square webhook guard: %w", err)
		}
		deps.SquareWebhook, deps.SquareVerifier, deps.SquareWebhookGuard = handler, svcs.Square, guard
	}
	return nil
}

func closeLogged(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(context.Background(), "error closing "+name, err)
	}
}
