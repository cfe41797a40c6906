package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digistore1/digistore-backend/api/controllers"
	webhookcontrollers "github.com/digistore1/digistore-backend/api/controllers/webhooks"
	"github.com/digistore1/digistore-backend/api/middleware"
	checkoutsvc "github.com/digistore1/digistore-backend/internal/checkout"
	"github.com/digistore1/digistore-backend/internal/coupons"
	"github.com/digistore1/digistore-backend/internal/customers"
	"github.com/digistore1/digistore-backend/internal/downloads"
	"github.com/digistore1/digistore-backend/internal/giftcards"
	"github.com/digistore1/digistore-backend/internal/incidents"
	"github.com/digistore1/digistore-backend/internal/orders"
	"github.com/digistore1/digistore-backend/internal/referrals"
	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/db"
	"github.com/digistore1/digistore-backend/pkg/enums"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

type redisStore interface {
	middleware.ResponseStore
	db.Pinger
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Dependencies carries everything the HTTP surface calls into.
type Dependencies struct {
	Config *config.Config
	Logger *logger.Logger
	DB     db.Pinger
	Redis  redisStore
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	Checkout  checkoutsvc.Service
	Orders    orders.Service
	Coupons   coupons.Service
	Qualifier customers.Qualifier
	GiftCards giftcards.Service
	Referrals referrals.Service
	Downloads downloads.Service
	Incidents incidents.Service

	StripeWebhook      webhookcontrollers.StripeWebhookService
	StripeVerifier     webhookcontrollers.StripeVerifier
	StripeWebhookGuard webhookcontrollers.Guard
	SquareWebhook      webhookcontrollers.SquareWebhookService
	SquareVerifier     webhookcontrollers.SquareVerifier
	SquareWebhookGuard webhookcontrollers.Guard
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	codeLookupPolicy := middleware.NewRateLimitPolicy(
		"code-lookup",
		cfg.RateLimit.CodeLookupWindow,
		cfg.RateLimit.CodeLookupLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg,
			controllers.Dependency{Name: "db", Pinger: deps.DB},
			controllers.Dependency{Name: "redis", Pinger: deps.Redis},
		))
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		if deps.StripeWebhook != nil {
			r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeVerifier, deps.StripeWebhookGuard, logg))
		}
		if deps.SquareWebhook != nil {
			r.Post("/square", webhookcontrollers.SquareWebhook(deps.SquareWebhook, deps.SquareVerifier, deps.SquareWebhookGuard, logg))
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", controllers.CheckoutQuote(deps.Checkout, logg))
			r.Get("/{sessionId}", controllers.CheckoutSession(deps.Checkout, logg))
			r.Post("/{sessionId}/capture", controllers.CheckoutCapture(deps.Checkout, logg))
		})
		r.Get("/orders/{orderId}", controllers.OrderDetail(deps.Orders, logg))
		r.With(middleware.RateLimit(codeLookupPolicy, deps.Redis, logg)).Post("/coupons/validate", controllers.CouponValidate(deps.Coupons, logg))
		r.Route("/gift-cards", func(r chi.Router) {
			r.Post("/", controllers.GiftCardPurchase(deps.GiftCards, logg))
			r.With(middleware.RateLimit(codeLookupPolicy, deps.Redis, logg)).Get("/{code}", controllers.GiftCardBalance(deps.GiftCards, logg))
		})
		r.Get("/customers/first-purchase", controllers.FirstPurchaseEligibility(deps.Qualifier, logg))
		r.Post("/referrals/{code}/click", controllers.ReferralClick(deps.Referrals, logg))
		r.Get("/downloads/{token}", controllers.DownloadRedeem(deps.Downloads, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
		r.Get("/settlement-incidents", controllers.AdminIncidentList(deps.Incidents, logg))
		r.Post("/settlement-incidents/{id}/resolve", controllers.AdminIncidentResolve(deps.Incidents, logg))
	})

	return r
}
