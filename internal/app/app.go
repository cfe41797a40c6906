package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/digistore1/digistore-backend/internal/catalog"
	"github.com/digistore1/digistore-backend/internal/checkout"
	"github.com/digistore1/digistore-backend/internal/coupons"
	"github.com/digistore1/digistore-backend/internal/customers"
	"github.com/digistore1/digistore-backend/internal/discounts"
	"github.com/digistore1/digistore-backend/internal/downloads"
	"github.com/digistore1/digistore-backend/internal/giftcards"
	"github.com/digistore1/digistore-backend/internal/incidents"
	"github.com/digistore1/digistore-backend/internal/ledger"
	"github.com/digistore1/digistore-backend/internal/orders"
	"github.com/digistore1/digistore-backend/internal/payments"
	"github.com/digistore1/digistore-backend/internal/referrals"
	"github.com/digistore1/digistore-backend/internal/vendors"
	"github.com/digistore1/digistore-backend/internal/webhooks"
	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/db"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/metrics"
	"github.com/digistore1/digistore-backend/pkg/outbox"
	"github.com/digistore1/digistore-backend/pkg/square"
	"github.com/digistore1/digistore-backend/pkg/storage/gcs"
	"github.com/digistore1/digistore-backend/pkg/stripe"
)

// Services is the domain graph shared by the api and cron binaries.
type Services struct {
	Checkout   checkout.Service
	Orders     orders.Service
	Coupons    coupons.Service
	Qualifier  customers.Qualifier
	GiftCards  giftcards.Service
	Referrals  referrals.Service
	Downloads  downloads.Service
	Incidents  incidents.Service
	Dispatcher *webhooks.Dispatcher
	OutboxRepo *outbox.Repository
	Gateway    payments.Adapter
	Stripe     *stripe.Client
	Square     *square.Client
}

type Params struct {
	Config     *config.Config
	DB         *db.Client
	Logger     *logger.Logger
	Registerer prometheus.Registerer
	// Gateway overrides the configured provider.
	Gateway payments.Adapter
}

// Build wires repositories and services against one database client.
func Build(ctx context.Context, params Params) (*Services, error) {
	if params.Config == nil {
		return nil, errors.New("config required")
	}
	if params.DB == nil {
		return nil, errors.New("db client required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	cfg := params.Config
	logg := params.Logger
	conn := params.DB.DB()
	out := &Services{}

	out.Gateway = params.Gateway
	if out.Gateway == nil {
		var err error
		out.Gateway, out.Stripe, out.Square, err = NewGateway(ctx, cfg, logg)
		if err != nil {
			return nil, err
		}
	}

	var signer *gcs.Client
	if cfg.Downloads.BucketName != "" {
		client, err := gcs.NewClient(ctx, cfg.Downloads, cfg.GCP, logg)
		if err != nil {
			return nil, fmt.Errorf("gcs signer: %w", err)
		}
		signer = client
	}

	settlementMetrics := metrics.NewSettlementMetrics(params.Registerer)

	lookup, err := catalog.NewService(catalog.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	qualifier, err := customers.NewQualifier(customers.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	couponRepo := coupons.NewRepository(conn)
	giftCardRepo := giftcards.NewRepository(conn)
	resolver, err := discounts.NewResolver(couponRepo, giftCardRepo, qualifier)
	if err != nil {
		return nil, err
	}
	var downloadSvc downloads.Service
	if signer != nil {
		downloadSvc, err = downloads.NewService(downloads.NewRepository(conn), signer, cfg.Downloads)
	} else {
		downloadSvc, err = downloads.NewService(downloads.NewRepository(conn), nil, cfg.Downloads)
	}
	if err != nil {
		return nil, err
	}
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	referralSvc, err := referrals.NewService(referrals.NewRepository(conn))
	if err != nil {
		return nil, err
	}
	out.OutboxRepo = outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(out.OutboxRepo, logg)
	incidentSvc, err := incidents.NewService(incidents.ServiceParams{
		Repo:    incidents.NewRepository(conn),
		Tx:      params.DB,
		Outbox:  outboxSvc,
		Metrics: settlementMetrics,
		Logger:  logg,
	})
	if err != nil {
		return nil, err
	}
	orderRepo := orders.NewRepository(conn)

	out.Checkout, err = checkout.NewService(checkout.ServiceParams{
		Tx:        params.DB,
		Sessions:  checkout.NewRepository(conn),
		Catalog:   lookup,
		Resolver:  resolver,
		Coupons:   couponRepo,
		GiftCards: giftCardRepo,
		Qualifier: qualifier,
		Vendors:   vendors.NewRepository(conn),
		Orders:    orderRepo,
		Referrals: referralSvc,
		Downloads: downloadSvc,
		Ledger:    ledgerSvc,
		Gateway:   out.Gateway,
		Outbox:    outboxSvc,
		Incidents: incidentSvc,
		Config:    cfg.Checkout,
		Metrics:   settlementMetrics,
		Logger:    logg,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	out.GiftCards, err = giftcards.NewService(giftcards.ServiceParams{
		Repo:     giftCardRepo,
		Tx:       params.DB,
		Gateway:  out.Gateway,
		Outbox:   outboxSvc,
		Config:   cfg.GiftCards,
		Currency: cfg.Checkout.Currency,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("gift card service: %w", err)
	}

	if out.Orders, err = orders.NewService(orderRepo); err != nil {
		return nil, err
	}
	if out.Coupons, err = coupons.NewService(couponRepo, qualifier); err != nil {
		return nil, err
	}
	if out.Dispatcher, err = webhooks.NewDispatcher(out.Checkout, out.GiftCards, logg); err != nil {
		return nil, err
	}
	out.Qualifier = qualifier
	out.Referrals = referralSvc
	out.Downloads = downloadSvc
	out.Incidents = incidentSvc
	return out, nil
}

// NewGateway builds the adapter for the configured provider. Only the client
// for that provider is returned.
func NewGateway(ctx context.Context, cfg *config.Config, logg *logger.Logger) (payments.Adapter, *stripe.Client, *square.Client, error) {
	switch cfg.Payments.Name() {
	case config.PaymentProviderStripe:
		client, err := stripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("stripe client: %w", err)
		}
		adapter, err := payments.NewStripeAdapter(client)
		if err != nil {
			return nil, nil, nil, err
		}
		return adapter, client, nil, nil
	case config.PaymentProviderSquare:
		client, err := square.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("square client: %w", err)
		}
		adapter, err := payments.NewSquareAdapter(client)
		if err != nil {
			return nil, nil, nil, err
		}
		return adapter, nil, client, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported payment provider %q", cfg.Payments.Provider)
	}
}
