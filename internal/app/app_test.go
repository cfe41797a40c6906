package app

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digistore1/digistore-backend/internal/payments/paymentstest"
	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/db/dbtest"
)

func TestBuildWiresEveryService(t *testing.T) {
	client := dbtest.Open(t)
	cfg := &config.Config{
		Payments: config.PaymentsConfig{Provider: config.PaymentProviderStripe},
		Checkout: config.CheckoutConfig{Currency: "USD", PlatformFeeRate: "0.15", ReferralCommissionRate: "0.10"},
	}

	svcs, err := Build(context.Background(), Params{
		Config:     cfg,
		DB:         client,
		Registerer: prometheus.NewRegistry(),
		Gateway:    paymentstest.New(),
	})
	require.NoError(t, err)

	assert.NotNil(t, svcs.Checkout)
	assert.NotNil(t, svcs.Orders)
	assert.NotNil(t, svcs.Coupons)
	assert.NotNil(t, svcs.Qualifier)
	assert.NotNil(t, svcs.GiftCards)
	assert.NotNil(t, svcs.Referrals)
	assert.NotNil(t, svcs.Downloads)
	assert.NotNil(t, svcs.Incidents)
	assert.NotNil(t, svcs.Dispatcher)
	assert.NotNil(t, svcs.OutboxRepo)
	assert.Nil(t, svcs.Stripe)
	assert.Nil(t, svcs.Square)
}

func TestBuildRequiresConfigAndDB(t *testing.T) {
	_, err := Build(context.Background(), Params{})
	require.Error(t, err)

	_, err = Build(context.Background(), Params{Config: &config.Config{}})
	require.Error(t, err)
}

func TestNewGatewayRejectsUnknownProvider(t *testing.T) {
	cfg := &config.Config{Payments: config.PaymentsConfig{Provider: "paypal"}}
	_, _, _, err := NewGateway(context.Background(), cfg, nil)
	require.Error(t, err)
}
