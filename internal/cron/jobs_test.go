package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digistore1/digistore-backend/internal/checkout"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/metrics"
)

type fakeReconciler struct {
	input  checkout.ReconcileInput
	report *checkout.ReconcileReport
	err    error
}

func (f *fakeReconciler) Reconcile(_ context.Context, input checkout.ReconcileInput) (*checkout.ReconcileReport, error) {
	f.input = input
	return f.report, f.err
}

func TestCheckoutReconcileJobPassesBounds(t *testing.T) {
	svc := &fakeReconciler{report: &checkout.ReconcileReport{Settled: 2, Expired: 1}}
	job, err := NewCheckoutReconcileJob(CheckoutReconcileJobParams{
		Logger:     logger.Nop(),
		Checkout:   svc,
		Metrics:    metrics.NewCronJobMetrics(prometheus.NewRegistry()),
		StaleAfter: 2 * time.Minute,
		Limit:      25,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "checkout-reconcile", job.Name())
	assert.Equal(t, 2*time.Minute, svc.input.StaleAfter)
	assert.Equal(t, 25, svc.input.Limit)
}

func TestCheckoutReconcileJobReturnsError(t *testing.T) {
	svc := &fakeReconciler{report: &checkout.ReconcileReport{}, err: errors.New("gateway down")}
	job, err := NewCheckoutReconcileJob(CheckoutReconcileJobParams{Logger: logger.Nop(), Checkout: svc})
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
}

type fakeExpirer struct {
	batches []int
	calls   int
	err     error
}

func (f *fakeExpirer) ExpireDue(_ context.Context, limit int) (int, error) {
	if f.calls >= len(f.batches) {
		return 0, f.err
	}
	n := f.batches[f.calls]
	f.calls++
	return n, nil
}

func TestGiftCardExpiryJobDrainsFullBatches(t *testing.T) {
	svc := &fakeExpirer{batches: []int{10, 10, 3}}
	job, err := NewGiftCardExpiryJob(GiftCardExpiryJobParams{Logger: logger.Nop(), GiftCards: svc, Limit: 10})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, svc.calls)
}

func TestGiftCardExpiryJobStopsOnError(t *testing.T) {
	svc := &fakeExpirer{err: errors.New("db down")}
	job, err := NewGiftCardExpiryJob(GiftCardExpiryJobParams{Logger: logger.Nop(), GiftCards: svc})
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
}

func TestJobConstructorsRequireDependencies(t *testing.T) {
	_, err := NewCheckoutReconcileJob(CheckoutReconcileJobParams{Logger: logger.Nop()})
	require.Error(t, err)
	_, err = NewGiftCardExpiryJob(GiftCardExpiryJobParams{Logger: logger.Nop()})
	require.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop()})
	require.Error(t, err)
}
