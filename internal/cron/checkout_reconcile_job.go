package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/digistore1/digistore-backend/internal/checkout"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/metrics"
)

type checkoutReconciler interface {
	Reconcile(ctx context.Context, input checkout.ReconcileInput) (*checkout.ReconcileReport, error)
}

type CheckoutReconcileJobParams struct {
	Logger     *logger.Logger
	Checkout   checkoutReconciler
	Metrics    *metrics.CronJobMetrics
	StaleAfter time.Duration
	Limit      int
}

// NewCheckoutReconcileJob drives sessions whose capture or settlement stalled.
func NewCheckoutReconcileJob(params CheckoutReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Checkout == nil {
		return nil, fmt.Errorf("checkout service required")
	}
	return &checkoutReconcileJob{
		logg:    params.Logger,
		svc:     params.Checkout,
		metrics: params.Metrics,
		input: checkout.ReconcileInput{
			StaleAfter: params.StaleAfter,
			Limit:      params.Limit,
		},
	}, nil
}

type checkoutReconcileJob struct {
	logg    *logger.Logger
	svc     checkoutReconciler
	metrics *metrics.CronJobMetrics
	input   checkout.ReconcileInput
}

func (j *checkoutReconcileJob) Name() string { return "checkout-reconcile" }

func (j *checkoutReconcileJob) Run(ctx context.Context) error {
	report, err := j.svc.Reconcile(ctx, j.input)
	if report != nil {
		j.metrics.AddProcessed(j.Name(), report.Settled+report.Failed+report.Expired)
	}
	if err != nil {
		return fmt.Errorf("checkout reconcile: %w", err)
	}
	return nil
}
