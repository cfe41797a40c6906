package cron

import (
	"context"
	"fmt"

	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/metrics"
)

const defaultExpiryBatch = 500

type giftCardExpirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

type GiftCardExpiryJobParams struct {
	Logger    *logger.Logger
	GiftCards giftCardExpirer
	Metrics   *metrics.CronJobMetrics
	Limit     int
}

// NewGiftCardExpiryJob marks cards past expires_at as EXPIRED in batches.
func NewGiftCardExpiryJob(params GiftCardExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.GiftCards == nil {
		return nil, fmt.Errorf("gift card service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultExpiryBatch
	}
	return &giftCardExpiryJob{
		logg:    params.Logger,
		svc:     params.GiftCards,
		metrics: params.Metrics,
		limit:   limit,
	}, nil
}

type giftCardExpiryJob struct {
	logg    *logger.Logger
	svc     giftCardExpirer
	metrics *metrics.CronJobMetrics
	limit   int
}

func (j *giftCardExpiryJob) Name() string { return "gift-card-expiry" }

func (j *giftCardExpiryJob) Run(ctx context.Context) error {
	total := 0
	for {
		n, err := j.svc.ExpireDue(ctx, j.limit)
		total += n
		if err != nil {
			return fmt.Errorf("gift card expiry: %w", err)
		}
		if n < j.limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	j.metrics.AddProcessed(j.Name(), total)
	j.logg.Info(j.logg.WithField(ctx, "expired", total), "gift card expiry complete")
	return nil
}
