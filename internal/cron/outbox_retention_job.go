package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/enums"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultRetentionBatch  = 1000
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	// Parked reports the dead-letter backlog after each cleanup. Optional.
	Parked    parkedCounter
	Retention time.Duration
	// BatchSize bounds the rows removed per transaction.
	BatchSize int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type parkedCounter interface {
	CountByEventType(ctx context.Context) (map[enums.OutboxEventType]int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		parked:    params.Parked,
		retention: params.Retention,
		batch:     params.BatchSize,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.batch <= 0 {
		job.batch = defaultRetentionBatch
	}
	return job, nil
}

// outboxRetentionJob prunes delivered outbox rows older than the retention
// window. Unpublished and parked rows are never touched.
type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      outboxRetentionRepo
	parked    parkedCounter
	retention time.Duration
	batch     int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	batches := 0
	for {
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = j.repo.DeletePublishedBefore(tx, cutoff, j.batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention after %d rows: %w", total, err)
		}
		total += n
		batches++
		if n < int64(j.batch) {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
		"batches":      batches,
	}), "outbox retention cleanup complete")
	j.reportParked(ctx)
	return nil
}

// reportParked warns while any event sits in the dead-letter table.
func (j *outboxRetentionJob) reportParked(ctx context.Context) {
	if j.parked == nil {
		return
	}
	counts, err := j.parked.CountByEventType(ctx)
	if err != nil {
		j.logg.Error(ctx, "count parked outbox events", err)
		return
	}
	var total int64
	fields := make(map[string]any, len(counts)+1)
	for eventType, n := range counts {
		total += n
		fields["parked_"+string(eventType)] = n
	}
	if total == 0 {
		return
	}
	fields["parked_total"] = total
	j.logg.Warn(j.logg.WithFields(ctx, fields), "outbox events parked in dead letter table")
}
