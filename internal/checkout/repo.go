package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
)

// Repository persists checkout sessions. Status only moves through Transition.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.CheckoutSession) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	FindByIntentRef(ctx context.Context, ref string) (*models.CheckoutSession, error)
	Lock(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	Transition(ctx context.Context, id uuid.UUID, from []enums.CheckoutSessionStatus, to enums.CheckoutSessionStatus, fields map[string]any) (bool, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, now time.Time) error
	ListByStatus(ctx context.Context, status enums.CheckoutSessionStatus, updatedBefore time.Time, limit int) ([]models.CheckoutSession, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, session *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIntentRef(ctx context.Context, ref string) (*models.CheckoutSession, error) {
	if ref == "" {
		return nil, nil
	}
	return r.first(r.db.WithContext(ctx).Where("intent_ref = ?", ref))
}

// Lock re-reads the session with a row lock on postgres.
func (r *repository) Lock(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	query := r.db.WithContext(ctx)
	if query.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.first(query.Where("id = ?", id))
}

// first returns nil, nil when nothing matches.
func (r *repository) first(query *gorm.DB) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := query.First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Transition moves the session to status `to` only if it is currently in one
// of `from`. False means another writer moved it first.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from []enums.CheckoutSessionStatus, to enums.CheckoutSessionStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for key, value := range fields {
		updates[key] = value
	}
	res := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) RecordAttempt(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"capture_attempts": gorm.Expr("capture_attempts + 1"),
			"last_attempt_at":  now,
			"updated_at":       now,
		}).Error
}

// ListByStatus returns sessions in status that have not been touched since updatedBefore, oldest first.
func (r *repository) ListByStatus(ctx context.Context, status enums.CheckoutSessionStatus, updatedBefore time.Time, limit int) ([]models.CheckoutSession, error) {
	var rows []models.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
