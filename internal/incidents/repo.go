package incidents

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	"github.com/digistore1/digistore-backend/pkg/pagination"
)

// Repository persists settlement incidents.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, incident *models.SettlementIncident) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SettlementIncident, error)
	List(ctx context.Context, status enums.IncidentStatus, limit int, cursor *pagination.Cursor) ([]models.SettlementIncident, error)
	Resolve(ctx context.Context, id, resolvedBy uuid.UUID, note string, now time.Time) (bool, error)
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

func (r *repository) Create(ctx context.Context, incident *models.SettlementIncident) error {
	return r.db.WithContext(ctx).Create(incident).Error
}

// FindByID returns nil, nil when the incident does not exist.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SettlementIncident, error) {
	var incident models.SettlementIncident
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&incident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// List pages newest first. limit should already include the look-ahead row.
func (r *repository) List(ctx context.Context, status enums.IncidentStatus, limit int, cursor *pagination.Cursor) ([]models.SettlementIncident, error) {
	query := r.db.WithContext(ctx).Model(&models.SettlementIncident{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.SettlementIncident
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Resolve closes an OPEN incident. False means it was already resolved.
func (r *repository) Resolve(ctx context.Context, id, resolvedBy uuid.UUID, note string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SettlementIncident{}).
		Where("id = ? AND status = ?", id, enums.IncidentStatusOpen).
		Updates(map[string]any{
			"status":          enums.IncidentStatusResolved,
			"resolved_by":     resolvedBy,
			"resolution_note": note,
			"resolved_at":     now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
