package downloads

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/db/models"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateMany(ctx context.Context, grants []models.DownloadGrant) error
	FindByToken(ctx context.Context, token string) (*models.DownloadGrant, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.DownloadGrant, error)
	Consume(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
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

func (r *repository) CreateMany(ctx context.Context, grants []models.DownloadGrant) error {
	if len(grants) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&grants).Error
}

func (r *repository) FindByToken(ctx context.Context, token string) (*models.DownloadGrant, error) {
	var grant models.DownloadGrant
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.DownloadGrant, error) {
	var grants []models.DownloadGrant
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

// Consume counts one download while the grant is unexpired and under its limit.
func (r *repository) Consume(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DownloadGrant{}).
		Where("id = ? AND download_count < max_downloads AND expires_at > ?", id, now).
		Updates(map[string]any{
			"download_count":     gorm.Expr("download_count + 1"),
			"last_downloaded_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
