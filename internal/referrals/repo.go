package referrals

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCode(ctx context.Context, code string) (*models.Referral, error)
	RecordClick(ctx context.Context, id uuid.UUID) error
	ReferrerEmail(ctx context.Context, userID uuid.UUID) (string, error)
	FindConversionByOrder(ctx context.Context, orderID uuid.UUID) (*models.ReferralConversion, error)
	CreateConversion(ctx context.Context, conversion *models.ReferralConversion) error
	MarkConverted(ctx context.Context, id uuid.UUID) error
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

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("UPPER(code) = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&referral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

func (r *repository) RecordClick(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("id = ?", id).
		Update("click_count", gorm.Expr("click_count + 1")).Error
}

// ReferrerEmail returns "" when the referrer has no account row.
func (r *repository) ReferrerEmail(ctx context.Context, userID uuid.UUID) (string, error) {
	var user models.User
	err := r.db.WithContext(ctx).Select("email").Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

func (r *repository) FindConversionByOrder(ctx context.Context, orderID uuid.UUID) (*models.ReferralConversion, error) {
	var conversion models.ReferralConversion
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&conversion).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conversion, nil
}

func (r *repository) CreateConversion(ctx context.Context, conversion *models.ReferralConversion) error {
	return r.db.WithContext(ctx).Create(conversion).Error
}

func (r *repository) MarkConverted(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("id = ? AND status = ?", id, enums.ReferralStatusPending).
		Update("status", enums.ReferralStatusConverted).Error
}
