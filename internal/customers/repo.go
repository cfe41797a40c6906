package customers

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
)

// qualifyingStatuses are the order states that count as a prior purchase.
var qualifyingStatuses = []enums.OrderStatus{enums.OrderStatusCompleted, enums.OrderStatusProcessing}

// Repository answers purchase-history questions over orders and users.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	HasPriorPurchase(ctx context.Context, userID *uuid.UUID, email string) (bool, error)
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

// HasPriorPurchase matches on the account id, the billing email, or the email
// registered on the purchasing account.
func (r *repository) HasPriorPurchase(ctx context.Context, userID *uuid.UUID, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if (userID == nil || *userID == uuid.Nil) && email == "" {
		return false, nil
	}

	db := r.db.WithContext(ctx)
	match := db.Where("1 = 0")
	if userID != nil && *userID != uuid.Nil {
		match = match.Or("orders.user_id = ?", *userID)
	}
	if email != "" {
		registered := db.Model(&models.User{}).Select("id").Where("LOWER(email) = ?", email)
		match = match.
			Or("LOWER(orders.billing_email) = ?", email).
			Or("orders.user_id IN (?)", registered)
	}

	var count int64
	err := db.Model(&models.Order{}).
		Where("orders.status IN ?", qualifyingStatuses).
		Where(match).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
