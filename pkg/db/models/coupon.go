package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/enums"
)

// Coupon holds a discount rule. Value is percent points for PERCENTAGE coupons
// and cents for FIXED coupons.
type Coupon struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Code              string             `gorm:"column:code;type:varchar(64);not null;uniqueIndex"`
	DiscountType      enums.DiscountType `gorm:"column:discount_type;type:varchar(32);not null"`
	Value             decimal.Decimal    `gorm:"column:value;type:numeric(12,2);not null"`
	MinPurchaseCents  *int64             `gorm:"column:min_purchase_cents"`
	MaxDiscountCents  *int64             `gorm:"column:max_discount_cents"`
	UsageLimit        *int               `gorm:"column:usage_limit"`
	UsageCount        int                `gorm:"column:usage_count;not null"`
	StartsAt          *time.Time         `gorm:"column:starts_at"`
	ExpiresAt         *time.Time         `gorm:"column:expires_at"`
	FirstPurchaseOnly bool               `gorm:"column:first_purchase_only;not null"`
	IsActive          bool               `gorm:"column:is_active;not null"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
