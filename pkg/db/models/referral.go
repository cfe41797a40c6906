package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/enums"
)

// Referral tracks a referrer's shareable code and its clicks.
type Referral struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ReferrerUserID uuid.UUID            `gorm:"column:referrer_user_id;type:uuid;not null;index"`
	Code           string               `gorm:"column:code;type:varchar(64);not null;uniqueIndex"`
	ClickCount     int                  `gorm:"column:click_count;not null"`
	Status         enums.ReferralStatus `gorm:"column:status;type:varchar(32);not null"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Referral) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// ReferralConversion records the commission earned on one order. OrderID is
// unique so an order converts at most once.
type ReferralConversion struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	ReferralID      uuid.UUID              `gorm:"column:referral_id;type:uuid;not null;index"`
	ReferrerUserID  uuid.UUID              `gorm:"column:referrer_user_id;type:uuid;not null"`
	OrderID         uuid.UUID              `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	OrderTotalCents int64                  `gorm:"column:order_total_cents;not null"`
	CommissionCents int64                  `gorm:"column:commission_cents;not null"`
	Status          enums.ConversionStatus `gorm:"column:status;type:varchar(32);not null"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (r *ReferralConversion) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
