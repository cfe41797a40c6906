package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VendorAccount accumulates vendor revenue. Balances only ever increase here;
// payouts are handled elsewhere.
type VendorAccount struct {
	ID                    uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	VendorID              uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex"`
	TotalRevenueCents     int64     `gorm:"column:total_revenue_cents;not null"`
	TotalSales            int64     `gorm:"column:total_sales;not null"`
	AvailableBalanceCents int64     `gorm:"column:available_balance_cents;not null"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *VendorAccount) BeforeCreate(*gorm.DB) error {
	ensureID(&v.ID)
	return nil
}
