package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/enums"
)

// Product is a catalog listing. The checkout pipeline only reads it.
type Product struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	VendorID       uuid.UUID           `gorm:"column:vendor_id;type:uuid;not null;index"`
	Title          string              `gorm:"column:title;not null"`
	PriceCents     int64               `gorm:"column:price_cents;not null"`
	IsDigital      bool                `gorm:"column:is_digital;not null"`
	DeliverableRef *string             `gorm:"column:deliverable_ref"`
	Status         enums.ProductStatus `gorm:"column:status;type:varchar(32);not null"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
