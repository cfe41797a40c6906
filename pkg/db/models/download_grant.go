package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DownloadGrant entitles the buyer to fetch a deliverable a bounded number of times.
type DownloadGrant struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index"`
	OrderItemID      uuid.UUID  `gorm:"column:order_item_id;type:uuid;not null"`
	ProductID        uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	DeliverableRef   string     `gorm:"column:deliverable_ref;not null"`
	Token            string     `gorm:"column:token;type:varchar(64);not null;uniqueIndex"`
	ExpiresAt        time.Time  `gorm:"column:expires_at;not null"`
	MaxDownloads     int        `gorm:"column:max_downloads;not null"`
	DownloadCount    int        `gorm:"column:download_count;not null"`
	LastDownloadedAt *time.Time `gorm:"column:last_downloaded_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (d *DownloadGrant) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
