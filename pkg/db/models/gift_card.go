package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/enums"
)

// GiftCard is a stored-value instrument. 0 <= BalanceCents <= InitialAmountCents.
type GiftCard struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Code               string               `gorm:"column:code;type:varchar(32);not null;uniqueIndex"`
	InitialAmountCents int64                `gorm:"column:initial_amount_cents;not null"`
	BalanceCents       int64                `gorm:"column:balance_cents;not null"`
	Currency           string               `gorm:"column:currency;type:varchar(3);not null"`
	Status             enums.GiftCardStatus `gorm:"column:status;type:varchar(32);not null;index"`
	PurchaserUserID    *uuid.UUID           `gorm:"column:purchaser_user_id;type:uuid"`
	PurchaserEmail     string               `gorm:"column:purchaser_email;not null"`
	RecipientEmail     *string              `gorm:"column:recipient_email"`
	RecipientName      *string              `gorm:"column:recipient_name"`
	Message            *string              `gorm:"column:message"`
	PaymentReference   *string              `gorm:"column:payment_reference;uniqueIndex"`
	ExpiresAt          time.Time            `gorm:"column:expires_at;not null"`
	ActivatedAt        *time.Time           `gorm:"column:activated_at"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (g *GiftCard) BeforeCreate(*gorm.DB) error {
	ensureID(&g.ID)
	return nil
}

// GiftCardUsage is an append-only debit record.
type GiftCardUsage struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	GiftCardID  uuid.UUID `gorm:"column:gift_card_id;type:uuid;not null;index"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	AmountCents int64     `gorm:"column:amount_cents;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (g *GiftCardUsage) BeforeCreate(*gorm.DB) error {
	ensureID(&g.ID)
	return nil
}
