package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/enums"
)

// CheckoutSession persists a server-computed quote and its settlement state.
type CheckoutSession struct {
	ID                  uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	Status              enums.CheckoutSessionStatus `gorm:"column:status;type:varchar(32);not null;index"`
	UserID              *uuid.UUID                  `gorm:"column:user_id;type:uuid"`
	Email               string                      `gorm:"column:email;not null"`
	FirstName           string                      `gorm:"column:first_name;not null"`
	LastName            string                      `gorm:"column:last_name;not null"`
	Country             string                      `gorm:"column:country;type:varchar(2);not null"`
	Lines               json.RawMessage             `gorm:"column:lines;type:jsonb;not null"`
	SubtotalCents       int64                       `gorm:"column:subtotal_cents;not null"`
	CouponID            *uuid.UUID                  `gorm:"column:coupon_id;type:uuid"`
	CouponCode          *string                     `gorm:"column:coupon_code"`
	CouponDiscountCents int64                       `gorm:"column:coupon_discount_cents;not null"`
	GiftCardID          *uuid.UUID                  `gorm:"column:gift_card_id;type:uuid"`
	GiftCardCode        *string                     `gorm:"column:gift_card_code"`
	GiftCardAmountCents int64                       `gorm:"column:gift_card_amount_cents;not null"`
	TotalCents          int64                       `gorm:"column:total_cents;not null"`
	Currency            string                      `gorm:"column:currency;type:varchar(3);not null"`
	Provider            string                      `gorm:"column:provider;type:varchar(32);not null"`
	IntentRef           *string                     `gorm:"column:intent_ref;uniqueIndex"`
	CaptureRef          *string                     `gorm:"column:capture_ref"`
	CapturedAmountCents *int64                      `gorm:"column:captured_amount_cents"`
	CaptureAttempts     int                         `gorm:"column:capture_attempts;not null"`
	LastAttemptAt       *time.Time                  `gorm:"column:last_attempt_at"`
	FailureReason       *string                     `gorm:"column:failure_reason"`
	ReferralCode        *string                     `gorm:"column:referral_code"`
	ExpiresAt           time.Time                   `gorm:"column:expires_at;not null;index"`
	OrderID             *uuid.UUID                  `gorm:"column:order_id;type:uuid"`
	CreatedAt           time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CheckoutSession) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
