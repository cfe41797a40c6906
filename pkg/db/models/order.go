package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/enums"
)

// Order is the settled result of a checkout. TotalCents == SubtotalCents - DiscountCents.
type Order struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber         string              `gorm:"column:order_number;type:varchar(40);not null;uniqueIndex"`
	UserID              *uuid.UUID          `gorm:"column:user_id;type:uuid;index"`
	BillingEmail        string              `gorm:"column:billing_email;not null;index"`
	BillingFirstName    string              `gorm:"column:billing_first_name;not null"`
	BillingLastName     string              `gorm:"column:billing_last_name;not null"`
	BillingCountry      string              `gorm:"column:billing_country;type:varchar(2);not null"`
	SubtotalCents       int64               `gorm:"column:subtotal_cents;not null"`
	CouponDiscountCents int64               `gorm:"column:coupon_discount_cents;not null"`
	GiftCardAmountCents int64               `gorm:"column:gift_card_amount_cents;not null"`
	DiscountCents       int64               `gorm:"column:discount_cents;not null"`
	TotalCents          int64               `gorm:"column:total_cents;not null"`
	Currency            string              `gorm:"column:currency;type:varchar(3);not null"`
	PaymentMethod       enums.PaymentMethod `gorm:"column:payment_method;type:varchar(32);not null"`
	PaymentReference    *string             `gorm:"column:payment_reference;uniqueIndex"`
	PaymentStatus       enums.PaymentStatus `gorm:"column:payment_status;type:varchar(32);not null"`
	Status              enums.OrderStatus   `gorm:"column:status;type:varchar(32);not null;index"`
	CouponID            *uuid.UUID          `gorm:"column:coupon_id;type:uuid"`
	GiftCardID          *uuid.UUID          `gorm:"column:gift_card_id;type:uuid"`
	ReferralCode        *string             `gorm:"column:referral_code"`
	CheckoutSessionID   uuid.UUID           `gorm:"column:checkout_session_id;type:uuid;not null;uniqueIndex"`
	Items               []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderItem snapshots the catalog values a line was sold at.
type OrderItem struct {
	ID                  uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID             uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID           uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	VendorID            uuid.UUID         `gorm:"column:vendor_id;type:uuid;not null;index"`
	ProductTitle        string            `gorm:"column:product_title;not null"`
	UnitPriceCents      int64             `gorm:"column:unit_price_cents;not null"`
	Quantity            int               `gorm:"column:quantity;not null"`
	LicenseTier         enums.LicenseTier `gorm:"column:license_tier;type:varchar(32);not null"`
	LineTotalCents      int64             `gorm:"column:line_total_cents;not null"`
	VendorEarningsCents int64             `gorm:"column:vendor_earnings_cents;not null"`
	CreatedAt           time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (o *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
