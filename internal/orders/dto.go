package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
)

// OrderDTO is the buyer-facing order view.
type OrderDTO struct {
	ID                  uuid.UUID           `json:"id"`
	OrderNumber         string              `json:"order_number"`
	Status              enums.OrderStatus   `json:"status"`
	PaymentStatus       enums.PaymentStatus `json:"payment_status"`
	PaymentMethod       enums.PaymentMethod `json:"payment_method"`
	Email               string              `json:"email"`
	SubtotalCents       int64               `json:"subtotal_cents"`
	CouponDiscountCents int64               `json:"coupon_discount_cents"`
	GiftCardAmountCents int64               `json:"gift_card_amount_cents"`
	DiscountCents       int64               `json:"discount_cents"`
	TotalCents          int64               `json:"total_cents"`
	Currency            string              `json:"currency"`
	Items               []OrderItemDTO      `json:"items"`
	CreatedAt           time.Time           `json:"created_at"`
}

// OrderItemDTO is one purchased line.
type OrderItemDTO struct {
	ID             uuid.UUID         `json:"id"`
	ProductID      uuid.UUID         `json:"product_id"`
	Title          string            `json:"title"`
	LicenseTier    enums.LicenseTier `json:"license_tier"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	Quantity       int               `json:"quantity"`
	LineTotalCents int64             `json:"line_total_cents"`
}

// ToDTO maps an order row. Vendor earnings stay internal.
func ToDTO(order *models.Order) *OrderDTO {
	if order == nil {
		return nil
	}
	items := make([]OrderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemDTO{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Title:          item.ProductTitle,
			LicenseTier:    item.LicenseTier,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			LineTotalCents: item.LineTotalCents,
		})
	}
	return &OrderDTO{
		ID:                  order.ID,
		OrderNumber:         order.OrderNumber,
		Status:              order.Status,
		PaymentStatus:       order.PaymentStatus,
		PaymentMethod:       order.PaymentMethod,
		Email:               order.BillingEmail,
		SubtotalCents:       order.SubtotalCents,
		CouponDiscountCents: order.CouponDiscountCents,
		GiftCardAmountCents: order.GiftCardAmountCents,
		DiscountCents:       order.DiscountCents,
		TotalCents:          order.TotalCents,
		Currency:            order.Currency,
		Items:               items,
		CreatedAt:           order.CreatedAt,
	}
}
