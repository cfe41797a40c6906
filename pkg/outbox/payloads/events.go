package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/digistore1/digistore-backend/pkg/enums"
)

// OrderSettledEvent is emitted once per order when the settlement unit commits.
type OrderSettledEvent struct {
	OrderID           uuid.UUID           `json:"order_id"`
	OrderNumber       string              `json:"order_number"`
	CheckoutSessionID uuid.UUID           `json:"checkout_session_id"`
	UserID            *uuid.UUID          `json:"user_id,omitempty"`
	TotalCents        int64               `json:"total_cents"`
	DiscountCents     int64               `json:"discount_cents"`
	Currency          string              `json:"currency"`
	PaymentMethod     enums.PaymentMethod `json:"payment_method"`
	PaymentReference  *string             `json:"payment_reference,omitempty"`
	VendorIDs         []uuid.UUID         `json:"vendor_ids"`
	SettledAt         time.Time           `json:"settled_at"`
}

// OrderRefundedEvent reports a gateway refund applied to a completed order.
type OrderRefundedEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	PaymentReference string    `json:"payment_reference"`
	AmountCents      int64     `json:"amount_cents"`
	RefundedAt       time.Time `json:"refunded_at"`
}

// NotificationItem is one purchased line in a fulfillment email.
type NotificationItem struct {
	ProductID     uuid.UUID         `json:"productId"`
	Title         string            `json:"title"`
	Quantity      int               `json:"quantity"`
	LicenseTier   enums.LicenseTier `json:"licenseTier"`
	DownloadToken string            `json:"downloadToken,omitempty"`
}

// NotificationRequestedEvent asks the mailer to send the fulfillment email.
type NotificationRequestedEvent struct {
	Recipient   string             `json:"recipient"`
	OrderID     uuid.UUID          `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	TotalCents  int64              `json:"total"`
	Currency    string             `json:"currency"`
	Items       []NotificationItem `json:"items"`
}

// GiftCardActivatedEvent asks the mailer to deliver a purchased card.
type GiftCardActivatedEvent struct {
	GiftCardID     uuid.UUID `json:"gift_card_id"`
	Code           string    `json:"code"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	RecipientEmail string    `json:"recipient_email"`
	RecipientName  string    `json:"recipient_name,omitempty"`
	Message        string    `json:"message,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// SettlementIncidentOpenedEvent pages operators about captured money with no order.
type SettlementIncidentOpenedEvent struct {
	IncidentID          uuid.UUID            `json:"incident_id"`
	CheckoutSessionID   uuid.UUID            `json:"checkout_session_id"`
	Provider            enums.PaymentMethod  `json:"provider"`
	PaymentReference    string               `json:"payment_reference"`
	Reason              enums.IncidentReason `json:"reason"`
	ExpectedAmountCents int64                `json:"expected_amount_cents"`
	CapturedAmountCents int64                `json:"captured_amount_cents"`
	Detail              string               `json:"detail"`
}
