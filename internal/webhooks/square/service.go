package squarewebhook

import (
	"context"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/digistore1/digistore-backend/internal/payments"
	"github.com/digistore1/digistore-backend/pkg/config"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

type dispatcher interface {
	Dispatch(ctx context.Context, event payments.Event) error
}

type ServiceParams struct {
	Dispatcher dispatcher
}

// Service normalizes Square payment and refund notifications.
type Service struct {
	dispatcher dispatcher
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event dispatcher required")
	}
	return &Service{dispatcher: params.Dispatcher}, nil
}

type SquareWebhookEvent struct {
	EventID string            `json:"event_id"`
	Type    string            `json:"type"`
	Data    SquareWebhookData `json:"data"`
}

type SquareWebhookData struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Object SquareWebhookObject `json:"object"`
}

type SquareWebhookObject struct {
	Payment *sq.Payment       `json:"payment,omitempty"`
	Refund  *sq.PaymentRefund `json:"refund,omitempty"`
}

// HandleEvent processes payment.updated and refund.updated notifications.
func (s *Service) HandleEvent(ctx context.Context, event *SquareWebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}
	normalized, ok := Normalize(event)
	if !ok {
		return nil
	}
	return s.dispatcher.Dispatch(ctx, normalized)
}

// Normalize converts a Square notification into a gateway event. ok is false
// for notifications that carry no terminal payment state.
func Normalize(event *SquareWebhookEvent) (payments.Event, bool) {
	out := payments.Event{
		ID:       strings.TrimSpace(event.EventID),
		Provider: config.PaymentProviderSquare,
	}
	if out.ID == "" {
		out.ID = event.Data.ID
	}

	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
		payment := event.Data.Object.Payment
		if payment == nil {
			return payments.Event{}, false
		}
		status := stringValue(payment.GetStatus())
		eventType, ok := payments.SquareEventOutcome(status)
		if !ok {
			return payments.Event{}, false
		}
		out.Type = eventType
		out.IntentRef = stringValue(payment.GetID())
		out.AmountCents, out.Currency = money(payment.GetAmountMoney())
		if eventType == payments.EventCaptureDenied {
			out.Reason = "square payment " + strings.ToLower(status)
		}
	case "refund.created", "refund.updated":
		refund := event.Data.Object.Refund
		if refund == nil || !strings.EqualFold(stringValue(refund.GetStatus()), "COMPLETED") {
			return payments.Event{}, false
		}
		out.Type = payments.EventRefunded
		out.IntentRef = stringValue(refund.GetPaymentID())
		out.AmountCents, out.Currency = money(refund.GetAmountMoney())
	default:
		return payments.Event{}, false
	}
	if out.IntentRef == "" {
		return payments.Event{}, false
	}
	return out, true
}

func money(m *sq.Money) (int64, string) {
	if m == nil {
		return 0, ""
	}
	var amount int64
	if m.Amount != nil {
		amount = *m.Amount
	}
	currency := ""
	if m.Currency != nil {
		currency = string(*m.Currency)
	}
	return amount, currency
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
