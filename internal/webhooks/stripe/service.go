package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"

	stripego "github.com/stripe/stripe-go/v78"

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

// Service normalizes Stripe payment events.
type Service struct {
	dispatcher dispatcher
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event dispatcher required")
	}
	return &Service{dispatcher: params.Dispatcher}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripego.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	normalized, ok, err := Normalize(event)
	if err != nil || !ok {
		return err
	}
	return s.dispatcher.Dispatch(ctx, normalized)
}

// Normalize converts a Stripe event into a gateway event. ok is false for
// event types checkout does not consume.
func Normalize(event *stripego.Event) (payments.Event, bool, error) {
	eventType, ok := payments.StripeEventType(string(event.Type))
	if !ok {
		return payments.Event{}, false, nil
	}
	out := payments.Event{
		ID:       event.ID,
		Provider: config.PaymentProviderStripe,
		Type:     eventType,
	}

	if eventType == payments.EventRefunded {
		var charge stripego.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return payments.Event{}, false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge")
		}
		if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
			return payments.Event{}, false, nil
		}
		out.IntentRef = charge.PaymentIntent.ID
		out.AmountCents = charge.AmountRefunded
		out.RefundedCents = charge.AmountRefunded
		out.Currency = strings.ToUpper(string(charge.Currency))
		return out, true, nil
	}

	var intent stripego.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return payments.Event{}, false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	out.IntentRef = intent.ID
	out.Currency = strings.ToUpper(string(intent.Currency))
	if eventType == payments.EventCaptureCompleted {
		out.AmountCents = intent.AmountReceived
	} else {
		out.AmountCents = intent.Amount
	}
	if intent.LastPaymentError != nil {
		out.Reason = intent.LastPaymentError.Msg
	}
	if out.Reason == "" && intent.Status == stripego.PaymentIntentStatusCanceled {
		out.Reason = string(intent.CancellationReason)
	}
	return out, true, nil
}
