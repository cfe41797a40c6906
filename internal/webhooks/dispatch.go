// Package webhooks routes verified gateway notifications to the services
// that own the referenced payment.
package webhooks

import (
	"context"

	"github.com/digistore1/digistore-backend/internal/payments"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

type checkoutHandler interface {
	HandleEvent(ctx context.Context, event payments.Event) (bool, error)
}

type giftCardActivator interface {
	ActivatePurchase(ctx context.Context, captured payments.Result) (bool, error)
}

// Dispatcher offers each event to checkout first, then to gift-card purchases.
type Dispatcher struct {
	checkout  checkoutHandler
	giftCards giftCardActivator
	logg      *logger.Logger
}

func NewDispatcher(checkout checkoutHandler, giftCards giftCardActivator, logg *logger.Logger) (*Dispatcher, error) {
	if checkout == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout service required")
	}
	if giftCards == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gift card service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Dispatcher{checkout: checkout, giftCards: giftCards, logg: logg}, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, event payments.Event) error {
	ctx = d.logg.WithFields(ctx, map[string]any{
		"provider":   event.Provider,
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"intent_ref": event.IntentRef,
	})

	handled, err := d.checkout.HandleEvent(ctx, event)
	if err != nil {
		return err
	}
	if handled {
		return nil
	}

	if event.Type == payments.EventCaptureCompleted {
		activated, err := d.giftCards.ActivatePurchase(ctx, payments.Result{
			Outcome:     payments.OutcomeCompleted,
			Ref:         event.IntentRef,
			AmountCents: event.AmountCents,
			Currency:    event.Currency,
		})
		if err != nil {
			return err
		}
		if activated {
			return nil
		}
	}
	d.logg.Info(ctx, "gateway event matched no payment")
	return nil
}
