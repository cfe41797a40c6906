package webhooks

import (
	"context"
	"net/http"

	stripego "github.com/stripe/stripe-go/v78"

	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripego.Event) error
}

type StripeVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripego.Event, error)
}

// StripeWebhook verifies and applies Stripe payment events.
func StripeWebhook(svc StripeWebhookService, verifier StripeVerifier, guard Guard, logg *logger.Logger) http.HandlerFunc {
	switch {
	case svc == nil:
		return unavailable(logg, "webhook service")
	case verifier == nil:
		return unavailable(logg, "stripe client")
	case guard == nil:
		return unavailable(logg, "idempotency guard")
	}
	return receiver{
		provider: "stripe",
		header:   "Stripe-Signature",
		guard:    guard,
		logg:     logg,
		verify: func(payload []byte, signature string) (delivery, error) {
			event, err := verifier.ConstructEvent(payload, signature)
			if err != nil {
				return delivery{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid stripe signature")
			}
			return delivery{
				id:    event.ID,
				apply: func(ctx context.Context) error { return svc.HandleEvent(ctx, &event) },
			}, nil
		},
	}.ServeHTTP
}
