package webhooks

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	squarewebhook "github.com/digistore1/digistore-backend/internal/webhooks/square"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/square"
)

type SquareWebhookService interface {
	HandleEvent(ctx context.Context, event *squarewebhook.SquareWebhookEvent) error
}

type SquareVerifier interface {
	VerifySignature(payload []byte, signature string) bool
}

// SquareWebhook verifies and applies Square payment and refund events.
// Events without an event_id fall back to the id of their data object.
func SquareWebhook(svc SquareWebhookService, verifier SquareVerifier, guard Guard, logg *logger.Logger) http.HandlerFunc {
	switch {
	case svc == nil:
		return unavailable(logg, "webhook service")
	case verifier == nil:
		return unavailable(logg, "square client")
	case guard == nil:
		return unavailable(logg, "idempotency guard")
	}
	return receiver{
		provider: "square",
		header:   square.SignatureHeader,
		guard:    guard,
		logg:     logg,
		verify: func(payload []byte, signature string) (delivery, error) {
			if !verifier.VerifySignature(payload, signature) {
				return delivery{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid square signature")
			}
			var event squarewebhook.SquareWebhookEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return delivery{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event")
			}
			id := cmp.Or(strings.TrimSpace(event.EventID), event.Data.ID)
			if id == "" {
				return delivery{}, pkgerrors.New(pkgerrors.CodeValidation, "square event id missing")
			}
			return delivery{
				id:    id,
				apply: func(ctx context.Context) error { return svc.HandleEvent(ctx, &event) },
			}, nil
		},
	}.ServeHTTP
}
