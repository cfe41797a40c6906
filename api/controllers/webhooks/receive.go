package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/digistore1/digistore-backend/api/responses"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

// Guard remembers provider event ids so redeliveries are acknowledged
// without being applied twice.
type Guard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// delivery is an authenticated provider event ready to apply.
type delivery struct {
	id    string
	apply func(context.Context) error
}

// receiver runs the pipeline shared by every provider: bounded read,
// signature header, verification, event-id guard, apply.
type receiver struct {
	provider string
	header   string
	verify   func(payload []byte, signature string) (delivery, error)
	guard    Guard
	logg     *logger.Logger
}

func (rc receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var sizeErr *http.MaxBytesError
		if errors.As(err, &sizeErr) {
			responses.WriteError(ctx, rc.logg, w, pkgerrors.Newf(pkgerrors.CodeValidation, "%s payload exceeds %d bytes", rc.provider, sizeErr.Limit))
			return
		}
		responses.WriteError(ctx, rc.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
		return
	}

	signature := r.Header.Get(rc.header)
	if signature == "" {
		responses.WriteError(ctx, rc.logg, w, pkgerrors.Newf(pkgerrors.CodeValidation, "%s signature missing", rc.provider))
		return
	}
	event, err := rc.verify(payload, signature)
	if err != nil {
		responses.WriteError(ctx, rc.logg, w, err)
		return
	}

	seen, err := rc.guard.CheckAndMark(ctx, event.id)
	if err != nil {
		responses.WriteError(ctx, rc.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	if rc.logg != nil {
		ctx = rc.logg.WithFields(ctx, map[string]any{"provider": rc.provider, "event_id": event.id})
	}
	if seen {
		rc.info(ctx, "webhook redelivery ignored")
		responses.WriteSuccess(w, nil)
		return
	}

	if err := event.apply(ctx); err != nil {
		// Released so the provider's retry is applied.
		if delErr := rc.guard.Delete(ctx, event.id); delErr != nil && rc.logg != nil {
			rc.logg.Error(ctx, "release webhook guard", delErr)
		}
		responses.WriteError(ctx, rc.logg, w, err)
		return
	}
	rc.info(ctx, "webhook applied")
	responses.WriteSuccess(w, nil)
}

func (rc receiver) info(ctx context.Context, msg string) {
	if rc.logg != nil {
		rc.logg.Info(ctx, msg)
	}
}

// unavailable answers every request with an internal error naming the
// missing dependency.
func unavailable(logg *logger.Logger, what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeInternal, "%s unavailable", what))
	}
}
