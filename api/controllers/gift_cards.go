package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digistore1/digistore-backend/api/middleware"
	"github.com/digistore1/digistore-backend/api/responses"
	"github.com/digistore1/digistore-backend/api/validators"
	"github.com/digistore1/digistore-backend/internal/giftcards"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

// GiftCardBalance reports the remaining balance of an active card.
func GiftCardBalance(svc giftcards.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gift card service unavailable"))
			return
		}
		result, err := svc.Balance(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type giftCardPurchaseRequest struct {
	AmountCents    int64  `json:"amount_cents" validate:"required,gt=0"`
	PurchaserEmail string `json:"purchaser_email" validate:"omitempty,email,max=254"`
	RecipientEmail string `json:"recipient_email" validate:"required,email,max=254"`
	RecipientName  string `json:"recipient_name" validate:"max=100"`
	Message        string `json:"message" validate:"max=500"`
	SourceID       string `json:"source_id,omitempty" validate:"max=255"`
}

// GiftCardPurchase creates a pending card and the gateway intent paying for it.
func GiftCardPurchase(svc giftcards.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gift card service unavailable"))
			return
		}
		var payload giftCardPurchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		purchaser := validators.NormalizeEmail(payload.PurchaserEmail)
		if purchaser == "" {
			purchaser = middleware.EmailFromContext(r.Context())
		}

		result, err := svc.Purchase(r.Context(), giftcards.PurchaseInput{
			AmountCents:     payload.AmountCents,
			PurchaserUserID: actorID(r),
			PurchaserEmail:  purchaser,
			RecipientEmail:  validators.NormalizeEmail(payload.RecipientEmail),
			RecipientName:   validators.SanitizeString(payload.RecipientName, 100),
			Message:         validators.SanitizeString(payload.Message, 500),
			SourceID:        strings.TrimSpace(payload.SourceID),
			IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
