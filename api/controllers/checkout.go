package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/digistore1/digistore-backend/api/middleware"
	"github.com/digistore1/digistore-backend/api/responses"
	"github.com/digistore1/digistore-backend/api/validators"
	"github.com/digistore1/digistore-backend/internal/catalog"
	checkoutsvc "github.com/digistore1/digistore-backend/internal/checkout"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

// CheckoutQuote prices a cart, applies discounts, and opens a gateway intent.
func CheckoutQuote(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload quoteRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := payload.toInput()
		input.Buyer.UserID = actorID(r)
		if input.Buyer.Email == "" {
			input.Buyer.Email = middleware.EmailFromContext(r.Context())
		}
		input.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))

		view, err := svc.Quote(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// CheckoutCapture captures the session's payment and settles the order.
func CheckoutCapture(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		sessionID, err := pathUUID(r, "sessionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithSessionID(ctx, sessionID.String())
		}

		result, err := svc.Capture(ctx, sessionID, viewerFromRequest(r))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// CheckoutSession returns the current state of a checkout session.
func CheckoutSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		sessionID, err := pathUUID(r, "sessionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Get(r.Context(), sessionID, viewerFromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

type quoteRequest struct {
	Email            string             `json:"email" validate:"omitempty,email,max=254"`
	FirstName        string             `json:"first_name" validate:"max=100"`
	LastName         string             `json:"last_name" validate:"max=100"`
	Country          string             `json:"country" validate:"omitempty,iso3166_1_alpha2"`
	Items            []quoteItemRequest `json:"items" validate:"required,min=1,dive"`
	ClientTotalCents *int64             `json:"client_total_cents,omitempty" validate:"omitempty,min=0"`
	CouponCode       string             `json:"coupon_code,omitempty" validate:"max=64"`
	GiftCardCode     string             `json:"gift_card_code,omitempty" validate:"max=64"`
	ReferralCode     string             `json:"referral_code,omitempty" validate:"max=64"`
	SourceID         string             `json:"source_id,omitempty" validate:"max=255"`
}

type quoteItemRequest struct {
	ProductID      uuid.UUID `json:"product_id" validate:"required"`
	Quantity       int       `json:"quantity" validate:"required,gt=0"`
	LicenseTier    string    `json:"license_tier,omitempty" validate:"omitempty,oneof=PERSONAL COMMERCIAL EXTENDED"`
	UnitPriceCents *int64    `json:"unit_price_cents,omitempty"`
}

func (q quoteRequest) toInput() checkoutsvc.QuoteInput {
	lines := make([]catalog.LineRequest, 0, len(q.Items))
	for _, item := range q.Items {
		lines = append(lines, catalog.LineRequest{
			ProductID:            item.ProductID,
			Quantity:             item.Quantity,
			LicenseTier:          enums.LicenseTier(item.LicenseTier),
			ClientUnitPriceCents: item.UnitPriceCents,
		})
	}
	return checkoutsvc.QuoteInput{
		Buyer: checkoutsvc.Buyer{
			Email:     validators.NormalizeEmail(q.Email),
			FirstName: validators.SanitizeString(q.FirstName, 100),
			LastName:  validators.SanitizeString(q.LastName, 100),
			Country:   validators.SanitizeString(q.Country, 2),
		},
		Lines:            lines,
		ClientTotalCents: q.ClientTotalCents,
		CouponCode:       strings.TrimSpace(q.CouponCode),
		GiftCardCode:     strings.TrimSpace(q.GiftCardCode),
		ReferralCode:     strings.TrimSpace(q.ReferralCode),
		SourceID:         strings.TrimSpace(q.SourceID),
	}
}
