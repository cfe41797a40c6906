package controllers

import (
	"net/http"

	"github.com/digistore1/digistore-backend/api/middleware"
	"github.com/digistore1/digistore-backend/api/responses"
	"github.com/digistore1/digistore-backend/api/validators"
	"github.com/digistore1/digistore-backend/internal/coupons"
	"github.com/digistore1/digistore-backend/internal/customers"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

type couponValidateRequest struct {
	Code          string `json:"code" validate:"required,max=64"`
	SubtotalCents int64  `json:"subtotal_cents" validate:"min=0"`
	Email         string `json:"email,omitempty" validate:"omitempty,email,max=254"`
}

// CouponValidate previews what a coupon would take off a subtotal.
func CouponValidate(svc coupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}
		var payload couponValidateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		email := validators.NormalizeEmail(payload.Email)
		if email == "" {
			email = middleware.EmailFromContext(r.Context())
		}

		result, err := svc.Preview(r.Context(), coupons.PreviewInput{
			Code:          payload.Code,
			SubtotalCents: payload.SubtotalCents,
			Identity:      customers.Identity{UserID: actorID(r), Email: email},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
