package controllers

import (
	"net/http"
	"strings"

	"github.com/digistore1/digistore-backend/api/middleware"
	"github.com/digistore1/digistore-backend/api/responses"
	"github.com/digistore1/digistore-backend/internal/customers"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

// FirstPurchaseEligibility reports whether the caller would qualify for
// first-purchase discounts.
func FirstPurchaseEligibility(qualifier customers.Qualifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if qualifier == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "qualifier unavailable"))
			return
		}
		email := middleware.EmailFromContext(r.Context())
		if email == "" {
			email = strings.TrimSpace(r.URL.Query().Get("email"))
		}
		eligible, err := qualifier.IsEligible(r.Context(), customers.Identity{UserID: actorID(r), Email: email})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"eligible": eligible})
	}
}
