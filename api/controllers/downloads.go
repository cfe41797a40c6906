package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/digistore1/digistore-backend/api/responses"
	"github.com/digistore1/digistore-backend/internal/downloads"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

// DownloadRedeem consumes one use of a download grant. With ?redirect=1 and a
// signed url available the client is sent straight to storage.
func DownloadRedeem(svc downloads.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "download service unavailable"))
			return
		}
		result, err := svc.Redeem(r.Context(), chi.URLParam(r, "token"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if r.URL.Query().Get("redirect") == "1" && result.URL != "" {
			http.Redirect(w, r, result.URL, http.StatusFound)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
