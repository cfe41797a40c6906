package controllers

import (
	"net/http"
	"strings"

	"github.com/digistore1/digistore-backend/api/responses"
	"github.com/digistore1/digistore-backend/api/validators"
	"github.com/digistore1/digistore-backend/internal/incidents"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/pagination"
)

// AdminIncidentList pages settlement incidents, open ones by default.
func AdminIncidentList(svc incidents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "incident service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := enums.IncidentStatusOpen
		if raw := validators.QueryString(r, "status", 32); raw != "" {
			parsed, err := enums.ParseIncidentStatus(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").WithDetails(map[string]any{"field": "status"}))
				return
			}
			status = parsed
		}

		result, err := svc.List(r.Context(), incidents.ListInput{
			Status: status,
			Params: pagination.Params{
				Limit:  limit,
				Cursor: validators.QueryString(r, "cursor", 512),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type incidentResolveRequest struct {
	Note string `json:"note" validate:"required,max=2000"`
}

// AdminIncidentResolve closes an incident with the admin's note.
func AdminIncidentResolve(svc incidents.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "incident service unavailable"))
			return
		}
		incidentID, err := pathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		adminID := actorID(r)
		if adminID == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin identity required"))
			return
		}
		var payload incidentResolveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		incident, err := svc.Resolve(r.Context(), incidentID, *adminID, payload.Note)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, incident)
	}
}
