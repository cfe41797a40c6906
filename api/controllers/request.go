package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/digistore1/digistore-backend/api/middleware"
	"github.com/digistore1/digistore-backend/api/validators"
	"github.com/digistore1/digistore-backend/internal/orders"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+name).WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

// actorID returns the authenticated user, or nil for guests.
func actorID(r *http.Request) *uuid.UUID {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

// viewerFromRequest describes who is asking. Guests may prove ownership with
// the billing email in the email query parameter.
func viewerFromRequest(r *http.Request) orders.Viewer {
	viewer := orders.Viewer{
		UserID:  actorID(r),
		Email:   middleware.EmailFromContext(r.Context()),
		IsAdmin: middleware.RoleFromContext(r.Context()) == string(enums.RoleAdmin),
	}
	if viewer.Email == "" {
		viewer.Email = validators.NormalizeEmail(r.URL.Query().Get("email"))
	}
	return viewer
}
