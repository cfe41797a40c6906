package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

// Viewer is who is asking for an order.
type Viewer struct {
	UserID  *uuid.UUID
	Email   string
	IsAdmin bool
}

type Service interface {
	GetForViewer(ctx context.Context, orderID uuid.UUID, viewer Viewer) (*OrderDTO, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	return &service{repo: repo}, nil
}

// GetForViewer returns the order to its owner, to a guest presenting the
// billing email, or to an admin. Anyone else gets NOT_FOUND.
func (s *service) GetForViewer(ctx context.Context, orderID uuid.UUID, viewer Viewer) (*OrderDTO, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	switch {
	case viewer.IsAdmin:
	case viewer.UserID != nil && order.UserID != nil && *viewer.UserID == *order.UserID:
	case order.UserID == nil && viewer.Email != "" && strings.EqualFold(strings.TrimSpace(viewer.Email), order.BillingEmail):
	default:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return ToDTO(order), nil
}
