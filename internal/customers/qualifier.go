package customers

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

// Identity is who is buying: an optional account plus the billing email.
type Identity struct {
	UserID *uuid.UUID
	Email  string
}

// Empty reports whether the identity carries no identifiers at all.
func (i Identity) Empty() bool {
	return (i.UserID == nil || *i.UserID == uuid.Nil) && strings.TrimSpace(i.Email) == ""
}

// Qualifier decides first-purchase eligibility.
type Qualifier interface {
	WithTx(tx *gorm.DB) Qualifier
	IsEligible(ctx context.Context, identity Identity) (bool, error)
}

type qualifier struct {
	repo Repository
}

func NewQualifier(repo Repository) (Qualifier, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customers repository required")
	}
	return &qualifier{repo: repo}, nil
}

func (q *qualifier) WithTx(tx *gorm.DB) Qualifier {
	return &qualifier{repo: q.repo.WithTx(tx)}
}

// IsEligible is true when no completed or processing order matches the identity.
// An identity with no identifiers is eligible.
func (q *qualifier) IsEligible(ctx context.Context, identity Identity) (bool, error) {
	if identity.Empty() {
		return true, nil
	}
	prior, err := q.repo.HasPriorPurchase(ctx, identity.UserID, identity.Email)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check purchase history")
	}
	return !prior, nil
}
