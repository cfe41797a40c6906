package coupons

import (
	"context"
	"time"

	"github.com/digistore1/digistore-backend/internal/customers"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

// PreviewInput is a read-only coupon check request.
type PreviewInput struct {
	Code          string
	SubtotalCents int64
	Identity      customers.Identity
}

// PreviewResult mirrors what checkout would apply. Invalid coupons are a
// result with Valid=false, not an error.
type PreviewResult struct {
	Valid         bool               `json:"valid"`
	Code          string             `json:"code"`
	Type          enums.DiscountType `json:"type,omitempty"`
	Value         string             `json:"value,omitempty"`
	DiscountCents int64              `json:"discount_cents"`
	Message       string             `json:"message"`
	Reason        Reason             `json:"reason,omitempty"`
}

type Service interface {
	Preview(ctx context.Context, input PreviewInput) (*PreviewResult, error)
}

type service struct {
	repo      Repository
	qualifier customers.Qualifier
	now       func() time.Time
}

func NewService(repo Repository, qualifier customers.Qualifier) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "coupon repository required")
	}
	if qualifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "first-purchase qualifier required")
	}
	return &service{repo: repo, qualifier: qualifier, now: time.Now}, nil
}

func (s *service) Preview(ctx context.Context, input PreviewInput) (*PreviewResult, error) {
	code := NormalizeCode(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}
	if input.SubtotalCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subtotal must not be negative")
	}

	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}

	discount, rejection, err := Evaluate(ctx, coupon, input.SubtotalCents, s.now(), func(ctx context.Context) (bool, error) {
		return s.qualifier.IsEligible(ctx, input.Identity)
	})
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		return &PreviewResult{Valid: false, Code: code, Message: rejection.Message, Reason: rejection.Reason}, nil
	}
	return &PreviewResult{
		Valid:         true,
		Code:          coupon.Code,
		Type:          coupon.DiscountType,
		Value:         coupon.Value.String(),
		DiscountCents: discount,
		Message:       AppliedMessage(coupon),
	}, nil
}
