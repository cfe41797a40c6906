package coupons

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
)

// Reason is a machine-readable coupon rejection reason.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonInactive          Reason = "inactive"
	ReasonExpired           Reason = "expired"
	ReasonNotStarted        Reason = "not_started"
	ReasonUsageLimit        Reason = "usage_limit_reached"
	ReasonMinimumPurchase   Reason = "minimum_not_met"
	ReasonFirstPurchaseOnly Reason = "first_purchase_only"
)

// Rejection explains why a coupon cannot be applied.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

// EligibilityFunc reports whether the buyer still qualifies as a first-time customer.
type EligibilityFunc func(ctx context.Context) (bool, error)

var hundred = decimal.NewFromInt(100)

// Evaluate runs the coupon rules in order and returns the discount in cents.
// The eligibility callback is only invoked for first-purchase-only coupons.
func Evaluate(ctx context.Context, coupon *models.Coupon, subtotalCents int64, now time.Time, eligible EligibilityFunc) (int64, *Rejection, error) {
	if coupon == nil {
		return 0, &Rejection{Reason: ReasonNotFound, Message: "Invalid coupon code"}, nil
	}
	if !coupon.IsActive {
		return 0, &Rejection{Reason: ReasonInactive, Message: "This coupon is no longer active"}, nil
	}
	if coupon.ExpiresAt != nil && !now.Before(*coupon.ExpiresAt) {
		return 0, &Rejection{Reason: ReasonExpired, Message: "This coupon has expired"}, nil
	}
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return 0, &Rejection{Reason: ReasonNotStarted, Message: "This coupon is not yet active"}, nil
	}
	if coupon.UsageLimit != nil && coupon.UsageCount >= *coupon.UsageLimit {
		return 0, &Rejection{Reason: ReasonUsageLimit, Message: "This coupon has reached its usage limit"}, nil
	}
	if coupon.MinPurchaseCents != nil && subtotalCents < *coupon.MinPurchaseCents {
		return 0, &Rejection{
			Reason:  ReasonMinimumPurchase,
			Message: fmt.Sprintf("Minimum purchase of %s required", formatCents(*coupon.MinPurchaseCents)),
		}, nil
	}
	if coupon.FirstPurchaseOnly {
		if eligible == nil {
			return 0, &Rejection{Reason: ReasonFirstPurchaseOnly, Message: "This coupon is only valid for first-time buyers"}, nil
		}
		ok, err := eligible(ctx)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			return 0, &Rejection{Reason: ReasonFirstPurchaseOnly, Message: "This coupon is only valid for first-time buyers"}, nil
		}
	}
	return Discount(coupon, subtotalCents), nil, nil
}

// Discount computes the coupon amount without checking eligibility rules.
// PERCENTAGE rounds half-up to the cent and honours the cap; FIXED never
// exceeds the subtotal.
func Discount(coupon *models.Coupon, subtotalCents int64) int64 {
	if coupon == nil || subtotalCents <= 0 {
		return 0
	}
	var amount int64
	switch coupon.DiscountType {
	case enums.DiscountTypePercentage:
		amount = decimal.NewFromInt(subtotalCents).Mul(coupon.Value).Div(hundred).Round(0).IntPart()
		if coupon.MaxDiscountCents != nil && amount > *coupon.MaxDiscountCents {
			amount = *coupon.MaxDiscountCents
		}
	case enums.DiscountTypeFixed:
		amount = coupon.Value.Round(0).IntPart()
	}
	if amount > subtotalCents {
		amount = subtotalCents
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

// AppliedMessage is the human-readable confirmation shown in previews.
func AppliedMessage(coupon *models.Coupon) string {
	if coupon.DiscountType == enums.DiscountTypePercentage {
		return fmt.Sprintf("%s%% off applied!", coupon.Value.String())
	}
	return fmt.Sprintf("%s off applied!", formatCents(coupon.Value.IntPart()))
}

func formatCents(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}
