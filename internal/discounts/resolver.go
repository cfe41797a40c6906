package discounts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/internal/coupons"
	"github.com/digistore1/digistore-backend/internal/customers"
	"github.com/digistore1/digistore-backend/internal/giftcards"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

const (
	InstrumentCoupon   = "coupon"
	InstrumentGiftCard = "gift_card"
)

// Input is what the buyer asked to apply against a server-computed subtotal.
type Input struct {
	SubtotalCents int64
	CouponCode    string
	GiftCardCode  string
	Identity      customers.Identity
}

// Plan is the discount breakdown. Nothing has been debited yet.
type Plan struct {
	SubtotalCents       int64      `json:"subtotal_cents"`
	CouponID            *uuid.UUID `json:"coupon_id,omitempty"`
	CouponCode          string     `json:"coupon_code,omitempty"`
	CouponDiscountCents int64      `json:"coupon_discount_cents"`
	GiftCardID          *uuid.UUID `json:"gift_card_id,omitempty"`
	GiftCardCode        string     `json:"gift_card_code,omitempty"`
	GiftCardAmountCents int64      `json:"gift_card_amount_cents"`
	TotalCents          int64      `json:"total_cents"`
}

// DiscountCents is the combined coupon and gift-card reduction.
func (p Plan) DiscountCents() int64 {
	return p.CouponDiscountCents + p.GiftCardAmountCents
}

type Resolver interface {
	WithTx(tx *gorm.DB) Resolver
	Plan(ctx context.Context, input Input) (*Plan, error)
}

type resolver struct {
	coupons   coupons.Repository
	giftCards giftcards.Repository
	qualifier customers.Qualifier
	now       func() time.Time
}

func NewResolver(couponRepo coupons.Repository, giftCardRepo giftcards.Repository, qualifier customers.Qualifier) (Resolver, error) {
	if couponRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "coupon repository required")
	}
	if giftCardRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gift card repository required")
	}
	if qualifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "first-purchase qualifier required")
	}
	return &resolver{coupons: couponRepo, giftCards: giftCardRepo, qualifier: qualifier, now: time.Now}, nil
}

func (r *resolver) WithTx(tx *gorm.DB) Resolver {
	if tx == nil {
		return r
	}
	return &resolver{
		coupons:   r.coupons.WithTx(tx),
		giftCards: r.giftCards.WithTx(tx),
		qualifier: r.qualifier.WithTx(tx),
		now:       r.now,
	}
}

// Plan applies the coupon to the subtotal and then the gift card to what is
// left. The only write is flipping an expired gift card to EXPIRED.
func (r *resolver) Plan(ctx context.Context, input Input) (*Plan, error) {
	if input.SubtotalCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subtotal must not be negative")
	}
	now := r.now()
	plan := &Plan{SubtotalCents: input.SubtotalCents, TotalCents: input.SubtotalCents}

	if code := coupons.NormalizeCode(input.CouponCode); code != "" {
		coupon, err := r.coupons.FindByCode(ctx, code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
		}
		discount, rejection, err := coupons.Evaluate(ctx, coupon, input.SubtotalCents, now, func(ctx context.Context) (bool, error) {
			return r.qualifier.IsEligible(ctx, input.Identity)
		})
		if err != nil {
			return nil, err
		}
		if rejection != nil {
			return nil, Rejection(InstrumentCoupon, string(rejection.Reason), rejection.Message)
		}
		id := coupon.ID
		plan.CouponID = &id
		plan.CouponCode = coupon.Code
		plan.CouponDiscountCents = discount
		plan.TotalCents -= discount
	}

	if code := giftcards.NormalizeCode(input.GiftCardCode); code != "" {
		card, err := r.giftCards.FindByCode(ctx, code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load gift card")
		}
		if rejection := giftcards.Check(card, now); rejection != nil {
			if giftcards.NeedsExpiry(card, now) {
				if err := r.giftCards.MarkExpired(ctx, card.ID); err != nil {
					return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire gift card")
				}
			}
			return nil, Rejection(InstrumentGiftCard, string(rejection.Reason), rejection.Message)
		}
		amount := giftcards.Apply(card, plan.TotalCents)
		id := card.ID
		plan.GiftCardID = &id
		plan.GiftCardCode = card.Code
		plan.GiftCardAmountCents = amount
		plan.TotalCents -= amount
	}

	if plan.TotalCents < 0 {
		plan.TotalCents = 0
	}
	return plan, nil
}
