package coupons

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
)

func int64p(v int64) *int64 { return &v }
func intp(v int) *int       { return &v }

func TestDiscount(t *testing.T) {
	cases := []struct {
		name     string
		coupon   models.Coupon
		subtotal int64
		want     int64
	}{
		{name: "percentage", coupon: models.Coupon{DiscountType: enums.DiscountTypePercentage, Value: decimal.NewFromInt(20)}, subtotal: 10000, want: 2000},
		{name: "percentage rounds half up", coupon: models.Coupon{DiscountType: enums.DiscountTypePercentage, Value: decimal.NewFromInt(15)}, subtotal: 999, want: 150},
		{name: "percentage capped", coupon: models.Coupon{DiscountType: enums.DiscountTypePercentage, Value: decimal.NewFromInt(50), MaxDiscountCents: int64p(1000)}, subtotal: 10000, want: 1000},
		{name: "fixed", coupon: models.Coupon{DiscountType: enums.DiscountTypeFixed, Value: decimal.NewFromInt(500)}, subtotal: 10000, want: 500},
		{name: "fixed never exceeds subtotal", coupon: models.Coupon{DiscountType: enums.DiscountTypeFixed, Value: decimal.NewFromInt(5000)}, subtotal: 1200, want: 1200},
		{name: "zero subtotal", coupon: models.Coupon{DiscountType: enums.DiscountTypeFixed, Value: decimal.NewFromInt(500)}, subtotal: 0, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Discount(&tc.coupon, tc.subtotal); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestEvaluateCheckOrder(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	base := func() *models.Coupon {
		return &models.Coupon{Code: "SAVE20", DiscountType: enums.DiscountTypePercentage, Value: decimal.NewFromInt(20), IsActive: true}
	}
	notEligible := func(context.Context) (bool, error) { return false, nil }

	cases := []struct {
		name   string
		mutate func(c *models.Coupon) *models.Coupon
		want   Reason
	}{
		{name: "missing", mutate: func(*models.Coupon) *models.Coupon { return nil }, want: ReasonNotFound},
		{name: "inactive beats expired", mutate: func(c *models.Coupon) *models.Coupon { c.IsActive = false; c.ExpiresAt = &past; return c }, want: ReasonInactive},
		{name: "expired", mutate: func(c *models.Coupon) *models.Coupon { c.ExpiresAt = &past; return c }, want: ReasonExpired},
		{name: "not started", mutate: func(c *models.Coupon) *models.Coupon { c.StartsAt = &future; return c }, want: ReasonNotStarted},
		{name: "limit beats minimum", mutate: func(c *models.Coupon) *models.Coupon {
			c.UsageLimit = intp(1)
			c.UsageCount = 1
			c.MinPurchaseCents = int64p(1_000_000)
			return c
		}, want: ReasonUsageLimit},
		{name: "minimum", mutate: func(c *models.Coupon) *models.Coupon { c.MinPurchaseCents = int64p(1_000_000); return c }, want: ReasonMinimumPurchase},
		{name: "first purchase", mutate: func(c *models.Coupon) *models.Coupon { c.FirstPurchaseOnly = true; return c }, want: ReasonFirstPurchaseOnly},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, rejection, err := Evaluate(context.Background(), tc.mutate(base()), 10000, now, notEligible)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rejection == nil || rejection.Reason != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, rejection)
			}
		})
	}
}

func TestEvaluateSkipsEligibilityForOrdinaryCoupons(t *testing.T) {
	called := false
	discount, rejection, err := Evaluate(context.Background(), &models.Coupon{
		DiscountType: enums.DiscountTypeFixed,
		Value:        decimal.NewFromInt(300),
		IsActive:     true,
	}, 1000, time.Now(), func(context.Context) (bool, error) {
		called = true
		return false, nil
	})
	if err != nil || rejection != nil {
		t.Fatalf("expected coupon to apply, got %v %v", rejection, err)
	}
	if called {
		t.Fatal("eligibility should not be checked")
	}
	if discount != 300 {
		t.Fatalf("expected 300, got %d", discount)
	}
}

func TestEvaluatePropagatesEligibilityErrors(t *testing.T) {
	boom := errors.New("db down")
	_, _, err := Evaluate(context.Background(), &models.Coupon{
		DiscountType:      enums.DiscountTypeFixed,
		Value:             decimal.NewFromInt(300),
		IsActive:          true,
		FirstPurchaseOnly: true,
	}, 1000, time.Now(), func(context.Context) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected eligibility error, got %v", err)
	}
}
