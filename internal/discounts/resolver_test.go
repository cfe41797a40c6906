package discounts

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digistore1/digistore-backend/internal/coupons"
	"github.com/digistore1/digistore-backend/internal/customers"
	"github.com/digistore1/digistore-backend/internal/giftcards"
	"github.com/digistore1/digistore-backend/pkg/db"
	"github.com/digistore1/digistore-backend/pkg/db/dbtest"
	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

func newResolver(t *testing.T, client *db.Client) Resolver {
	t.Helper()
	qualifier, err := customers.NewQualifier(customers.NewRepository(client.DB()))
	require.NoError(t, err)
	r, err := NewResolver(coupons.NewRepository(client.DB()), giftcards.NewRepository(client.DB()), qualifier)
	require.NoError(t, err)
	return r
}

func seed(t *testing.T, client *db.Client, rows ...any) {
	t.Helper()
	for _, row := range rows {
		require.NoError(t, client.DB().Create(row).Error)
	}
}

func TestPlanCouponThenGiftCard(t *testing.T) {
	client := dbtest.Open(t)
	seed(t, client,
		&models.Coupon{Code: "SAVE20", DiscountType: enums.DiscountTypePercentage, Value: decimal.NewFromInt(20), IsActive: true},
		&models.GiftCard{Code: "GC-AAAA-BBBB-CCCC", InitialAmountCents: 1500, BalanceCents: 1500, Currency: "USD", Status: enums.GiftCardStatusActive, PurchaserEmail: "a@example.com", ExpiresAt: time.Now().Add(time.Hour)},
	)

	plan, err := newResolver(t, client).Plan(context.Background(), Input{
		SubtotalCents: 5000,
		CouponCode:    "save20",
		GiftCardCode:  "gc-aaaa-bbbb-cccc",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), plan.CouponDiscountCents)
	assert.Equal(t, int64(1500), plan.GiftCardAmountCents)
	assert.Equal(t, int64(2500), plan.TotalCents)
	assert.Equal(t, int64(2500), plan.DiscountCents())
	assert.Equal(t, "SAVE20", plan.CouponCode)
}

func TestPlanGiftCardCoversRemainderOnly(t *testing.T) {
	client := dbtest.Open(t)
	seed(t, client, &models.GiftCard{Code: "GC-AAAA-BBBB-CCCC", InitialAmountCents: 10000, BalanceCents: 10000, Currency: "USD", Status: enums.GiftCardStatusActive, PurchaserEmail: "a@example.com", ExpiresAt: time.Now().Add(time.Hour)})

	plan, err := newResolver(t, client).Plan(context.Background(), Input{SubtotalCents: 2500, GiftCardCode: "GC-AAAA-BBBB-CCCC"})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), plan.GiftCardAmountCents)
	assert.Equal(t, int64(0), plan.TotalCents)
}

func TestPlanRejectsUnknownCoupon(t *testing.T) {
	client := dbtest.Open(t)
	_, err := newResolver(t, client).Plan(context.Background(), Input{SubtotalCents: 5000, CouponCode: "NOPE"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInstrumentRejected))
	instrument, reason, ok := RejectionReason(err)
	require.True(t, ok)
	assert.Equal(t, InstrumentCoupon, instrument)
	assert.Equal(t, string(coupons.ReasonNotFound), reason)
}

func TestPlanFlipsExpiredGiftCard(t *testing.T) {
	client := dbtest.Open(t)
	card := &models.GiftCard{Code: "GC-AAAA-BBBB-DDDD", InitialAmountCents: 1000, BalanceCents: 1000, Currency: "USD", Status: enums.GiftCardStatusActive, PurchaserEmail: "a@example.com", ExpiresAt: time.Now().Add(-time.Minute)}
	seed(t, client, card)

	_, err := newResolver(t, client).Plan(context.Background(), Input{SubtotalCents: 5000, GiftCardCode: card.Code})
	_, reason, ok := RejectionReason(err)
	require.True(t, ok)
	assert.Equal(t, string(giftcards.ReasonExpired), reason)

	var reloaded models.GiftCard
	require.NoError(t, client.DB().First(&reloaded, "id = ?", card.ID).Error)
	assert.Equal(t, enums.GiftCardStatusExpired, reloaded.Status)
}

func TestPlanFirstPurchaseOnlyUsesHistory(t *testing.T) {
	client := dbtest.Open(t)
	seed(t, client,
		&models.Coupon{Code: "WELCOME", DiscountType: enums.DiscountTypeFixed, Value: decimal.NewFromInt(500), IsActive: true, FirstPurchaseOnly: true},
		&models.Order{OrderNumber: "ORD-1-AAAAAA", BillingEmail: "repeat@example.com", BillingCountry: "US", Currency: "USD", PaymentMethod: enums.PaymentMethodStripe, PaymentStatus: enums.PaymentStatusCaptured, Status: enums.OrderStatusCompleted, CheckoutSessionID: uuid.New()},
	)

	r := newResolver(t, client)
	_, err := r.Plan(context.Background(), Input{SubtotalCents: 5000, CouponCode: "WELCOME", Identity: customers.Identity{Email: "REPEAT@example.com"}})
	_, reason, _ := RejectionReason(err)
	assert.Equal(t, string(coupons.ReasonFirstPurchaseOnly), reason)

	plan, err := r.Plan(context.Background(), Input{SubtotalCents: 5000, CouponCode: "WELCOME", Identity: customers.Identity{Email: "new@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, int64(4500), plan.TotalCents)
}
