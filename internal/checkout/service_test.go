package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digistore1/digistore-backend/internal/catalog"
	"github.com/digistore1/digistore-backend/internal/coupons"
	"github.com/digistore1/digistore-backend/internal/customers"
	"github.com/digistore1/digistore-backend/internal/discounts"
	"github.com/digistore1/digistore-backend/internal/downloads"
	"github.com/digistore1/digistore-backend/internal/giftcards"
	"github.com/digistore1/digistore-backend/internal/incidents"
	"github.com/digistore1/digistore-backend/internal/ledger"
	"github.com/digistore1/digistore-backend/internal/orders"
	"github.com/digistore1/digistore-backend/internal/payments"
	"github.com/digistore1/digistore-backend/internal/payments/paymentstest"
	"github.com/digistore1/digistore-backend/internal/referrals"
	"github.com/digistore1/digistore-backend/internal/vendors"
	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/db"
	"github.com/digistore1/digistore-backend/pkg/db/dbtest"
	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/outbox"
)

type harness struct {
	client  *db.Client
	gateway *paymentstest.Gateway
	svc     *service
	vendor  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	conn := client.DB()

	lookup, err := catalog.NewService(catalog.NewRepository(conn))
	require.NoError(t, err)
	qualifier, err := customers.NewQualifier(customers.NewRepository(conn))
	require.NoError(t, err)
	couponRepo := coupons.NewRepository(conn)
	giftCardRepo := giftcards.NewRepository(conn)
	resolver, err := discounts.NewResolver(couponRepo, giftCardRepo, qualifier)
	require.NoError(t, err)
	downloadSvc, err := downloads.NewService(downloads.NewRepository(conn), nil, config.DownloadsConfig{})
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	referralSvc, err := referrals.NewService(referrals.NewRepository(conn))
	require.NoError(t, err)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	incidentSvc, err := incidents.NewService(incidents.ServiceParams{
		Repo:   incidents.NewRepository(conn),
		Tx:     client,
		Outbox: outboxSvc,
	})
	require.NoError(t, err)

	gateway := paymentstest.New()
	svc, err := NewService(ServiceParams{
		Tx:        client,
		Sessions:  NewRepository(conn),
		Catalog:   lookup,
		Resolver:  resolver,
		Coupons:   couponRepo,
		GiftCards: giftCardRepo,
		Qualifier: qualifier,
		Vendors:   vendors.NewRepository(conn),
		Orders:    orders.NewRepository(conn),
		Referrals: referralSvc,
		Downloads: downloadSvc,
		Ledger:    ledgerSvc,
		Gateway:   gateway,
		Outbox:    outboxSvc,
		Incidents: incidentSvc,
		Config: config.CheckoutConfig{
			Currency:               "USD",
			PlatformFeeRate:        "0.15",
			ReferralCommissionRate: "0.10",
		},
	})
	require.NoError(t, err)

	vendorID := uuid.New()
	require.NoError(t, conn.Create(&models.VendorAccount{VendorID: vendorID}).Error)
	return &harness{client: client, gateway: gateway, svc: svc.(*service), vendor: vendorID}
}

func (h *harness) product(t *testing.T, priceCents int64) uuid.UUID {
	t.Helper()
	ref := "products/" + uuid.NewString() + ".zip"
	product := &models.Product{
		VendorID:       h.vendor,
		Title:          "Icon pack",
		PriceCents:     priceCents,
		IsDigital:      true,
		DeliverableRef: &ref,
		Status:         enums.ProductStatusPublished,
	}
	require.NoError(t, h.client.DB().Create(product).Error)
	return product.ID
}

func (h *harness) seed(t *testing.T, rows ...any) {
	t.Helper()
	for _, row := range rows {
		require.NoError(t, h.client.DB().Create(row).Error)
	}
}

func (h *harness) quote(t *testing.T, productID uuid.UUID, email, coupon, giftCard string) *SessionView {
	t.Helper()
	view, err := h.svc.Quote(context.Background(), QuoteInput{
		Buyer:        Buyer{Email: email, FirstName: "Ada", LastName: "Lovelace", Country: "us"},
		Lines:        []catalog.LineRequest{{ProductID: productID, Quantity: 1}},
		CouponCode:   coupon,
		GiftCardCode: giftCard,
	})
	require.NoError(t, err)
	return view
}

func (h *harness) session(t *testing.T, id uuid.UUID) *models.CheckoutSession {
	t.Helper()
	var session models.CheckoutSession
	require.NoError(t, h.client.DB().First(&session, "id = ?", id).Error)
	return &session
}

func (h *harness) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := h.client.DB().Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func save20() *models.Coupon {
	return &models.Coupon{Code: "SAVE20", DiscountType: enums.DiscountTypePercentage, Value: decimal.NewFromInt(20), IsActive: true}
}

func TestQuoteAndCaptureWithCoupon(t *testing.T) {
	h := newHarness(t)
	coupon := save20()
	h.seed(t, coupon)
	productID := h.product(t, 5000)

	view := h.quote(t, productID, "Buyer@Example.com", "save20", "")
	assert.Equal(t, enums.CheckoutSessionStatusGatewayPending, view.Status)
	assert.Equal(t, int64(5000), view.SubtotalCents)
	assert.Equal(t, int64(1000), view.CouponDiscountCents)
	assert.Equal(t, int64(4000), view.TotalCents)
	assert.NotEmpty(t, view.ClientSecret)
	require.Len(t, h.gateway.Created, 1)
	assert.Equal(t, int64(4000), h.gateway.Created[0].AmountCents)

	result, err := h.svc.Capture(context.Background(), view.ID, orders.Viewer{})
	require.NoError(t, err)
	assert.Equal(t, enums.CheckoutSessionStatusSettled, result.Session.Status)
	require.NotNil(t, result.Order)
	assert.Equal(t, int64(4000), result.Order.TotalCents)
	assert.Equal(t, int64(1000), result.Order.DiscountCents)
	assert.Equal(t, enums.PaymentStatusCaptured, result.Order.PaymentStatus)

	var reloaded models.Coupon
	require.NoError(t, h.client.DB().First(&reloaded, "id = ?", coupon.ID).Error)
	assert.Equal(t, 1, reloaded.UsageCount)

	var account models.VendorAccount
	require.NoError(t, h.client.DB().First(&account, "vendor_id = ?", h.vendor).Error)
	assert.Equal(t, int64(4250), account.TotalRevenueCents)
	assert.Equal(t, int64(1), account.TotalSales)

	assert.Equal(t, int64(1), h.count(t, &models.DownloadGrant{}, "order_id = ?", result.Order.ID))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderSettled))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventNotificationRequested))
	assert.Equal(t, int64(1), h.count(t, &models.LedgerEvent{}, "order_id = ? AND type = ?", result.Order.ID, enums.LedgerEventTypeCashCollected))
}

func TestGiftCardDebitedAfterCoupon(t *testing.T) {
	h := newHarness(t)
	card := &models.GiftCard{Code: "GC-AAAA-BBBB-CCCC", InitialAmountCents: 1500, BalanceCents: 1500, Currency: "USD", Status: enums.GiftCardStatusActive, PurchaserEmail: "gifter@example.com", ExpiresAt: time.Now().Add(24 * time.Hour)}
	h.seed(t, save20(), card)
	productID := h.product(t, 5000)

	view := h.quote(t, productID, "buyer@example.com", "SAVE20", card.Code)
	assert.Equal(t, int64(1500), view.GiftCardAmountCents)
	assert.Equal(t, int64(2500), view.TotalCents)

	_, err := h.svc.Capture(context.Background(), view.ID, orders.Viewer{})
	require.NoError(t, err)

	var reloaded models.GiftCard
	require.NoError(t, h.client.DB().First(&reloaded, "id = ?", card.ID).Error)
	assert.Equal(t, int64(0), reloaded.BalanceCents)
	assert.Equal(t, enums.GiftCardStatusRedeemed, reloaded.Status)

	used, err := giftcards.NewRepository(h.client.DB()).UsageTotal(context.Background(), card.ID)
	require.NoError(t, err)
	assert.Equal(t, reloaded.InitialAmountCents-reloaded.BalanceCents, used)
}

func TestDiscountsCannotCoverWholeOrder(t *testing.T) {
	h := newHarness(t)
	card := &models.GiftCard{Code: "GC-AAAA-BBBB-DDDD", InitialAmountCents: 10000, BalanceCents: 10000, Currency: "USD", Status: enums.GiftCardStatusActive, PurchaserEmail: "gifter@example.com", ExpiresAt: time.Now().Add(24 * time.Hour)}
	h.seed(t, card)
	productID := h.product(t, 5000)

	_, err := h.svc.Quote(context.Background(), QuoteInput{
		Buyer:        Buyer{Email: "buyer@example.com", Country: "US"},
		Lines:        []catalog.LineRequest{{ProductID: productID, Quantity: 1}},
		GiftCardCode: card.Code,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInstrumentRejected))
	_, reason, _ := discounts.RejectionReason(err)
	assert.Equal(t, "covers_full_total", reason)
	assert.Empty(t, h.gateway.Created)
	assert.Equal(t, int64(1), h.count(t, &models.CheckoutSession{}, "status = ?", enums.CheckoutSessionStatusRejected))
}

func TestFreeCartSettlesWithoutGateway(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 0)

	view := h.quote(t, productID, "free@example.com", "", "")
	assert.Equal(t, enums.CheckoutSessionStatusSettled, view.Status)
	require.NotNil(t, view.OrderID)
	assert.Empty(t, h.gateway.Created)
	assert.Empty(t, h.gateway.Captures)

	var order models.Order
	require.NoError(t, h.client.DB().First(&order, "id = ?", *view.OrderID).Error)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
	assert.Equal(t, enums.PaymentStatusFree, order.PaymentStatus)
	assert.Equal(t, enums.PaymentMethodFree, order.PaymentMethod)
	assert.Equal(t, int64(1), h.count(t, &models.DownloadGrant{}, "order_id = ?", order.ID))
}

func TestCaptureReplaysCreateOneOrder(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 2000)
	view := h.quote(t, productID, "buyer@example.com", "", "")
	ctx := context.Background()

	first, err := h.svc.Capture(ctx, view.ID, orders.Viewer{})
	require.NoError(t, err)
	second, err := h.svc.Capture(ctx, view.ID, orders.Viewer{})
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	handled, err := h.svc.HandleEvent(ctx, payments.Event{
		ID:          "evt_1",
		Type:        payments.EventCaptureCompleted,
		IntentRef:   view.IntentRef,
		AmountCents: 2000,
		Currency:    "usd",
	})
	require.NoError(t, err)
	assert.True(t, handled)

	assert.Len(t, h.gateway.Captures, 1)
	assert.Equal(t, int64(1), h.count(t, &models.Order{}, ""))
	assert.Equal(t, int64(1), h.count(t, &models.LedgerEvent{}, "type = ?", enums.LedgerEventTypeCashCollected))
}

func TestWebhookBeforeClientCapture(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 2000)
	view := h.quote(t, productID, "buyer@example.com", "", "")
	ctx := context.Background()

	handled, err := h.svc.HandleEvent(ctx, payments.Event{
		ID:          "evt_1",
		Type:        payments.EventCaptureCompleted,
		IntentRef:   view.IntentRef,
		AmountCents: 2000,
		Currency:    "USD",
	})
	require.NoError(t, err)
	require.True(t, handled)
	assert.Equal(t, enums.CheckoutSessionStatusSettled, h.session(t, view.ID).Status)

	result, err := h.svc.Capture(ctx, view.ID, orders.Viewer{})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), result.Order.TotalCents)
	assert.Empty(t, h.gateway.Captures)
	assert.Equal(t, int64(1), h.count(t, &models.Order{}, ""))
}

func TestHandleEventIgnoresUnknownIntent(t *testing.T) {
	h := newHarness(t)
	handled, err := h.svc.HandleEvent(context.Background(), payments.Event{Type: payments.EventCaptureCompleted, IntentRef: "pi_other"})
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestAmountMismatchRejectsWithoutOrder(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 4000)
	view := h.quote(t, productID, "buyer@example.com", "", "")
	h.gateway.CaptureFunc = func(ref string, intent payments.Result) (*payments.Result, error) {
		intent.Outcome = payments.OutcomeCompleted
		intent.AmountCents = 3900
		return &intent, nil
	}

	_, err := h.svc.Capture(context.Background(), view.ID, orders.Viewer{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentRejected))

	session := h.session(t, view.ID)
	assert.Equal(t, enums.CheckoutSessionStatusRejected, session.Status)
	require.NotNil(t, session.FailureReason)
	assert.Equal(t, "amount_mismatch", *session.FailureReason)
	assert.Equal(t, int64(0), h.count(t, &models.Order{}, ""))
	assert.Equal(t, int64(1), h.count(t, &models.SettlementIncident{}, "reason = ?", enums.IncidentReasonAmountMismatch))
}

func TestDeniedWebhookReleasesAuthorization(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 4000)
	view := h.quote(t, productID, "buyer@example.com", "", "")
	ctx := context.Background()

	handled, err := h.svc.HandleEvent(ctx, payments.Event{
		ID:        "evt_denied",
		Type:      payments.EventCaptureDenied,
		IntentRef: view.IntentRef,
		Reason:    "requested_by_customer",
	})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, enums.CheckoutSessionStatusCaptureFailed, h.session(t, view.ID).Status)
	assert.Equal(t, []string{view.IntentRef}, h.gateway.Voided)

	// A redelivery does not void twice.
	_, err = h.svc.HandleEvent(ctx, payments.Event{ID: "evt_denied", Type: payments.EventCaptureDenied, IntentRef: view.IntentRef})
	require.NoError(t, err)
	assert.Len(t, h.gateway.Voided, 1)
}

func TestDeclinedCaptureFails(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 4000)
	view := h.quote(t, productID, "buyer@example.com", "", "")
	h.gateway.CaptureFunc = func(ref string, intent payments.Result) (*payments.Result, error) {
		intent.Outcome = payments.OutcomeDenied
		intent.Reason = "card_declined"
		return &intent, nil
	}

	_, err := h.svc.Capture(context.Background(), view.ID, orders.Viewer{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodePaymentRejected))
	session := h.session(t, view.ID)
	assert.Equal(t, enums.CheckoutSessionStatusCaptureFailed, session.Status)
	assert.Equal(t, "card_declined", *session.FailureReason)
	assert.Equal(t, []string{view.IntentRef}, h.gateway.Voided)
	assert.Equal(t, int64(0), h.count(t, &models.Order{}, ""))

	_, err = h.svc.Capture(context.Background(), view.ID, orders.Viewer{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestUnknownOutcomeLooksUpBeforeRetry(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 3000)
	view := h.quote(t, productID, "buyer@example.com", "", "")
	ctx := context.Background()

	h.gateway.CaptureFunc = func(string, payments.Result) (*payments.Result, error) {
		return nil, payments.ErrUnknownOutcome
	}
	_, err := h.svc.Capture(ctx, view.ID, orders.Viewer{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, enums.CheckoutSessionStatusGatewayPending, h.session(t, view.ID).Status)

	// The capture landed at the gateway even though the response was lost.
	h.gateway.CaptureFunc = nil
	h.gateway.Set(view.IntentRef, payments.Result{Outcome: payments.OutcomeCompleted, CaptureRef: "ch_late", AmountCents: 3000, Currency: "USD"})

	result, err := h.svc.Capture(ctx, view.ID, orders.Viewer{})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), result.Order.TotalCents)
	assert.Len(t, h.gateway.Captures, 1)
	assert.Equal(t, []string{view.IntentRef}, h.gateway.Lookups)
}

func TestFirstPurchaseOnlyCoupon(t *testing.T) {
	h := newHarness(t)
	h.seed(t, &models.Coupon{Code: "WELCOME", DiscountType: enums.DiscountTypeFixed, Value: decimal.NewFromInt(500), IsActive: true, FirstPurchaseOnly: true})
	productID := h.product(t, 5000)
	ctx := context.Background()

	view := h.quote(t, productID, "new@example.com", "WELCOME", "")
	assert.Equal(t, int64(4500), view.TotalCents)
	_, err := h.svc.Capture(ctx, view.ID, orders.Viewer{})
	require.NoError(t, err)

	_, err = h.svc.Quote(ctx, QuoteInput{
		Buyer:      Buyer{Email: "NEW@example.com", Country: "US"},
		Lines:      []catalog.LineRequest{{ProductID: productID, Quantity: 1}},
		CouponCode: "WELCOME",
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInstrumentRejected))
	_, reason, _ := discounts.RejectionReason(err)
	assert.Equal(t, string(coupons.ReasonFirstPurchaseOnly), reason)
}

func TestSettlementConflictOpensIncident(t *testing.T) {
	h := newHarness(t)
	limit := 1
	coupon := save20()
	coupon.UsageLimit = &limit
	h.seed(t, coupon)
	productID := h.product(t, 5000)
	ctx := context.Background()

	first := h.quote(t, productID, "one@example.com", "SAVE20", "")
	second := h.quote(t, productID, "two@example.com", "SAVE20", "")

	_, err := h.svc.Capture(ctx, first.ID, orders.Viewer{})
	require.NoError(t, err)

	// The buyer paid out of band; the webhook arrives after the coupon ran out.
	handled, err := h.svc.HandleEvent(ctx, payments.Event{
		ID:          "evt_2",
		Type:        payments.EventCaptureCompleted,
		IntentRef:   second.IntentRef,
		AmountCents: second.TotalCents,
		Currency:    "USD",
	})
	require.NoError(t, err)
	assert.True(t, handled)

	session := h.session(t, second.ID)
	assert.Equal(t, enums.CheckoutSessionStatusCaptureFailed, session.Status)
	assert.Equal(t, int64(1), h.count(t, &models.Order{}, ""))
	assert.Equal(t, int64(1), h.count(t, &models.SettlementIncident{}, "checkout_session_id = ? AND reason = ?", second.ID, enums.IncidentReasonSettlementConflict))

	var reloaded models.Coupon
	require.NoError(t, h.client.DB().First(&reloaded, "id = ?", coupon.ID).Error)
	assert.Equal(t, 1, reloaded.UsageCount)
}

func TestConcurrentCapturesRespectUsageLimit(t *testing.T) {
	h := newHarness(t)
	limit := 1
	coupon := save20()
	coupon.UsageLimit = &limit
	h.seed(t, coupon)
	productID := h.product(t, 5000)

	views := []*SessionView{
		h.quote(t, productID, "one@example.com", "SAVE20", ""),
		h.quote(t, productID, "two@example.com", "SAVE20", ""),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(views))
	for i, view := range views {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = h.svc.Capture(context.Background(), id, orders.Viewer{})
		}(i, view.ID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(1), h.count(t, &models.Order{}, ""))

	var reloaded models.Coupon
	require.NoError(t, h.client.DB().First(&reloaded, "id = ?", coupon.ID).Error)
	assert.Equal(t, 1, reloaded.UsageCount)
}

func TestExpiredQuoteIsVoided(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 2000)
	view := h.quote(t, productID, "buyer@example.com", "", "")
	h.svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	_, err := h.svc.Capture(context.Background(), view.ID, orders.Viewer{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, enums.CheckoutSessionStatusRejected, h.session(t, view.ID).Status)
	assert.Equal(t, []string{view.IntentRef}, h.gateway.Voided)
	assert.Empty(t, h.gateway.Captures)
}

func TestAccountSessionHiddenFromOtherUsers(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 2000)
	owner := uuid.New()
	view, err := h.svc.Quote(context.Background(), QuoteInput{
		Buyer: Buyer{UserID: &owner, Email: "owner@example.com", Country: "US"},
		Lines: []catalog.LineRequest{{ProductID: productID, Quantity: 1}},
	})
	require.NoError(t, err)

	stranger := uuid.New()
	_, err = h.svc.Get(context.Background(), view.ID, orders.Viewer{UserID: &stranger})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	got, err := h.svc.Get(context.Background(), view.ID, orders.Viewer{UserID: &owner})
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)
}

func TestRefundEventAppliedOnce(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 2000)
	view := h.quote(t, productID, "buyer@example.com", "", "")
	ctx := context.Background()
	result, err := h.svc.Capture(ctx, view.ID, orders.Viewer{})
	require.NoError(t, err)

	refund := payments.Event{ID: "evt_r", Type: payments.EventRefunded, IntentRef: view.IntentRef, AmountCents: 2000, Currency: "USD"}
	for i := 0; i < 2; i++ {
		handled, err := h.svc.HandleEvent(ctx, refund)
		require.NoError(t, err)
		assert.True(t, handled)
	}

	var order models.Order
	require.NoError(t, h.client.DB().First(&order, "id = ?", result.Order.ID).Error)
	assert.Equal(t, enums.OrderStatusRefunded, order.Status)
	assert.Equal(t, int64(1), h.count(t, &models.LedgerEvent{}, "order_id = ? AND type = ?", order.ID, enums.LedgerEventTypeRefund))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderRefunded))
}

func TestPartialRefundsOnlyRecordLedgerFacts(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 2000)
	view := h.quote(t, productID, "buyer@example.com", "", "")
	ctx := context.Background()
	result, err := h.svc.Capture(ctx, view.ID, orders.Viewer{})
	require.NoError(t, err)
	orderID := result.Order.ID

	refundedCents := func() int64 {
		var total int64
		require.NoError(t, h.client.DB().Model(&models.LedgerEvent{}).
			Where("order_id = ? AND type = ?", orderID, enums.LedgerEventTypeRefund).
			Select("COALESCE(SUM(amount_cents), 0)").Scan(&total).Error)
		return -total
	}
	status := func() enums.OrderStatus {
		var order models.Order
		require.NoError(t, h.client.DB().First(&order, "id = ?", orderID).Error)
		return order.Status
	}

	// Per-refund amounts, as Square reports them.
	for _, id := range []string{"evt_p1", "evt_p2", "evt_p1"} {
		_, err := h.svc.HandleEvent(ctx, payments.Event{ID: id, Type: payments.EventRefunded, IntentRef: view.IntentRef, AmountCents: 500, Currency: "USD"})
		require.NoError(t, err)
	}
	assert.Equal(t, enums.OrderStatusCompleted, status())
	assert.Equal(t, int64(1000), refundedCents())
	assert.Equal(t, int64(0), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderRefunded))

	// A running total, as Stripe reports it, refunds only the difference.
	_, err = h.svc.HandleEvent(ctx, payments.Event{ID: "evt_p3", Type: payments.EventRefunded, IntentRef: view.IntentRef, AmountCents: 2000, RefundedCents: 2000, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, status())
	assert.Equal(t, int64(2000), refundedCents())
	assert.Equal(t, int64(3), h.count(t, &models.LedgerEvent{}, "order_id = ? AND type = ?", orderID, enums.LedgerEventTypeRefund))
	assert.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderRefunded))
}

func TestRefundShare(t *testing.T) {
	tests := []struct {
		name   string
		event  payments.Event
		prior  int64
		amount int64
		full   bool
	}{
		{"no amounts refunds the rest", payments.Event{}, 500, 1500, true},
		{"per refund amount", payments.Event{AmountCents: 300}, 500, 300, false},
		{"running total", payments.Event{AmountCents: 1200, RefundedCents: 1200}, 500, 700, false},
		{"running total already applied", payments.Event{RefundedCents: 500}, 500, 0, false},
		{"capped at remainder", payments.Event{AmountCents: 5000}, 500, 1500, true},
		{"nothing left", payments.Event{AmountCents: 100}, 2000, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, full := refundShare(tt.event, tt.prior, 2000)
			assert.Equal(t, tt.amount, amount)
			assert.Equal(t, tt.full, full)
		})
	}
}

func TestReconcileSettlesAndExpires(t *testing.T) {
	h := newHarness(t)
	productID := h.product(t, 2000)
	view := h.quote(t, productID, "buyer@example.com", "", "")
	h.gateway.Set(view.IntentRef, payments.Result{Outcome: payments.OutcomeCompleted, AmountCents: 2000, Currency: "USD"})

	stale := &models.CheckoutSession{
		Status:    enums.CheckoutSessionStatusQuoted,
		Email:     "late@example.com",
		Country:   "US",
		Lines:     []byte("[]"),
		Currency:  "USD",
		Provider:  "stripe",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	h.seed(t, stale)

	h.svc.now = func() time.Time { return time.Now().Add(15 * time.Minute) }
	report, err := h.svc.Reconcile(context.Background(), ReconcileInput{StaleAfter: 10 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, enums.CheckoutSessionStatusSettled, h.session(t, view.ID).Status)
	assert.Equal(t, enums.CheckoutSessionStatusRejected, h.session(t, stale.ID).Status)
	assert.Empty(t, h.gateway.Captures)
}

func TestCaptureRejectsStaleQuote(t *testing.T) {
	h := newHarness(t)
	card := &models.GiftCard{Code: "GC-AAAA-BBBB-EEEE", InitialAmountCents: 1000, BalanceCents: 1000, Currency: "USD", Status: enums.GiftCardStatusActive, PurchaserEmail: "gifter@example.com", ExpiresAt: time.Now().Add(24 * time.Hour)}
	h.seed(t, card)
	productID := h.product(t, 5000)
	view := h.quote(t, productID, "buyer@example.com", "", card.Code)

	require.NoError(t, h.client.DB().Model(&models.GiftCard{}).Where("id = ?", card.ID).Update("balance_cents", 400).Error)

	_, err := h.svc.Capture(context.Background(), view.ID, orders.Viewer{})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInstrumentRejected))
	_, reason, _ := discounts.RejectionReason(err)
	assert.Equal(t, "quote_stale", reason)
	assert.Equal(t, enums.CheckoutSessionStatusRejected, h.session(t, view.ID).Status)
	assert.Empty(t, h.gateway.Captures)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}
