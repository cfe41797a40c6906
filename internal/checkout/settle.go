package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/internal/catalog"
	"github.com/digistore1/digistore-backend/internal/coupons"
	"github.com/digistore1/digistore-backend/internal/customers"
	"github.com/digistore1/digistore-backend/internal/discounts"
	"github.com/digistore1/digistore-backend/internal/downloads"
	"github.com/digistore1/digistore-backend/internal/incidents"
	"github.com/digistore1/digistore-backend/internal/ledger"
	"github.com/digistore1/digistore-backend/internal/orders"
	"github.com/digistore1/digistore-backend/internal/payments"
	"github.com/digistore1/digistore-backend/internal/referrals"
	"github.com/digistore1/digistore-backend/internal/vendors"
	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/outbox"
	"github.com/digistore1/digistore-backend/pkg/outbox/payloads"
)

var (
	pendingStatuses = []enums.CheckoutSessionStatus{enums.CheckoutSessionStatusGatewayPending}
	settleable      = []enums.CheckoutSessionStatus{enums.CheckoutSessionStatusCaptured, enums.CheckoutSessionStatusQuoted}
)

// Capture asks the gateway to capture the session's intent and settles it.
// A settled session returns its existing order. A capture whose outcome could
// not be observed leaves the session GATEWAY_PENDING; the next attempt looks
// the intent up before capturing again.
func (s *service) Capture(ctx context.Context, sessionID uuid.UUID, viewer orders.Viewer) (*CaptureResult, error) {
	session, err := s.load(ctx, sessionID, viewer)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithSessionID(ctx, session.ID.String())

	switch session.Status {
	case enums.CheckoutSessionStatusSettled:
		s.metrics.IncOutcome("capture", "replay")
		return s.settledResult(ctx, session)
	case enums.CheckoutSessionStatusCaptured:
		return s.settle(ctx, session)
	case enums.CheckoutSessionStatusGatewayPending:
	default:
		return nil, stateConflict(session)
	}
	if session.IntentRef == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout session has no payment intent")
	}
	ref := *session.IntentRef

	if session.CaptureAttempts > 0 {
		res, err := s.gateway.Lookup(ctx, ref)
		if err != nil {
			return nil, unknownOutcome(session, err)
		}
		if res.Outcome != payments.OutcomeAuthorized {
			return s.applyResult(ctx, session, res)
		}
	}

	now := s.now().UTC()
	if !now.Before(session.ExpiresAt) {
		s.abandon(ctx, session, "quote_expired")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "quote expired; request a new quote").
			WithDetails(map[string]any{"checkout_session_id": session.ID.String()})
	}
	if err := s.revalidate(ctx, session); err != nil {
		reason := "revalidation_failed"
		if _, why, ok := discounts.RejectionReason(err); ok {
			reason = why
		}
		s.countRejection(err)
		s.abandon(ctx, session, reason)
		return nil, err
	}

	if err := s.sessions.RecordAttempt(ctx, session.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record capture attempt")
	}
	session.CaptureAttempts++

	captureCtx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	start := time.Now()
	res, err := s.gateway.Capture(captureCtx, ref, "capture-"+session.ID.String())
	cancel()
	s.metrics.ObserveCapture(s.gateway.Name(), time.Since(start))
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodePaymentRejected) {
			return nil, s.fail(ctx, session, pkgerrors.As(err).Message())
		}
		return nil, unknownOutcome(session, err)
	}
	return s.applyResult(ctx, session, res)
}

func (s *service) applyResult(ctx context.Context, session *models.CheckoutSession, res *payments.Result) (*CaptureResult, error) {
	switch res.Outcome {
	case payments.OutcomeCompleted:
		return s.finalize(ctx, session, res)
	case payments.OutcomeDenied, payments.OutcomeVoided:
		reason := res.Reason
		if reason == "" {
			reason = "capture denied"
		}
		return nil, s.fail(ctx, session, reason)
	default:
		s.metrics.IncOutcome("capture", "pending")
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment is still processing; retry later").
			WithDetails(map[string]any{"checkout_session_id": session.ID.String(), "outcome": string(res.Outcome)})
	}
}

// finalize verifies the captured amount against the quote, records CAPTURED
// and runs the settlement unit.
func (s *service) finalize(ctx context.Context, session *models.CheckoutSession, res *payments.Result) (*CaptureResult, error) {
	if session.Status == enums.CheckoutSessionStatusGatewayPending {
		fields := map[string]any{"captured_amount_cents": res.AmountCents}
		if res.CaptureRef != "" {
			fields["capture_ref"] = res.CaptureRef
		}

		if res.AmountCents != session.TotalCents || (res.Currency != "" && !strings.EqualFold(res.Currency, session.Currency)) {
			fields["failure_reason"] = "amount_mismatch"
			moved, err := s.sessions.Transition(ctx, session.ID, pendingStatuses, enums.CheckoutSessionStatusRejected, fields)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject mismatched capture")
			}
			s.metrics.IncOutcome("capture", "amount_mismatch")
			detail := fmt.Sprintf("captured %d %s, quoted %d %s", res.AmountCents, res.Currency, session.TotalCents, session.Currency)
			if moved {
				captured := res.AmountCents
				s.openIncident(ctx, session, enums.IncidentReasonAmountMismatch, &captured, detail)
			}
			return nil, pkgerrors.New(pkgerrors.CodePaymentRejected, "captured amount does not match the quote").
				WithDetails(map[string]any{
					"checkout_session_id": session.ID.String(),
					"expected_cents":      session.TotalCents,
					"captured_cents":      res.AmountCents,
				})
		}

		moved, err := s.sessions.Transition(ctx, session.ID, pendingStatuses, enums.CheckoutSessionStatusCaptured, fields)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record capture")
		}
		if !moved {
			current, err := s.sessions.FindByID(ctx, session.ID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload checkout session")
			}
			switch current.Status {
			case enums.CheckoutSessionStatusSettled:
				return s.settledResult(ctx, current)
			case enums.CheckoutSessionStatusCaptured:
			default:
				return nil, stateConflict(current)
			}
			session = current
		} else {
			session.Status = enums.CheckoutSessionStatusCaptured
			session.CapturedAmountCents = &res.AmountCents
		}
		s.metrics.IncOutcome("capture", "captured")
	}
	return s.settle(ctx, session)
}

// fail records a gateway decline. The session becomes CAPTURE_FAILED and no
// order is created.
func (s *service) fail(ctx context.Context, session *models.CheckoutSession, reason string) error {
	moved, err := s.sessions.Transition(ctx, session.ID, pendingStatuses, enums.CheckoutSessionStatusCaptureFailed, map[string]any{"failure_reason": reason})
	if err != nil {
		s.logg.Error(ctx, "record capture failure", err)
	}
	// CAPTURE_FAILED is terminal and never reconciled, so any authorization
	// still on the intent is released here.
	if moved && session.IntentRef != nil {
		s.void(ctx, *session.IntentRef)
	}
	s.metrics.IncOutcome("capture", "denied")
	s.logg.Warn(s.logg.WithField(ctx, "reason", reason), "capture denied")
	return pkgerrors.New(pkgerrors.CodePaymentRejected, "payment was declined").
		WithDetails(map[string]any{"checkout_session_id": session.ID.String(), "reason": reason})
}

// abandon rejects a session before capture and releases the authorization.
func (s *service) abandon(ctx context.Context, session *models.CheckoutSession, reason string) {
	moved, err := s.sessions.Transition(ctx, session.ID, pendingStatuses, enums.CheckoutSessionStatusRejected, map[string]any{"failure_reason": reason})
	if err != nil {
		s.logg.Error(ctx, "reject checkout session", err)
		return
	}
	s.metrics.IncOutcome("capture", "rejected")
	if moved && session.IntentRef != nil {
		s.void(ctx, *session.IntentRef)
	}
}

func (s *service) void(ctx context.Context, ref string) {
	if err := s.gateway.Void(ctx, ref); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "intent_ref", ref), "void payment intent", err)
	}
}

// revalidate re-runs the discount plan at capture time. Any change from the
// quote rejects the session.
func (s *service) revalidate(ctx context.Context, session *models.CheckoutSession) error {
	if session.CouponID == nil && session.GiftCardID == nil {
		return nil
	}
	plan, err := s.resolver.Plan(ctx, discounts.Input{
		SubtotalCents: session.SubtotalCents,
		CouponCode:    deref(session.CouponCode),
		GiftCardCode:  deref(session.GiftCardCode),
		Identity:      identityOf(session),
	})
	if err != nil {
		return err
	}
	switch {
	case plan.CouponDiscountCents != session.CouponDiscountCents:
		return discounts.Rejection(discounts.InstrumentCoupon, "quote_stale", "the coupon no longer applies as quoted; request a new quote")
	case plan.GiftCardAmountCents != session.GiftCardAmountCents:
		return discounts.Rejection(discounts.InstrumentGiftCard, "quote_stale", "the gift card balance changed; request a new quote")
	}
	return nil
}

// settle runs the settlement unit for a CAPTURED (or free QUOTED) session.
func (s *service) settle(ctx context.Context, session *models.CheckoutSession) (*CaptureResult, error) {
	var (
		order  *models.Order
		grants []models.DownloadGrant
		replay bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.sessions.WithTx(tx).Lock(ctx, session.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock checkout session")
		}
		if locked == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		existing, err := s.existingOrder(ctx, s.orders.WithTx(tx), locked)
		if err != nil {
			return err
		}
		if existing != nil {
			order, replay = existing, true
			return nil
		}
		if !canSettle(locked) {
			return stateConflict(locked)
		}
		order, grants, err = s.apply(ctx, tx, locked)
		return err
	})
	if err != nil {
		if existing, lookupErr := s.existingOrder(ctx, s.orders, session); lookupErr == nil && existing != nil {
			order, replay = existing, true
		} else {
			return nil, s.settlementFailed(ctx, session, err)
		}
	}

	if replay {
		s.metrics.IncOutcome("settle", "replay")
	} else {
		outcome := "settled"
		if order.PaymentMethod == enums.PaymentMethodFree {
			outcome = "free"
		}
		s.metrics.IncOutcome("settle", outcome)
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"order_id":     order.ID.String(),
			"order_number": order.OrderNumber,
			"total_cents":  order.TotalCents,
		}), "checkout settled")
		s.requestNotification(ctx, order, grants)
	}

	current, err := s.sessions.FindByID(ctx, session.ID)
	if err != nil || current == nil {
		current = session
		current.Status = enums.CheckoutSessionStatusSettled
		current.OrderID = &order.ID
	}
	return &CaptureResult{Session: toView(current), Order: orders.ToDTO(order)}, nil
}

func canSettle(session *models.CheckoutSession) bool {
	switch session.Status {
	case enums.CheckoutSessionStatusCaptured:
		return true
	case enums.CheckoutSessionStatusQuoted:
		return session.Provider == string(enums.PaymentMethodFree)
	default:
		return false
	}
}

// existingOrder finds an order already written for this session or its
// payment reference.
func (s *service) existingOrder(ctx context.Context, repo orders.Repository, session *models.CheckoutSession) (*models.Order, error) {
	order, err := repo.FindByCheckoutSessionID(ctx, session.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by session")
	}
	if order != nil || session.IntentRef == nil {
		return order, nil
	}
	order, err = repo.FindByPaymentReference(ctx, *session.IntentRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by payment reference")
	}
	return order, nil
}

// apply writes every settlement side effect inside tx. Instruments are
// re-read and guarded here rather than trusted from the quote.
func (s *service) apply(ctx context.Context, tx *gorm.DB, session *models.CheckoutSession) (*models.Order, []models.DownloadGrant, error) {
	lines, err := decodeLines(session.Lines)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode checkout lines")
	}
	if len(lines) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout session has no lines")
	}
	now := s.now().UTC()
	identity := identityOf(session)

	if session.CouponID != nil {
		if err := s.consumeCoupon(ctx, tx, *session.CouponID, identity, now); err != nil {
			return nil, nil, err
		}
	}

	order, credits, err := buildOrder(session, lines, s.cfg.FeeRate(), now)
	if err != nil {
		return nil, nil, err
	}
	if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	if session.GiftCardID != nil && session.GiftCardAmountCents > 0 {
		giftCards := s.giftCards.WithTx(tx)
		card, err := giftCards.LockByID(ctx, *session.GiftCardID)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock gift card")
		}
		if card == nil {
			return nil, nil, conflict(discounts.InstrumentGiftCard, "not_found", "gift card no longer exists")
		}
		debited, err := giftCards.Debit(ctx, card.ID, order.ID, session.GiftCardAmountCents, now)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit gift card")
		}
		if !debited {
			return nil, nil, conflict(discounts.InstrumentGiftCard, "insufficient_balance", "gift card balance was consumed by another order")
		}
	}

	vendorRepo := s.vendors.WithTx(tx)
	shares := make([]ledger.VendorShare, 0, len(credits))
	var vendorTotal int64
	for _, credit := range credits {
		if err := vendorRepo.Credit(ctx, credit.VendorID, credit.RevenueCents, credit.Sales); err != nil {
			if errors.Is(err, vendors.ErrAccountMissing) {
				return nil, nil, conflict("vendor", "account_missing", "vendor account missing for "+credit.VendorID.String())
			}
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit vendor")
		}
		shares = append(shares, ledger.VendorShare{VendorID: credit.VendorID, RevenueCents: credit.RevenueCents})
		vendorTotal += credit.RevenueCents
	}

	var commission int64
	if session.ReferralCode != nil {
		conversion, err := s.referrals.WithTx(tx).Convert(ctx, referrals.ConversionInput{
			Code:        *session.ReferralCode,
			OrderID:     order.ID,
			BuyerUserID: session.UserID,
			BuyerEmail:  session.Email,
			TotalCents:  order.TotalCents,
			Rate:        s.cfg.CommissionRate(),
		})
		if err != nil {
			return nil, nil, err
		}
		if conversion != nil {
			commission = conversion.CommissionCents
		}
	}

	grants, err := s.downloads.WithTx(tx).Issue(ctx, order.ID, deliverables(order, lines))
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "issue download grants")
	}

	if _, err := s.ledger.WithTx(tx).RecordSettlement(ctx, ledger.SettlementFacts{
		OrderID:                 order.ID,
		Currency:                order.Currency,
		PaymentReference:        deref(order.PaymentReference),
		CollectedCents:          order.TotalCents,
		VendorShares:            shares,
		PlatformFeeCents:        order.SubtotalCents - vendorTotal,
		GiftCardID:              order.GiftCardID,
		GiftCardAmountCents:     order.GiftCardAmountCents,
		ReferralCommissionCents: commission,
	}); err != nil {
		return nil, nil, err
	}

	vendorIDs := make([]uuid.UUID, 0, len(credits))
	for _, credit := range credits {
		vendorIDs = append(vendorIDs, credit.VendorID)
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderSettled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderSettledEvent{
			OrderID:           order.ID,
			OrderNumber:       order.OrderNumber,
			CheckoutSessionID: session.ID,
			UserID:            order.UserID,
			TotalCents:        order.TotalCents,
			DiscountCents:     order.DiscountCents,
			Currency:          order.Currency,
			PaymentMethod:     order.PaymentMethod,
			PaymentReference:  order.PaymentReference,
			VendorIDs:         vendorIDs,
			SettledAt:         now,
		},
	}); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order settled event")
	}

	moved, err := s.sessions.WithTx(tx).Transition(ctx, session.ID, settleable, enums.CheckoutSessionStatusSettled, map[string]any{"order_id": order.ID})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark session settled")
	}
	if !moved {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session changed during settlement")
	}
	return order, grants, nil
}

// consumeCoupon re-checks first-purchase eligibility against committed orders
// and bumps the usage counter under its guard.
func (s *service) consumeCoupon(ctx context.Context, tx *gorm.DB, couponID uuid.UUID, identity customers.Identity, now time.Time) error {
	repo := s.coupons.WithTx(tx)
	coupon, err := repo.LockByID(ctx, couponID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock coupon")
	}
	if coupon == nil {
		return conflict(discounts.InstrumentCoupon, string(coupons.ReasonNotFound), "coupon no longer exists")
	}
	if coupon.FirstPurchaseOnly {
		eligible, err := s.qualifier.WithTx(tx).IsEligible(ctx, identity)
		if err != nil {
			return err
		}
		if !eligible {
			return conflict(discounts.InstrumentCoupon, string(coupons.ReasonFirstPurchaseOnly), "coupon is only valid on a first purchase")
		}
	}
	incremented, err := repo.IncrementUsage(ctx, coupon.ID, now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment coupon usage")
	}
	if !incremented {
		return conflict(discounts.InstrumentCoupon, string(coupons.ReasonUsageLimit), "coupon usage limit was reached by another order")
	}
	return nil
}

// buildOrder snapshots the quoted lines into an order and aggregates the
// vendor credits it produces.
func buildOrder(session *models.CheckoutSession, lines []catalog.PricedLine, feeRate decimal.Decimal, now time.Time) (*models.Order, []vendors.Credit, error) {
	number, err := orders.GenerateNumber(now)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
	}
	discount := session.CouponDiscountCents + session.GiftCardAmountCents
	if session.TotalCents != session.SubtotalCents-discount || session.TotalCents < 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout totals are inconsistent")
	}

	order := &models.Order{
		ID:                  uuid.New(),
		OrderNumber:         number,
		UserID:              session.UserID,
		BillingEmail:        session.Email,
		BillingFirstName:    session.FirstName,
		BillingLastName:     session.LastName,
		BillingCountry:      session.Country,
		SubtotalCents:       session.SubtotalCents,
		CouponDiscountCents: session.CouponDiscountCents,
		GiftCardAmountCents: session.GiftCardAmountCents,
		DiscountCents:       discount,
		TotalCents:          session.TotalCents,
		Currency:            session.Currency,
		PaymentMethod:       enums.PaymentMethod(session.Provider),
		PaymentReference:    session.IntentRef,
		PaymentStatus:       enums.PaymentStatusCaptured,
		Status:              enums.OrderStatusCompleted,
		CouponID:            session.CouponID,
		GiftCardID:          session.GiftCardID,
		ReferralCode:        session.ReferralCode,
		CheckoutSessionID:   session.ID,
	}
	if order.PaymentMethod == enums.PaymentMethodFree {
		order.PaymentStatus = enums.PaymentStatusFree
	}

	var subtotal int64
	byVendor := map[uuid.UUID]int{}
	var credits []vendors.Credit
	order.Items = make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		earnings := vendors.Earnings(line.LineTotalCents, feeRate)
		order.Items = append(order.Items, models.OrderItem{
			ID:                  uuid.New(),
			OrderID:             order.ID,
			ProductID:           line.ProductID,
			VendorID:            line.VendorID,
			ProductTitle:        line.Title,
			UnitPriceCents:      line.UnitPriceCents,
			Quantity:            line.Quantity,
			LicenseTier:         line.LicenseTier,
			LineTotalCents:      line.LineTotalCents,
			VendorEarningsCents: earnings,
		})
		subtotal += line.LineTotalCents
		idx, ok := byVendor[line.VendorID]
		if !ok {
			idx = len(credits)
			byVendor[line.VendorID] = idx
			credits = append(credits, vendors.Credit{VendorID: line.VendorID})
		}
		credits[idx].RevenueCents += earnings
		credits[idx].Sales += int64(line.Quantity)
	}
	if subtotal != session.SubtotalCents {
		return nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout lines do not match the quoted subtotal")
	}
	return order, credits, nil
}

// settlementFailed handles a discarded settlement unit. Captured money without
// an order becomes CAPTURE_FAILED plus an incident; a free order becomes REJECTED.
func (s *service) settlementFailed(ctx context.Context, session *models.CheckoutSession, cause error) error {
	if pkgerrors.IsCode(cause, pkgerrors.CodeStateConflict) || pkgerrors.IsCode(cause, pkgerrors.CodeNotFound) {
		return cause
	}

	if session.Provider == string(enums.PaymentMethodFree) {
		if _, err := s.sessions.Transition(ctx, session.ID, []enums.CheckoutSessionStatus{enums.CheckoutSessionStatusQuoted}, enums.CheckoutSessionStatusRejected, map[string]any{"failure_reason": failureReason(cause)}); err != nil {
			s.logg.Error(ctx, "reject free checkout", err)
		}
		s.metrics.IncOutcome("settle", "free_rejected")
		if typed := pkgerrors.As(cause); typed != nil && typed.Code() == pkgerrors.CodeSettlementConflict {
			return pkgerrors.New(pkgerrors.CodeInstrumentRejected, typed.Message()).WithDetails(typed.Details())
		}
		return cause
	}

	if _, err := s.sessions.Transition(ctx, session.ID, []enums.CheckoutSessionStatus{enums.CheckoutSessionStatusCaptured}, enums.CheckoutSessionStatusCaptureFailed, map[string]any{"failure_reason": failureReason(cause)}); err != nil {
		s.logg.Error(ctx, "mark capture failed", err)
	}
	s.metrics.IncOutcome("settle", "conflict")
	s.logg.Error(s.logg.WithField(ctx, "payment_reference", deref(session.IntentRef)), "settlement discarded after capture", cause)
	incident := s.openIncident(ctx, session, enums.IncidentReasonSettlementConflict, session.CapturedAmountCents, cause.Error())

	details := map[string]any{
		"checkout_session_id": session.ID.String(),
		"payment_reference":   deref(session.IntentRef),
	}
	if incident != nil {
		details["incident_id"] = incident.ID.String()
	}
	return pkgerrors.Wrap(pkgerrors.CodeSettlementConflict, cause, "payment captured but the order could not be settled; it has been queued for review").
		WithDetails(details)
}

func (s *service) openIncident(ctx context.Context, session *models.CheckoutSession, reason enums.IncidentReason, captured *int64, detail string) *models.SettlementIncident {
	incident, err := s.incidents.Open(ctx, incidents.OpenInput{
		CheckoutSessionID:   session.ID,
		Provider:            session.Provider,
		PaymentReference:    deref(session.IntentRef),
		ExpectedAmountCents: session.TotalCents,
		CapturedAmountCents: captured,
		Currency:            session.Currency,
		Reason:              reason,
		Detail:              detail,
		Snapshot:            toView(session),
	})
	if err != nil {
		// The session row still carries the capture reference for replay.
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"payment_reference": deref(session.IntentRef),
			"reason":            string(reason),
			"detail":            detail,
		}), "record settlement incident", err)
		return nil
	}
	return incident
}

// settledResult returns the order of a session that already settled.
func (s *service) settledResult(ctx context.Context, session *models.CheckoutSession) (*CaptureResult, error) {
	order, err := s.existingOrder(ctx, s.orders, session)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settled checkout session has no order")
	}
	return &CaptureResult{Session: toView(session), Order: orders.ToDTO(order)}, nil
}

// requestNotification queues the fulfillment email after the settlement
// commit. Failures are logged and never change the order.
func (s *service) requestNotification(ctx context.Context, order *models.Order, grants []models.DownloadGrant) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotificationTimeout)
	defer cancel()

	tokens := make(map[uuid.UUID]string, len(grants))
	for _, grant := range grants {
		tokens[grant.OrderItemID] = grant.Token
	}
	items := make([]payloads.NotificationItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payloads.NotificationItem{
			ProductID:     item.ProductID,
			Title:         item.ProductTitle,
			Quantity:      item.Quantity,
			LicenseTier:   item.LicenseTier,
			DownloadToken: tokens[item.ID],
		})
	}
	err := s.tx.WithTx(notifyCtx, func(tx *gorm.DB) error {
		return s.outbox.Emit(notifyCtx, tx, outbox.DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.NotificationRequestedEvent{
				Recipient:   order.BillingEmail,
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				TotalCents:  order.TotalCents,
				Currency:    order.Currency,
				Items:       items,
			},
		})
	})
	if err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "queue fulfillment notification", err)
	}
}

func deliverables(order *models.Order, lines []catalog.PricedLine) []downloads.Deliverable {
	var out []downloads.Deliverable
	for i, line := range lines {
		if !line.IsDigital || i >= len(order.Items) {
			continue
		}
		out = append(out, downloads.Deliverable{
			OrderItemID:    order.Items[i].ID,
			ProductID:      line.ProductID,
			DeliverableRef: line.DeliverableRef,
		})
	}
	return out
}

func identityOf(session *models.CheckoutSession) customers.Identity {
	return customers.Identity{UserID: session.UserID, Email: session.Email}
}

func conflict(instrument, reason, message string) error {
	return pkgerrors.New(pkgerrors.CodeSettlementConflict, message).WithDetails(map[string]any{
		"instrument": instrument,
		"reason":     reason,
	})
}

func failureReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			if reason, ok := details["reason"].(string); ok && reason != "" {
				return reason
			}
		}
		return strings.ToLower(string(typed.Code()))
	}
	return "settlement_failed"
}

func stateConflict(session *models.CheckoutSession) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session cannot be captured in its current state").
		WithDetails(map[string]any{"checkout_session_id": session.ID.String(), "status": string(session.Status)})
}

func unknownOutcome(session *models.CheckoutSession, err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment outcome unknown; retry the capture").
		WithDetails(map[string]any{"checkout_session_id": session.ID.String()})
}
