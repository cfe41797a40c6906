package checkout

import (
	"context"

	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/internal/ledger"
	"github.com/digistore1/digistore-backend/internal/payments"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/outbox"
	"github.com/digistore1/digistore-backend/pkg/outbox/payloads"
)

// HandleEvent applies a verified gateway notification. It reports false when
// the event does not belong to a checkout so callers can route it elsewhere.
// Events are applied through the same guarded transitions as Capture, so a
// webhook racing a client capture produces a single order.
func (s *service) HandleEvent(ctx context.Context, event payments.Event) (bool, error) {
	if event.IntentRef == "" {
		return false, nil
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"intent_ref": event.IntentRef,
	})

	switch event.Type {
	case payments.EventCaptureCompleted, payments.EventCaptureDenied:
		return s.handleCapture(ctx, event)
	case payments.EventRefunded:
		return s.handleRefund(ctx, event)
	default:
		return false, nil
	}
}

func (s *service) handleCapture(ctx context.Context, event payments.Event) (bool, error) {
	session, err := s.sessions.FindByIntentRef(ctx, event.IntentRef)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session by intent")
	}
	if session == nil {
		return false, nil
	}
	ctx = s.logg.WithSessionID(ctx, session.ID.String())

	switch session.Status {
	case enums.CheckoutSessionStatusSettled:
		s.metrics.IncOutcome("webhook", "replay")
		return true, nil
	case enums.CheckoutSessionStatusCaptured:
		_, err := s.settle(ctx, session)
		return true, absorb(err)
	case enums.CheckoutSessionStatusGatewayPending:
	default:
		s.logg.Info(s.logg.WithField(ctx, "status", string(session.Status)), "ignoring gateway event for finished session")
		return true, nil
	}

	if event.Type == payments.EventCaptureDenied {
		reason := event.Reason
		if reason == "" {
			reason = "capture denied"
		}
		return true, absorb(s.fail(ctx, session, reason))
	}
	_, err = s.finalize(ctx, session, &payments.Result{
		Outcome:     payments.OutcomeCompleted,
		Ref:         event.IntentRef,
		AmountCents: event.AmountCents,
		Currency:    event.Currency,
	})
	return true, absorb(err)
}

// handleRefund records each provider refund as a ledger fact. The order only
// moves to REFUNDED once the refunds cover its total.
func (s *service) handleRefund(ctx context.Context, event payments.Event) (bool, error) {
	order, err := s.orders.FindByPaymentReference(ctx, event.IntentRef)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by payment reference")
	}
	if order == nil {
		return false, nil
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	var (
		applied int64
		full    bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ledgerTx := s.ledger.WithTx(tx)
		history, err := ledgerTx.Refunds(ctx, order.ID)
		if err != nil {
			return err
		}
		if history.Includes(event.ID) {
			return nil
		}
		amount, covers := refundShare(event, history.TotalCents, order.TotalCents)
		if amount <= 0 {
			return nil
		}
		if covers {
			moved, err := s.orders.WithTx(tx).MarkRefunded(ctx, order.ID)
			if err != nil {
				return err
			}
			if !moved {
				return nil
			}
		}
		if err := ledgerTx.RecordRefund(ctx, ledger.Refund{
			OrderID:          order.ID,
			AmountCents:      amount,
			Currency:         order.Currency,
			PaymentReference: event.IntentRef,
			EventID:          event.ID,
		}); err != nil {
			return err
		}
		applied, full = amount, covers
		if !covers {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderRefundedEvent{
				OrderID:          order.ID,
				PaymentReference: event.IntentRef,
				AmountCents:      history.TotalCents + amount,
				RefundedAt:       s.now().UTC(),
			},
		})
	})
	if err != nil {
		return true, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}
	switch {
	case full:
		s.metrics.IncOutcome("webhook", "refunded")
		s.logg.Info(ctx, "order refunded")
	case applied > 0:
		s.metrics.IncOutcome("webhook", "partially_refunded")
		s.logg.Info(s.logg.WithField(ctx, "refund_cents", applied), "order partially refunded")
	}
	return true, nil
}

// refundShare returns what the event adds to the order's refunds, capped at
// the unrefunded remainder, and whether the order is then fully refunded. An
// event without amounts refunds the remainder.
func refundShare(event payments.Event, priorCents, totalCents int64) (int64, bool) {
	remaining := totalCents - priorCents
	if remaining <= 0 {
		return 0, false
	}
	amount := remaining
	switch {
	case event.RefundedCents > 0:
		amount = event.RefundedCents - priorCents
	case event.AmountCents > 0:
		amount = event.AmountCents
	}
	if amount <= 0 {
		return 0, false
	}
	amount = min(amount, remaining)
	return amount, amount == remaining
}

// absorb drops business outcomes that a webhook cannot act on. Declines and
// settlement conflicts are already recorded on the session.
func absorb(err error) error {
	if err == nil ||
		pkgerrors.IsCode(err, pkgerrors.CodePaymentRejected) ||
		pkgerrors.IsCode(err, pkgerrors.CodeSettlementConflict) ||
		pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		return nil
	}
	return err
}
