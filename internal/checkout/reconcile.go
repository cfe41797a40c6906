package checkout

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/digistore1/digistore-backend/internal/payments"
	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

const (
	defaultReconcileStaleAfter = 10 * time.Minute
	defaultReconcileLimit      = 100
)

// ReconcileInput bounds one reconciliation sweep.
type ReconcileInput struct {
	StaleAfter time.Duration
	Limit      int
}

// ReconcileReport counts what a sweep changed.
type ReconcileReport struct {
	Settled int
	Failed  int
	Expired int
	Pending int
}

// Reconcile drives sessions that stalled between steps: CAPTURED sessions that
// never settled, GATEWAY_PENDING sessions whose capture outcome was never
// observed, and QUOTED sessions past their expiry.
func (s *service) Reconcile(ctx context.Context, input ReconcileInput) (*ReconcileReport, error) {
	if input.StaleAfter <= 0 {
		input.StaleAfter = defaultReconcileStaleAfter
	}
	if input.Limit <= 0 {
		input.Limit = defaultReconcileLimit
	}
	now := s.now().UTC()
	cutoff := now.Add(-input.StaleAfter)
	report := &ReconcileReport{}
	var errs error

	captured, err := s.sessions.ListByStatus(ctx, enums.CheckoutSessionStatusCaptured, cutoff, input.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list captured sessions")
	}
	for i := range captured {
		session := &captured[i]
		sctx := s.logg.WithSessionID(ctx, session.ID.String())
		if _, err := s.settle(sctx, session); err != nil {
			report.Failed++
			errs = multierr.Append(errs, absorb(err))
			continue
		}
		report.Settled++
	}

	pending, err := s.sessions.ListByStatus(ctx, enums.CheckoutSessionStatusGatewayPending, cutoff, input.Limit)
	if err != nil {
		return report, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending sessions"))
	}
	for i := range pending {
		errs = multierr.Append(errs, s.reconcilePending(ctx, &pending[i], now, report))
	}

	quoted, err := s.sessions.ListByStatus(ctx, enums.CheckoutSessionStatusQuoted, now, input.Limit)
	if err != nil {
		return report, multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list quoted sessions"))
	}
	for _, session := range quoted {
		if now.Before(session.ExpiresAt) {
			continue
		}
		moved, err := s.sessions.Transition(ctx, session.ID,
			[]enums.CheckoutSessionStatus{enums.CheckoutSessionStatusQuoted},
			enums.CheckoutSessionStatusRejected,
			map[string]any{"failure_reason": "quote_expired"},
		)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if moved {
			report.Expired++
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"settled": report.Settled,
		"failed":  report.Failed,
		"expired": report.Expired,
		"pending": report.Pending,
	}), "checkout reconcile finished")
	return report, errs
}

func (s *service) reconcilePending(ctx context.Context, session *models.CheckoutSession, now time.Time, report *ReconcileReport) error {
	if session.IntentRef == nil {
		return nil
	}
	ctx = s.logg.WithSessionID(ctx, session.ID.String())
	res, err := s.gateway.Lookup(ctx, *session.IntentRef)
	if err != nil {
		report.Pending++
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up payment intent")
	}

	switch res.Outcome {
	case payments.OutcomeCompleted:
		if _, err := s.finalize(ctx, session, res); err != nil {
			report.Failed++
			return absorb(err)
		}
		report.Settled++
	case payments.OutcomeDenied, payments.OutcomeVoided:
		reason := res.Reason
		if reason == "" {
			reason = "capture denied"
		}
		_ = s.fail(ctx, session, reason)
		report.Failed++
	case payments.OutcomeAuthorized:
		if now.Before(session.ExpiresAt) {
			report.Pending++
			return nil
		}
		s.abandon(ctx, session, "quote_expired")
		report.Expired++
	default:
		report.Pending++
	}
	return nil
}
