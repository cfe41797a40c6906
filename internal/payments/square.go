package payments

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/digistore1/digistore-backend/pkg/config"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/square"
)

type squarePayments interface {
	CreatePayment(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
	CompletePayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

// SquareAdapter maps delayed-capture Square payments onto the gateway contract.
// The buyer's card nonce must be known at quote time.
type SquareAdapter struct {
	client squarePayments
}

func NewSquareAdapter(client squarePayments) (*SquareAdapter, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "square client required")
	}
	return &SquareAdapter{client: client}, nil
}

func (a *SquareAdapter) Name() string { return config.PaymentProviderSquare }

func (a *SquareAdapter) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if strings.TrimSpace(req.SourceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment source id is required for square")
	}
	payment, err := a.client.CreatePayment(ctx, square.PaymentCreateParams{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		SourceID:       req.SourceID,
		BuyerEmail:     req.Email,
		IdempotencyKey: req.IdempotencyKey,
		Note:           describe(req),
		ReferenceID:    req.Reference,
		Autocomplete:   req.AutoCapture,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodePaymentRejected) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create square payment")
	}
	return &Intent{
		Provider: a.Name(),
		Ref:      deref(payment.GetID()),
		Outcome:  squareOutcome(deref(payment.GetStatus())),
	}, nil
}

func (a *SquareAdapter) Capture(ctx context.Context, ref, _ string) (*Result, error) {
	payment, err := a.client.CompletePayment(ctx, ref)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodePaymentRejected) {
			return &Result{Outcome: OutcomeDenied, Ref: ref, Reason: pkgerrors.As(err).Message()}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}
	return squareResult(payment), nil
}

func (a *SquareAdapter) Lookup(ctx context.Context, ref string) (*Result, error) {
	payment, err := a.client.GetPayment(ctx, ref)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup square payment")
	}
	return squareResult(payment), nil
}

func (a *SquareAdapter) Void(ctx context.Context, ref string) error {
	if _, err := a.client.CancelPayment(ctx, ref); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel square payment")
	}
	return nil
}

func squareResult(payment *sq.Payment) *Result {
	res := &Result{
		Outcome:    squareOutcome(deref(payment.GetStatus())),
		Ref:        deref(payment.GetID()),
		CaptureRef: deref(payment.GetID()),
	}
	if money := payment.GetAmountMoney(); money != nil {
		if money.Amount != nil {
			res.AmountCents = *money.Amount
		}
		if money.Currency != nil {
			res.Currency = string(*money.Currency)
		}
	}
	return res
}

func squareOutcome(status string) Outcome {
	switch strings.ToUpper(status) {
	case "APPROVED":
		return OutcomeAuthorized
	case "COMPLETED":
		return OutcomeCompleted
	case "CANCELED", "FAILED":
		return OutcomeDenied
	default:
		return OutcomePending
	}
}

// SquareEventOutcome maps a payment.updated status onto a normalized event.
func SquareEventOutcome(status string) (EventType, bool) {
	switch squareOutcome(status) {
	case OutcomeCompleted:
		return EventCaptureCompleted, true
	case OutcomeDenied:
		return EventCaptureDenied, true
	default:
		return "", false
	}
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
