package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripego "github.com/stripe/stripe-go/v78"

	"github.com/digistore1/digistore-backend/pkg/config"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/stripe"
)

type stripeIntents interface {
	CreatePaymentIntent(ctx context.Context, p stripe.CreateIntentParams) (*stripego.PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id, idempotencyKey string) (*stripego.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripego.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) (*stripego.PaymentIntent, error)
}

// StripeAdapter maps manual-capture PaymentIntents onto the gateway contract.
type StripeAdapter struct {
	client stripeIntents
}

func NewStripeAdapter(client stripeIntents) (*StripeAdapter, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	return &StripeAdapter{client: client}, nil
}

func (a *StripeAdapter) Name() string { return config.PaymentProviderStripe }

func (a *StripeAdapter) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	metadata := map[string]string{}
	if req.Reference != "" {
		metadata["reference"] = req.Reference
	}
	intent, err := a.client.CreatePaymentIntent(ctx, stripe.CreateIntentParams{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Description:    describe(req),
		ReceiptEmail:   req.Email,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       metadata,
		AutoCapture:    req.AutoCapture,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe payment intent")
	}
	return &Intent{
		Provider:     a.Name(),
		Ref:          intent.ID,
		ClientSecret: intent.ClientSecret,
		Outcome:      stripeOutcome(intent.Status),
	}, nil
}

func (a *StripeAdapter) Capture(ctx context.Context, ref, idempotencyKey string) (*Result, error) {
	intent, err := a.client.CapturePaymentIntent(ctx, ref, idempotencyKey)
	if err != nil {
		if stripe.IsCardError(err) {
			return &Result{Outcome: OutcomeDenied, Ref: ref, Reason: err.Error()}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
	}
	return stripeResult(intent), nil
}

func (a *StripeAdapter) Lookup(ctx context.Context, ref string) (*Result, error) {
	intent, err := a.client.GetPaymentIntent(ctx, ref)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup stripe payment intent")
	}
	return stripeResult(intent), nil
}

func (a *StripeAdapter) Void(ctx context.Context, ref string) error {
	if _, err := a.client.CancelPaymentIntent(ctx, ref); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel stripe payment intent")
	}
	return nil
}

func stripeResult(intent *stripego.PaymentIntent) *Result {
	res := &Result{
		Outcome:  stripeOutcome(intent.Status),
		Ref:      intent.ID,
		Currency: strings.ToUpper(string(intent.Currency)),
	}
	if intent.LatestCharge != nil {
		res.CaptureRef = intent.LatestCharge.ID
	}
	if res.Outcome == OutcomeCompleted {
		res.AmountCents = intent.AmountReceived
	} else {
		res.AmountCents = intent.Amount
	}
	if intent.LastPaymentError != nil {
		res.Reason = intent.LastPaymentError.Msg
	}
	return res
}

func stripeOutcome(status stripego.PaymentIntentStatus) Outcome {
	switch status {
	case stripego.PaymentIntentStatusSucceeded:
		return OutcomeCompleted
	case stripego.PaymentIntentStatusRequiresCapture:
		return OutcomeAuthorized
	case stripego.PaymentIntentStatusCanceled:
		return OutcomeDenied
	default:
		return OutcomePending
	}
}

// StripeEventType maps Stripe webhook types onto normalized events.
// payment_intent.payment_failed is not terminal: the buyer may retry on the
// same intent, so only cancellation counts as a denial.
func StripeEventType(eventType string) (EventType, bool) {
	switch eventType {
	case "payment_intent.succeeded":
		return EventCaptureCompleted, true
	case "payment_intent.canceled":
		return EventCaptureDenied, true
	case "charge.refunded":
		return EventRefunded, true
	default:
		return "", false
	}
}

func describe(req IntentRequest) string {
	if req.Description != "" {
		return req.Description
	}
	if len(req.Lines) == 0 {
		return ""
	}
	titles := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		titles = append(titles, fmt.Sprintf("%s x%d", line.Title, line.Quantity))
	}
	return strings.Join(titles, ", ")
}

// IsUnknownOutcome reports whether err means the capture result was not observed.
func IsUnknownOutcome(err error) bool {
	return errors.Is(err, ErrUnknownOutcome)
}
