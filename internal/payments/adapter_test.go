package payments

import (
	"context"
	"errors"
	"testing"

	sq "github.com/square/square-go-sdk"
	stripego "github.com/stripe/stripe-go/v78"

	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/square"
	"github.com/digistore1/digistore-backend/pkg/stripe"
)

type fakeStripe struct {
	createParams stripe.CreateIntentParams
	captured     *stripego.PaymentIntent
	captureErr   error
	fetched      *stripego.PaymentIntent
	canceled     string
}

func (f *fakeStripe) CreatePaymentIntent(_ context.Context, p stripe.CreateIntentParams) (*stripego.PaymentIntent, error) {
	f.createParams = p
	return &stripego.PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: stripego.PaymentIntentStatusRequiresPaymentMethod}, nil
}

func (f *fakeStripe) CapturePaymentIntent(context.Context, string, string) (*stripego.PaymentIntent, error) {
	return f.captured, f.captureErr
}

func (f *fakeStripe) GetPaymentIntent(context.Context, string) (*stripego.PaymentIntent, error) {
	return f.fetched, nil
}

func (f *fakeStripe) CancelPaymentIntent(_ context.Context, id string) (*stripego.PaymentIntent, error) {
	f.canceled = id
	return &stripego.PaymentIntent{ID: id, Status: stripego.PaymentIntentStatusCanceled}, nil
}

func TestStripeCreateIntentForwardsAmount(t *testing.T) {
	fake := &fakeStripe{}
	adapter, err := NewStripeAdapter(fake)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	intent, err := adapter.CreateIntent(context.Background(), IntentRequest{
		AmountCents:    4000,
		Currency:       "USD",
		IdempotencyKey: "sess-1",
		Reference:      "sess-1",
		Lines:          []Line{{Title: "Icon pack", Quantity: 2, AmountCents: 4000}},
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Ref != "pi_1" || intent.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if fake.createParams.AmountCents != 4000 || fake.createParams.IdempotencyKey != "sess-1" {
		t.Fatalf("unexpected params %+v", fake.createParams)
	}
	if fake.createParams.Description != "Icon pack x2" {
		t.Fatalf("unexpected description %q", fake.createParams.Description)
	}
	if fake.createParams.Metadata["reference"] != "sess-1" {
		t.Fatalf("expected reference metadata")
	}
}

func TestStripeCaptureOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		intent  *stripego.PaymentIntent
		err     error
		want    Outcome
		unknown bool
	}{
		{
			name:   "succeeded",
			intent: &stripego.PaymentIntent{ID: "pi_1", Status: stripego.PaymentIntentStatusSucceeded, AmountReceived: 4000, Currency: "usd"},
			want:   OutcomeCompleted,
		},
		{
			name:   "still processing",
			intent: &stripego.PaymentIntent{ID: "pi_1", Status: stripego.PaymentIntentStatusProcessing},
			want:   OutcomePending,
		},
		{
			name: "card declined",
			err:  &stripego.Error{Type: stripego.ErrorTypeCard, Msg: "declined"},
			want: OutcomeDenied,
		},
		{
			name:    "transport failure",
			err:     errors.New("connection reset"),
			unknown: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter, _ := NewStripeAdapter(&fakeStripe{captured: tc.intent, captureErr: tc.err})
			res, err := adapter.Capture(context.Background(), "pi_1", "cap-1")
			if tc.unknown {
				if !IsUnknownOutcome(err) {
					t.Fatalf("expected unknown outcome, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("capture: %v", err)
			}
			if res.Outcome != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, res.Outcome)
			}
			if tc.want == OutcomeCompleted && (res.AmountCents != 4000 || res.Currency != "USD") {
				t.Fatalf("unexpected captured amount %+v", res)
			}
		})
	}
}

func TestStripeLookupMapsAuthorized(t *testing.T) {
	adapter, _ := NewStripeAdapter(&fakeStripe{fetched: &stripego.PaymentIntent{ID: "pi_1", Status: stripego.PaymentIntentStatusRequiresCapture, Amount: 1500}})
	res, err := adapter.Lookup(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.Outcome != OutcomeAuthorized || res.AmountCents != 1500 {
		t.Fatalf("unexpected lookup %+v", res)
	}
}

func TestStripeEventType(t *testing.T) {
	cases := map[string]EventType{
		"payment_intent.succeeded": EventCaptureCompleted,
		"payment_intent.canceled":  EventCaptureDenied,
		"charge.refunded":          EventRefunded,
	}
	for raw, want := range cases {
		got, ok := StripeEventType(raw)
		if !ok || got != want {
			t.Fatalf("%s: expected %s, got %s", raw, want, got)
		}
	}
	for _, raw := range []string{"customer.created", "payment_intent.payment_failed"} {
		if _, ok := StripeEventType(raw); ok {
			t.Fatalf("%s must be ignored", raw)
		}
	}
}

type fakeSquare struct {
	params      square.PaymentCreateParams
	completeErr error
	completed   *sq.Payment
}

func (f *fakeSquare) CreatePayment(_ context.Context, p square.PaymentCreateParams) (*sq.Payment, error) {
	f.params = p
	id, status := "sqp_1", "APPROVED"
	return &sq.Payment{ID: &id, Status: &status}, nil
}

func (f *fakeSquare) CompletePayment(context.Context, string) (*sq.Payment, error) {
	return f.completed, f.completeErr
}

func (f *fakeSquare) GetPayment(context.Context, string) (*sq.Payment, error) {
	return f.completed, nil
}

func (f *fakeSquare) CancelPayment(context.Context, string) (*sq.Payment, error) {
	return &sq.Payment{}, nil
}

func TestSquareCreateIntentRequiresSource(t *testing.T) {
	adapter, _ := NewSquareAdapter(&fakeSquare{})
	_, err := adapter.CreateIntent(context.Background(), IntentRequest{AmountCents: 100, Currency: "USD"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSquareCaptureOutcomes(t *testing.T) {
	id, status := "sqp_1", "COMPLETED"
	amount := int64(2500)
	currency := sq.Currency("USD")
	fake := &fakeSquare{completed: &sq.Payment{ID: &id, Status: &status, AmountMoney: &sq.Money{Amount: &amount, Currency: &currency}}}
	adapter, _ := NewSquareAdapter(fake)

	intent, err := adapter.CreateIntent(context.Background(), IntentRequest{AmountCents: 2500, Currency: "USD", SourceID: "cnon:card"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if intent.Outcome != OutcomeAuthorized || fake.params.Autocomplete {
		t.Fatalf("expected delayed capture, got %+v %+v", intent, fake.params)
	}

	res, err := adapter.Capture(context.Background(), "sqp_1", "")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.AmountCents != 2500 || res.Currency != "USD" {
		t.Fatalf("unexpected result %+v", res)
	}

	fake.completeErr = pkgerrors.New(pkgerrors.CodePaymentRejected, "card declined")
	res, err = adapter.Capture(context.Background(), "sqp_1", "")
	if err != nil || res.Outcome != OutcomeDenied {
		t.Fatalf("expected denied, got %+v %v", res, err)
	}

	fake.completeErr = errors.New("timeout")
	if _, err := adapter.Capture(context.Background(), "sqp_1", ""); !IsUnknownOutcome(err) {
		t.Fatalf("expected unknown outcome, got %v", err)
	}
}
