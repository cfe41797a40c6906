package stripe

import (
	"context"
	"errors"
	"testing"

	stripego "github.com/stripe/stripe-go/v78"

	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

type fakeIntents struct {
	newParams     *stripego.PaymentIntentParams
	captureID     string
	captureParams *stripego.PaymentIntentCaptureParams
	cancelID      string
	intent        *stripego.PaymentIntent
	err           error
}

func (f *fakeIntents) New(params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error) {
	f.newParams = params
	return f.intent, f.err
}

func (f *fakeIntents) Capture(id string, params *stripego.PaymentIntentCaptureParams) (*stripego.PaymentIntent, error) {
	f.captureID = id
	f.captureParams = params
	return f.intent, f.err
}

func (f *fakeIntents) Get(id string, params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error) {
	return f.intent, f.err
}

func (f *fakeIntents) Cancel(id string, params *stripego.PaymentIntentCancelParams) (*stripego.PaymentIntent, error) {
	f.cancelID = id
	return f.intent, f.err
}

func TestNewClientValidatesEnvAndKeys(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		cfg  config.StripeConfig
		ok   bool
	}{
		{name: "test key", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "test"}, ok: true},
		{name: "live key in test env", cfg: config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec_1", Env: "test"}},
		{name: "missing secret", cfg: config.StripeConfig{APIKey: "sk_test_123", Env: "test"}},
		{name: "missing key", cfg: config.StripeConfig{Secret: "whsec_1", Env: "test"}},
		{name: "bad env", cfg: config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "staging"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(ctx, tc.cfg, logger.Nop())
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if client.Environment() != "test" {
					t.Fatalf("expected test environment, got %q", client.Environment())
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestCreatePaymentIntentUsesManualCapture(t *testing.T) {
	fake := &fakeIntents{intent: &stripego.PaymentIntent{ID: "pi_1", Status: stripego.PaymentIntentStatusRequiresPaymentMethod}}
	c := &Client{intents: fake, logger: logger.Nop()}

	intent, err := c.CreatePaymentIntent(context.Background(), CreateIntentParams{
		AmountCents:    2500,
		Currency:       "USD",
		IdempotencyKey: "quote-1",
		Metadata:       map[string]string{"checkout_session_id": "sess-1"},
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ID != "pi_1" {
		t.Fatalf("unexpected intent %q", intent.ID)
	}
	p := fake.newParams
	if p == nil {
		t.Fatal("expected params to be sent")
	}
	if *p.Amount != 2500 || *p.Currency != "usd" {
		t.Fatalf("unexpected amount/currency %d %s", *p.Amount, *p.Currency)
	}
	if *p.CaptureMethod != string(stripego.PaymentIntentCaptureMethodManual) {
		t.Fatalf("expected manual capture, got %s", *p.CaptureMethod)
	}
	if p.IdempotencyKey == nil || *p.IdempotencyKey != "quote-1" {
		t.Fatalf("expected idempotency key to be set")
	}
	if p.Metadata["checkout_session_id"] != "sess-1" {
		t.Fatalf("expected metadata to carry session id, got %v", p.Metadata)
	}
}

func TestCapturePaymentIntentWrapsErrors(t *testing.T) {
	fake := &fakeIntents{err: errors.New("network down")}
	c := &Client{intents: fake}

	if _, err := c.CapturePaymentIntent(context.Background(), "pi_1", "cap-1"); err == nil {
		t.Fatal("expected capture error")
	}
	if fake.captureID != "pi_1" {
		t.Fatalf("expected capture on pi_1, got %q", fake.captureID)
	}
	if fake.captureParams.IdempotencyKey == nil || *fake.captureParams.IdempotencyKey != "cap-1" {
		t.Fatal("expected capture idempotency key")
	}
}

func TestIsCardError(t *testing.T) {
	if !IsCardError(&stripego.Error{Type: stripego.ErrorTypeCard}) {
		t.Fatal("card error should be a decline")
	}
	if !IsCardError(&stripego.Error{HTTPStatusCode: 402}) {
		t.Fatal("402 should be a decline")
	}
	if IsCardError(&stripego.Error{Type: stripego.ErrorTypeAPI, HTTPStatusCode: 500}) {
		t.Fatal("api error is not a decline")
	}
	if IsCardError(errors.New("timeout")) {
		t.Fatal("plain errors are not declines")
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Environment() != "" || c.SigningSecret() != "" {
		t.Fatal("nil client should report empty metadata")
	}
	if _, err := c.GetPaymentIntent(context.Background(), "pi_1"); err == nil {
		t.Fatal("expected nil client error")
	}
	if _, err := c.ConstructEvent([]byte("{}"), "sig"); err == nil {
		t.Fatal("expected missing secret error")
	}
}
