package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	stripego "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	internalwebhooks "github.com/digistore1/digistore-backend/internal/webhooks"
	squarewebhook "github.com/digistore1/digistore-backend/internal/webhooks/square"
	"github.com/digistore1/digistore-backend/pkg/square"
)

const (
	stripeSecret  = "whsec_test"
	squareSecret  = "sq_secret"
	squareHookURL = "https://api.digistore.app/api/v1/webhooks/square"
)

func TestStripeWebhookSuccessAndIdempotent(t *testing.T) {
	payload := stripePayload("evt_1")
	header := stripeSignature(payload, stripeSecret, time.Now().Unix())
	service := &fakeStripeService{}
	handler := StripeWebhook(service, stripeVerifierFunc(stripeSecret), newGuard(t, "stripe-webhook"), nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", header)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d (%s)", i, rec.Code, rec.Body.String())
		}
	}
	if service.calls != 1 {
		t.Fatalf("expected one delivery to reach the service, got %d", service.calls)
	}
	if service.lastID != "evt_1" {
		t.Fatalf("unexpected event id %s", service.lastID)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	payload := stripePayload("evt_2")
	service := &fakeStripeService{}
	handler := StripeWebhook(service, stripeVerifierFunc(stripeSecret), newGuard(t, "stripe-webhook"), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=invalid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service must not run for unsigned payloads")
	}
}

func TestStripeWebhookReleasesGuardOnFailure(t *testing.T) {
	payload := stripePayload("evt_3")
	header := stripeSignature(payload, stripeSecret, time.Now().Unix())
	service := &fakeStripeService{err: errors.New("db down")}
	handler := StripeWebhook(service, stripeVerifierFunc(stripeSecret), newGuard(t, "stripe-webhook"), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	service.err = nil
	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d", rec.Code)
	}
	if service.calls != 2 {
		t.Fatalf("expected redelivery to reach the service, calls=%d", service.calls)
	}
}

func TestSquareWebhookSuccessAndIdempotent(t *testing.T) {
	payload := []byte(`{"event_id":"sq_evt_1","type":"payment.updated","data":{"type":"payment","id":"pay_1","object":{"payment":{"id":"pay_1","status":"COMPLETED"}}}}`)
	service := &fakeSquareService{}
	handler := SquareWebhook(service, hmacVerifier{}, newGuard(t, "square-webhook"), nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
		req.Header.Set(square.SignatureHeader, squareSignature(payload))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d (%s)", i, rec.Code, rec.Body.String())
		}
	}
	if service.calls != 1 {
		t.Fatalf("expected one delivery to reach the service, got %d", service.calls)
	}
	if service.lastType != "payment.updated" {
		t.Fatalf("unexpected type %s", service.lastType)
	}
}

func TestSquareWebhookRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"event_id":"sq_evt_2","type":"payment.updated","data":{"id":"pay_2"}}`)
	service := &fakeSquareService{}
	handler := SquareWebhook(service, hmacVerifier{}, newGuard(t, "square-webhook"), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	req.Header.Set(square.SignatureHeader, "forged")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service must not run for unsigned payloads")
	}
}

func TestSquareWebhookRequiresSignatureHeader(t *testing.T) {
	handler := SquareWebhook(&fakeSquareService{}, hmacVerifier{}, newGuard(t, "square-webhook"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhookRejectsOversizedPayload(t *testing.T) {
	service := &fakeStripeService{}
	handler := StripeWebhook(service, stripeVerifierFunc(stripeSecret), newGuard(t, "stripe-webhook"), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(make([]byte, maxWebhookBody+1)))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service must not run for oversized payloads")
	}
}

func TestWebhookWithoutDependenciesIsUnavailable(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"stripe service":  StripeWebhook(nil, stripeVerifierFunc(stripeSecret), newGuard(t, "stripe-webhook"), nil),
		"stripe guard":    StripeWebhook(&fakeStripeService{}, stripeVerifierFunc(stripeSecret), nil, nil),
		"square verifier": SquareWebhook(&fakeSquareService{}, nil, newGuard(t, "square-webhook"), nil),
	}
	for name, handler := range handlers {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{}"))))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", name, rec.Code)
		}
	}
}

func TestSquareWebhookFallsBackToDataID(t *testing.T) {
	payload := []byte(`{"type":"refund.updated","data":{"id":"rf_1","object":{}}}`)
	service := &fakeSquareService{}
	handler := SquareWebhook(service, hmacVerifier{}, newGuard(t, "square-webhook"), nil)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
		req.Header.Set(square.SignatureHeader, squareSignature(payload))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d (%s)", i, rec.Code, rec.Body.String())
		}
	}
	if service.calls != 1 {
		t.Fatalf("expected the data id to dedupe redeliveries, calls=%d", service.calls)
	}
}

func stripePayload(id string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":"payment_intent.succeeded","api_version":%q,"data":{"object":{"id":"pi_1","object":"payment_intent","amount":1500,"amount_received":1500,"currency":"usd","status":"succeeded"}}}`, id, stripego.APIVersion))
}

func stripeSignature(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func squareSignature(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(squareSecret))
	mac.Write([]byte(squareHookURL))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type stripeVerifierFunc string

func (s stripeVerifierFunc) ConstructEvent(payload []byte, signature string) (stripego.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, string(s), webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

type hmacVerifier struct{}

func (hmacVerifier) VerifySignature(payload []byte, signature string) bool {
	return hmac.Equal([]byte(squareSignature(payload)), []byte(signature))
}

type fakeStripeService struct {
	calls  int
	lastID string
	err    error
}

func (f *fakeStripeService) HandleEvent(_ context.Context, event *stripego.Event) error {
	f.calls++
	f.lastID = event.ID
	return f.err
}

type fakeSquareService struct {
	calls    int
	lastType string
}

func (f *fakeSquareService) HandleEvent(_ context.Context, event *squarewebhook.SquareWebhookEvent) error {
	f.calls++
	f.lastType = event.Type
	return nil
}

func newGuard(t *testing.T, scope string) *internalwebhooks.IdempotencyGuard {
	t.Helper()
	guard, err := internalwebhooks.NewIdempotencyGuard(newMemoryStore(), time.Minute, scope)
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}
