// Package square wraps the Square Payments API for delayed-capture card
// payments and verifies Square webhook signatures.
package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/digistore1/digistore-backend/pkg/config"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Square-Hmacsha256-Signature"

// maxIdempotencyKey is Square's limit on idempotency key length.
const maxIdempotencyKey = 45

var environments = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

var errNotInitialized = errors.New("square client not initialized")

type paymentsAPI interface {
	Create(ctx context.Context, request *sq.CreatePaymentRequest, opts ...sqoption.RequestOption) (*sq.CreatePaymentResponse, error)
	Complete(ctx context.Context, request *sq.CompletePaymentRequest, opts ...sqoption.RequestOption) (*sq.CompletePaymentResponse, error)
	Get(ctx context.Context, request *sq.GetPaymentsRequest, opts ...sqoption.RequestOption) (*sq.GetPaymentResponse, error)
	Cancel(ctx context.Context, request *sq.CancelPaymentsRequest, opts ...sqoption.RequestOption) (*sq.CancelPaymentResponse, error)
}

// Client holds one seller location's credentials.
type Client struct {
	payments      paymentsAPI
	locationID    string
	webhookSecret string
	webhookURL    string
	logg          *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errors.New("square logger is required")
	}
	env := strings.ToLower(strings.TrimSpace(cfg.Environment()))
	if env == "" {
		env = "sandbox"
	}
	baseURL, ok := environments[env]
	if !ok {
		return nil, fmt.Errorf("square environment %q must be sandbox or production", env)
	}

	token := strings.TrimSpace(cfg.AccessToken)
	secret := strings.TrimSpace(cfg.WebhookSecret)
	location := strings.TrimSpace(cfg.LocationID)
	switch {
	case token == "":
		return nil, errors.New("square access token is required")
	case secret == "":
		return nil, errors.New("square webhook secret is required")
	case location == "":
		return nil, errors.New("square location id is required")
	}

	sdk := sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token))
	logg.Info(logg.WithFields(ctx, map[string]any{"environment": env, "location_id": location}), "square client ready")
	return &Client{
		payments:      sdk.Payments,
		locationID:    location,
		webhookSecret: secret,
		webhookURL:    strings.TrimSpace(cfg.WebhookURL),
		logg:          logg,
	}, nil
}

// CreatePayment authorizes the buyer's source. Unless Autocomplete is set the
// payment stays APPROVED until completed or canceled.
func (c *Client) CreatePayment(ctx context.Context, params PaymentCreateParams) (*sq.Payment, error) {
	if c == nil || c.payments == nil {
		return nil, errNotInitialized
	}
	if strings.TrimSpace(params.LocationID) == "" {
		params.LocationID = c.locationID
	}
	req := params.request(idempotencyKey(params.IdempotencyKey))
	fields := map[string]any{
		"location_id":  params.LocationID,
		"reference_id": params.ReferenceID,
		"amount_cents": params.AmountCents,
	}
	return c.do(ctx, "create payment", fields, func() (*sq.Payment, error) {
		resp, err := c.payments.Create(ctx, req)
		return resp.GetPayment(), err
	})
}

// CompletePayment captures an APPROVED payment.
func (c *Client) CompletePayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	if c == nil || c.payments == nil {
		return nil, errNotInitialized
	}
	return c.do(ctx, "complete payment", map[string]any{"payment_id": paymentID}, func() (*sq.Payment, error) {
		resp, err := c.payments.Complete(ctx, &sq.CompletePaymentRequest{PaymentID: paymentID})
		return resp.GetPayment(), err
	})
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	if c == nil || c.payments == nil {
		return nil, errNotInitialized
	}
	return c.do(ctx, "get payment", map[string]any{"payment_id": paymentID}, func() (*sq.Payment, error) {
		resp, err := c.payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
		return resp.GetPayment(), err
	})
}

// CancelPayment voids an APPROVED payment that was never completed.
func (c *Client) CancelPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	if c == nil || c.payments == nil {
		return nil, errNotInitialized
	}
	return c.do(ctx, "cancel payment", map[string]any{"payment_id": paymentID}, func() (*sq.Payment, error) {
		resp, err := c.payments.Cancel(ctx, &sq.CancelPaymentsRequest{PaymentID: paymentID})
		return resp.GetPayment(), err
	})
}

// VerifySignature checks the HMAC-SHA256 of the notification URL followed by
// the raw body.
func (c *Client) VerifySignature(payload []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if c == nil || c.webhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(c.webhookURL))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// do runs one API call with uniform logging and error classification.
func (c *Client) do(ctx context.Context, op string, fields map[string]any, call func() (*sq.Payment, error)) (*sq.Payment, error) {
	logg := c.logg
	if logg == nil {
		logg = logger.Nop()
	}
	logCtx := logg.WithFields(ctx, redactFields(fields))
	logCtx = logg.WithField(logCtx, "operation", op)

	payment, err := call()
	if err != nil {
		mapped := classify(err, op)
		if pkgerrors.IsCode(mapped, pkgerrors.CodeDependency) {
			logg.Error(logCtx, "square "+op+" failed", err)
		} else {
			logg.Warn(logg.WithField(logCtx, "error", err.Error()), "square "+op+" rejected")
		}
		return nil, mapped
	}
	logg.Info(logg.WithFields(logCtx, map[string]any{
		"payment_id": deref(payment.GetID()),
		"status":     deref(payment.GetStatus()),
	}), "square "+op)
	return payment, nil
}

// classify maps a Square failure onto an error code. Payment method errors
// carry the lower-cased Square code as message so it can be shown as the
// decline reason.
func classify(err error, op string) error {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square "+op)
	}
	code := codeForStatus(apiErr.StatusCode)
	for _, e := range squareErrors(apiErr) {
		switch {
		case e == nil:
			continue
		case e.Category == sq.ErrorCategoryPaymentMethodError:
			return pkgerrors.Wrap(pkgerrors.CodePaymentRejected, err, strings.ToLower(string(e.Code))).
				WithDetails(map[string]any{"square_code": e.Code})
		case e.Code == sq.ErrorCodeIdempotencyKeyReused:
			code = pkgerrors.CodeIdempotency
		case e.Category == sq.ErrorCategoryAuthenticationError:
			code = pkgerrors.CodeUnauthorized
		}
	}
	return pkgerrors.Wrap(code, err, "square "+op)
}

func squareErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &body); err != nil {
		return nil
	}
	return body.Errors
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status == http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

// idempotencyKey keeps caller keys stable while fitting Square's length
// limit; long keys are replaced by a prefix of their SHA-256.
func idempotencyKey(provided string) string {
	provided = strings.TrimSpace(provided)
	switch {
	case provided == "":
		return uuid.NewString()
	case len(provided) <= maxIdempotencyKey:
		return provided
	}
	sum := sha256.Sum256([]byte(provided))
	return hex.EncodeToString(sum[:])[:maxIdempotencyKey]
}

var sensitiveKeys = []string{"card", "nonce", "token", "cvv", "cvc", "secret", "email", "phone", "source"}

func redactFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
		lower := strings.ToLower(k)
		for _, s := range sensitiveKeys {
			if strings.Contains(lower, s) {
				out[k] = "[REDACTED]"
				break
			}
		}
	}
	return out
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
