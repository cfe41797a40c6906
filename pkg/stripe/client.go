package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripego "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

type paymentIntentAPI interface {
	New(params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Capture(id string, params *stripego.PaymentIntentCaptureParams) (*stripego.PaymentIntent, error)
	Get(id string, params *stripego.PaymentIntentParams) (*stripego.PaymentIntent, error)
	Cancel(id string, params *stripego.PaymentIntentCancelParams) (*stripego.PaymentIntent, error)
}

// Client wraps the Stripe PaymentIntents API plus env-specific metadata.
type Client struct {
	intents       paymentIntentAPI
	environment   string
	signingSecret string
	logger        *logger.Logger
}

// NewClient initializes Stripe once with the configured secrets and env.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.Secret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	sc := client.New(apiKey, nil)

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}

	return &Client{
		intents:       sc.PaymentIntents,
		environment:   env,
		signingSecret: signingSecret,
		logger:        logg,
	}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// CreateIntentParams describes a PaymentIntent. Intents are manual-capture
// unless AutoCapture is set.
type CreateIntentParams struct {
	AmountCents    int64
	Currency       string
	Description    string
	ReceiptEmail   string
	IdempotencyKey string
	Metadata       map[string]string
	AutoCapture    bool
}

// CreatePaymentIntent opens a PaymentIntent that is authorized by the buyer and captured later.
func (c *Client) CreatePaymentIntent(ctx context.Context, p CreateIntentParams) (*stripego.PaymentIntent, error) {
	if c == nil || c.intents == nil {
		return nil, errors.New("stripe client not initialized")
	}
	captureMethod := stripego.PaymentIntentCaptureMethodManual
	if p.AutoCapture {
		captureMethod = stripego.PaymentIntentCaptureMethodAutomatic
	}
	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(p.AmountCents),
		Currency:      stripego.String(strings.ToLower(p.Currency)),
		CaptureMethod: stripego.String(string(captureMethod)),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(p.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if d := strings.TrimSpace(p.Description); d != "" {
		params.Description = stripego.String(d)
	}
	if email := strings.TrimSpace(p.ReceiptEmail); email != "" {
		params.ReceiptEmail = stripego.String(email)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	c.log(ctx, "request", "create_payment_intent", map[string]any{"amount": p.AmountCents, "currency": p.Currency})
	intent, err := c.intents.New(params)
	if err != nil {
		c.log(ctx, "error", "create_payment_intent", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	c.log(ctx, "response", "create_payment_intent", map[string]any{"payment_intent": intent.ID, "status": intent.Status})
	return intent, nil
}

// CapturePaymentIntent captures the full authorized amount.
func (c *Client) CapturePaymentIntent(ctx context.Context, id, idempotencyKey string) (*stripego.PaymentIntent, error) {
	if c == nil || c.intents == nil {
		return nil, errors.New("stripe client not initialized")
	}
	params := &stripego.PaymentIntentCaptureParams{}
	params.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	c.log(ctx, "request", "capture_payment_intent", map[string]any{"payment_intent": id})
	intent, err := c.intents.Capture(id, params)
	if err != nil {
		c.log(ctx, "error", "capture_payment_intent", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("stripe: capture payment intent: %w", err)
	}
	c.log(ctx, "response", "capture_payment_intent", map[string]any{
		"payment_intent":  intent.ID,
		"status":          intent.Status,
		"amount_received": intent.AmountReceived,
	})
	return intent, nil
}

// GetPaymentIntent fetches the current state of a PaymentIntent.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*stripego.PaymentIntent, error) {
	if c == nil || c.intents == nil {
		return nil, errors.New("stripe client not initialized")
	}
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	intent, err := c.intents.Get(id, params)
	if err != nil {
		c.log(ctx, "error", "get_payment_intent", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("stripe: get payment intent: %w", err)
	}
	return intent, nil
}

// CancelPaymentIntent releases an uncaptured authorization.
func (c *Client) CancelPaymentIntent(ctx context.Context, id string) (*stripego.PaymentIntent, error) {
	if c == nil || c.intents == nil {
		return nil, errors.New("stripe client not initialized")
	}
	params := &stripego.PaymentIntentCancelParams{
		CancellationReason: stripego.String(string(stripego.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	c.log(ctx, "request", "cancel_payment_intent", map[string]any{"payment_intent": id})
	intent, err := c.intents.Cancel(id, params)
	if err != nil {
		c.log(ctx, "error", "cancel_payment_intent", map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("stripe: cancel payment intent: %w", err)
	}
	return intent, nil
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripego.Event, error) {
	if c == nil || c.signingSecret == "" {
		return stripego.Event{}, errSecretRequired
	}
	return webhook.ConstructEventWithOptions(payload, signature, c.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// IsCardError reports whether err is a decline rather than a transport or API failure.
func IsCardError(err error) bool {
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Type == stripego.ErrorTypeCard || stripeErr.HTTPStatusCode == 402
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"provider":  "stripe",
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Warn(ctx, fmt.Sprintf("stripe %s failed", op))
	default:
		c.logger.Info(ctx, fmt.Sprintf("stripe %s %s", op, phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"secret", "card", "email", "token"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
