package payments

import (
	"context"
	"errors"
)

// Outcome is the normalized gateway state of an intent.
type Outcome string

const (
	OutcomeCompleted  Outcome = "COMPLETED"
	OutcomeDenied     Outcome = "DENIED"
	OutcomePending    Outcome = "PENDING"
	OutcomeAuthorized Outcome = "AUTHORIZED"
	OutcomeVoided     Outcome = "VOIDED"
)

// ErrUnknownOutcome marks a capture whose result could not be observed
// (timeout, transport failure). Callers must look the intent up before retrying.
var ErrUnknownOutcome = errors.New("payment outcome unknown")

// Line is a display line forwarded to the gateway.
type Line struct {
	Title       string
	Quantity    int
	AmountCents int64
}

// IntentRequest asks the gateway to open an intent for a server-computed amount.
type IntentRequest struct {
	AmountCents    int64
	Currency       string
	Description    string
	Email          string
	Reference      string
	IdempotencyKey string
	SourceID       string
	Lines          []Line
	AutoCapture    bool
}

// Intent is the gateway handle returned to the client.
type Intent struct {
	Provider     string
	Ref          string
	ClientSecret string
	Outcome      Outcome
}

// Result describes the state of an intent after capture or lookup.
type Result struct {
	Outcome     Outcome
	Ref         string
	CaptureRef  string
	AmountCents int64
	Currency    string
	Reason      string
}

// Adapter is the gateway contract consumed by checkout and gift-card purchases.
type Adapter interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Capture(ctx context.Context, ref, idempotencyKey string) (*Result, error)
	Lookup(ctx context.Context, ref string) (*Result, error)
	Void(ctx context.Context, ref string) error
}

// EventType is the normalized webhook event kind.
type EventType string

const (
	EventCaptureCompleted EventType = "capture_completed"
	EventCaptureDenied    EventType = "capture_denied"
	EventRefunded         EventType = "refunded"
)

// Event is a verified gateway notification. For refunds AmountCents is the
// amount of this refund; RefundedCents is the payment's running refund total
// when the provider reports one, and wins over AmountCents.
type Event struct {
	ID            string
	Provider      string
	Type          EventType
	IntentRef     string
	AmountCents   int64
	RefundedCents int64
	Currency      string
	Reason        string
}
