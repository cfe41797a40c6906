package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digistore1/digistore-backend/pkg/enums"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/outbox"
	"github.com/digistore1/digistore-backend/pkg/outbox/payloads"
)

type fakeInserter struct {
	mu    sync.Mutex
	table string
	rows  []any
	err   error
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.table = table
	f.rows = append(f.rows, rows...)
	return nil
}

type fakeGuard struct {
	claimed  map[string]bool
	released []string
}

func newFakeGuard() *fakeGuard { return &fakeGuard{claimed: map[string]bool{}} }

func (g *fakeGuard) Claim(_ context.Context, consumer, eventID string) (bool, error) {
	key := consumer + ":" + eventID
	if g.claimed[key] {
		return false, nil
	}
	g.claimed[key] = true
	return true, nil
}

func (g *fakeGuard) Release(_ context.Context, consumer, eventID string) error {
	key := consumer + ":" + eventID
	delete(g.claimed, key)
	g.released = append(g.released, eventID)
	return nil
}

type fakeReceiver struct {
	err error
}

func (f fakeReceiver) Receive(ctx context.Context, _ func(context.Context, *pubsub.Message)) error {
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func mustConsumer(t *testing.T, inserter *fakeInserter, guard *fakeGuard, subs ...Receiver) *Consumer {
	t.Helper()
	consumer, err := NewConsumer(ConsumerParams{
		Subscriptions: subs,
		Inserter:      inserter,
		Table:         " settlement_events ",
		Guard:         guard,
		Logger:        logger.Nop(),
	})
	require.NoError(t, err)
	return consumer
}

func envelopeFor(t *testing.T, data any) outbox.PayloadEnvelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:       raw,
	}
}

func TestProcessOrderSettled(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, newFakeGuard())
	ref := "pi_123"
	event := payloads.OrderSettledEvent{
		OrderID:           uuid.New(),
		CheckoutSessionID: uuid.New(),
		TotalCents:        4200,
		DiscountCents:     800,
		Currency:          "USD",
		PaymentMethod:     enums.PaymentMethodStripe,
		PaymentReference:  &ref,
		VendorIDs:         []uuid.UUID{uuid.New(), uuid.New()},
	}
	envelope := envelopeFor(t, event)

	require.NoError(t, consumer.Process(context.Background(), enums.EventOrderSettled, envelope))
	require.Len(t, inserter.rows, 1)
	assert.Equal(t, "settlement_events", inserter.table)

	row := inserter.rows[0].(*SettlementEventRow)
	assert.Equal(t, envelope.EventID, row.EventID)
	assert.Equal(t, string(enums.EventOrderSettled), row.EventType)
	require.NotNil(t, row.OrderID)
	assert.Equal(t, event.OrderID.String(), *row.OrderID)
	assert.Equal(t, int64(4200), *row.AmountCents)
	assert.Equal(t, int64(800), *row.DiscountCents)
	assert.Equal(t, "pi_123", *row.PaymentReference)
	assert.Equal(t, int64(2), *row.VendorCount)
	assert.Nil(t, row.IncidentID)
	assert.True(t, row.Payload.Valid)
}

func TestProcessIncidentOpened(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, newFakeGuard())
	event := payloads.SettlementIncidentOpenedEvent{
		IncidentID:          uuid.New(),
		CheckoutSessionID:   uuid.New(),
		Provider:            enums.PaymentMethodSquare,
		PaymentReference:    "sq_1",
		Reason:              enums.IncidentReasonAmountMismatch,
		CapturedAmountCents: 999,
	}

	require.NoError(t, consumer.Process(context.Background(), enums.EventSettlementIncidentOpened, envelopeFor(t, event)))
	row := inserter.rows[0].(*SettlementEventRow)
	require.NotNil(t, row.IncidentID)
	assert.Equal(t, event.IncidentID.String(), *row.IncidentID)
	assert.Equal(t, string(enums.IncidentReasonAmountMismatch), *row.Reason)
	assert.Equal(t, int64(999), *row.AmountCents)
	assert.Nil(t, row.OrderID)
}

func TestProcessIsIdempotent(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, newFakeGuard())
	envelope := envelopeFor(t, payloads.OrderRefundedEvent{OrderID: uuid.New(), PaymentReference: "pi_9", AmountCents: 100})

	require.NoError(t, consumer.Process(context.Background(), enums.EventOrderRefunded, envelope))
	require.NoError(t, consumer.Process(context.Background(), enums.EventOrderRefunded, envelope))
	assert.Len(t, inserter.rows, 1)
}

func TestProcessReleasesClaimWhenInsertFails(t *testing.T) {
	inserter := &fakeInserter{err: errors.New("quota exceeded")}
	guard := newFakeGuard()
	consumer := mustConsumer(t, inserter, guard)
	envelope := envelopeFor(t, payloads.OrderRefundedEvent{OrderID: uuid.New(), PaymentReference: "pi_9", AmountCents: 100})

	err := consumer.Process(context.Background(), enums.EventOrderRefunded, envelope)
	require.Error(t, err)
	assert.False(t, errors.Is(err, errMalformed))
	assert.Equal(t, []string{envelope.EventID}, guard.released)
}

func TestProcessFlagsMalformedPayloads(t *testing.T) {
	consumer := mustConsumer(t, &fakeInserter{}, newFakeGuard())
	envelope := outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString(), Data: json.RawMessage(`{"order_id":42}`)}

	err := consumer.Process(context.Background(), enums.EventOrderSettled, envelope)
	require.ErrorIs(t, err, errMalformed)

	envelope.EventID = ""
	err = consumer.Process(context.Background(), enums.EventOrderSettled, envelope)
	require.ErrorIs(t, err, errMalformed)
}

func TestProcessIgnoresOtherEvents(t *testing.T) {
	inserter := &fakeInserter{}
	consumer := mustConsumer(t, inserter, newFakeGuard())
	envelope := envelopeFor(t, map[string]any{"recipient": "a@b.c"})

	require.NoError(t, consumer.Process(context.Background(), enums.EventNotificationRequested, envelope))
	assert.Empty(t, inserter.rows)
}

func TestRunStopsOnSubscriptionFailure(t *testing.T) {
	consumer := mustConsumer(t, &fakeInserter{}, newFakeGuard(),
		fakeReceiver{},
		fakeReceiver{err: errors.New("subscription deleted")},
	)
	err := consumer.Run(context.Background())
	require.EqualError(t, err, "subscription deleted")
}

func TestRunRequiresSubscriptions(t *testing.T) {
	consumer := mustConsumer(t, &fakeInserter{}, newFakeGuard())
	require.Error(t, consumer.Run(context.Background()))
}

func TestNewConsumerValidates(t *testing.T) {
	_, err := NewConsumer(ConsumerParams{Inserter: &fakeInserter{}, Guard: newFakeGuard(), Logger: logger.Nop()})
	require.Error(t, err)
	_, err = NewConsumer(ConsumerParams{Inserter: &fakeInserter{}, Table: "t", Logger: logger.Nop()})
	require.Error(t, err)
}
