// Package analytics streams settlement outcomes from the outbox into BigQuery.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/multierr"

	"github.com/digistore1/digistore-backend/pkg/enums"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/outbox"
	"github.com/digistore1/digistore-backend/pkg/outbox/registry"
)

const consumerName = "settlement-analytics"

var errMalformed = errors.New("malformed analytics event")

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type claimer interface {
	Claim(ctx context.Context, consumer, eventID string) (bool, error)
	Release(ctx context.Context, consumer, eventID string) error
}

// Receiver is the pubsub subscriber surface the consumer reads from.
type Receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type ConsumerParams struct {
	Subscriptions []Receiver
	Inserter      tableInserter
	Table         string
	Guard         claimer
	Logger        *logger.Logger
}

// Consumer writes one row per settled order, refund, or settlement incident.
type Consumer struct {
	subscriptions []Receiver
	inserter      tableInserter
	table         string
	guard         claimer
	decoders      *registry.DecoderRegistry
	logg          *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Inserter == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if strings.TrimSpace(params.Table) == "" {
		return nil, fmt.Errorf("bigquery table name required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscriptions: params.Subscriptions,
		inserter:      params.Inserter,
		table:         strings.TrimSpace(params.Table),
		guard:         params.Guard,
		decoders:      settlementDecoders(),
		logg:          params.Logger,
	}, nil
}

// Subscriptions wraps pubsub subscribers for ConsumerParams.
func Subscriptions(subs ...*pubsub.Subscriber) []Receiver {
	out := make([]Receiver, 0, len(subs))
	for _, sub := range subs {
		if sub != nil {
			out = append(out, sub)
		}
	}
	return out
}

// Run receives from every subscription until ctx is canceled or one fails.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.subscriptions) == 0 {
		return fmt.Errorf("analytics subscriptions required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, sub := range c.subscriptions {
		wg.Add(1)
		go func(sub Receiver) {
			defer wg.Done()
			err := sub.Receive(ctx, c.handleMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				cancel()
			}
		}(sub)
	}
	wg.Wait()
	if errs != nil {
		return errs
	}
	return ctx.Err()
}

func (c *Consumer) handleMessage(ctx context.Context, msg *pubsub.Message) {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(c.logg.WithField(ctx, "event_type", string(eventType)), "decode analytics envelope", err)
		msg.Ack()
		return
	}
	if strings.TrimSpace(envelope.EventID) == "" {
		envelope.EventID = msg.Attributes["event_id"]
	}
	if err := c.Process(ctx, eventType, envelope); err != nil && !errors.Is(err, errMalformed) {
		msg.Nack()
		return
	}
	msg.Ack()
}

// Process inserts the row for a supported event. Malformed payloads are
// reported with errMalformed and should not be redelivered.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": string(eventType),
	})
	if !c.decoders.Handles(eventType) {
		return nil
	}
	eventID := strings.TrimSpace(envelope.EventID)
	if eventID == "" {
		return fmt.Errorf("%w: event id missing", errMalformed)
	}

	row, err := buildRow(c.decoders, eventType, envelope)
	if err != nil {
		c.logg.Error(logCtx, "failed to build settlement row", err)
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	claimed, err := c.guard.Claim(ctx, consumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if !claimed {
		c.logg.Info(logCtx, "event already ingested")
		return nil
	}

	if err := c.inserter.InsertRows(ctx, c.table, []any{row}); err != nil {
		c.logg.Error(logCtx, "failed to insert settlement row", err)
		if relErr := c.guard.Release(ctx, consumerName, eventID); relErr != nil {
			c.logg.Error(logCtx, "release analytics claim", relErr)
		}
		return err
	}
	c.logg.Info(logCtx, "settlement event ingested")
	return nil
}
