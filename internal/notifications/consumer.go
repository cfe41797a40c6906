package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/digistore1/digistore-backend/pkg/enums"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/outbox"
	"github.com/digistore1/digistore-backend/pkg/outbox/payloads"
	"github.com/digistore1/digistore-backend/pkg/outbox/registry"
)

const (
	fulfillmentConsumer = "fulfillment-mail"
	defaultSendTimeout  = 10 * time.Second
)

var errNoRecipient = errors.New("notification has no recipient")

type claimer interface {
	Claim(ctx context.Context, consumer, eventID string) (bool, error)
	Release(ctx context.Context, consumer, eventID string) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type ConsumerParams struct {
	Subscription receiver
	Mailer       Mailer
	Guard        claimer
	DownloadBase string
	SendTimeout  time.Duration
	Logger       *logger.Logger
}

// Consumer turns notification events from the outbox into emails. A failed
// send is logged and redelivered by Pub/Sub; it never touches the order.
type Consumer struct {
	subscription receiver
	mailer       Mailer
	guard        claimer
	downloadBase string
	sendTimeout  time.Duration
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if params.Mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.SendTimeout <= 0 {
		params.SendTimeout = defaultSendTimeout
	}
	return &Consumer{
		subscription: params.Subscription,
		mailer:       params.Mailer,
		guard:        params.Guard,
		downloadBase: params.DownloadBase,
		sendTimeout:  params.SendTimeout,
		decoders:     notificationDecoders(),
		logg:         params.Logger,
	}, nil
}

func notificationDecoders() *registry.DecoderRegistry {
	decoders := registry.NewDecoderRegistry()
	registry.RegisterJSON[payloads.NotificationRequestedEvent](decoders, enums.EventNotificationRequested, 1)
	registry.RegisterJSON[payloads.GiftCardActivatedEvent](decoders, enums.EventGiftCardActivated, 1)
	return decoders
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.Attributes, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process handles one delivery and reports whether it should be acked.
func (c *Consumer) process(ctx context.Context, attrs map[string]string, data []byte) bool {
	eventType := enums.OutboxEventType(attrs["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_type": string(eventType),
		"event_id":   attrs["event_id"],
	})
	if !c.decoders.Handles(eventType) {
		return true
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "decode notification envelope", err)
		return true
	}
	eventID := strings.TrimSpace(envelope.EventID)
	if eventID == "" {
		eventID = attrs["event_id"]
	}

	msg, err := c.render(eventType, envelope)
	if err != nil {
		if errors.Is(err, errNoRecipient) {
			c.logg.Info(logCtx, "notification skipped; no recipient")
		} else {
			c.logg.Error(logCtx, "render notification", err)
		}
		return true
	}

	claimed, err := c.guard.Claim(ctx, fulfillmentConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "claim notification event", err)
		return false
	}
	if !claimed {
		c.logg.Info(logCtx, "notification already sent")
		return true
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()
	if err := c.mailer.Send(sendCtx, msg); err != nil {
		c.logg.Error(c.logg.WithField(logCtx, "to", msg.To), "send notification", err)
		if relErr := c.guard.Release(ctx, fulfillmentConsumer, eventID); relErr != nil {
			c.logg.Error(logCtx, "release notification claim", relErr)
		}
		return false
	}
	c.logg.Info(c.logg.WithField(logCtx, "to", msg.To), "notification sent")
	return true
}

func (c *Consumer) render(eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) (Message, error) {
	decoded, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		return Message{}, err
	}
	switch event := decoded.(type) {
	case payloads.NotificationRequestedEvent:
		if strings.TrimSpace(event.Recipient) == "" {
			return Message{}, errNoRecipient
		}
		return renderFulfillment(event, c.downloadBase)
	case payloads.GiftCardActivatedEvent:
		if strings.TrimSpace(event.RecipientEmail) == "" {
			return Message{}, errNoRecipient
		}
		return renderGiftCard(event)
	default:
		return Message{}, fmt.Errorf("unexpected payload %T", decoded)
	}
}
