package analytics

import (
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/digistore1/digistore-backend/pkg/enums"
	"github.com/digistore1/digistore-backend/pkg/outbox"
	"github.com/digistore1/digistore-backend/pkg/outbox/payloads"
	"github.com/digistore1/digistore-backend/pkg/outbox/registry"
)

// SettlementEventRow mirrors the settlement_events BigQuery schema.
type SettlementEventRow struct {
	EventID           string             `bigquery:"event_id"`
	EventType         string             `bigquery:"event_type"`
	OccurredAt        time.Time          `bigquery:"occurred_at"`
	OrderID           *string            `bigquery:"order_id"`
	CheckoutSessionID *string            `bigquery:"checkout_session_id"`
	IncidentID        *string            `bigquery:"incident_id"`
	Provider          *string            `bigquery:"provider"`
	PaymentReference  *string            `bigquery:"payment_reference"`
	AmountCents       *int64             `bigquery:"amount_cents"`
	DiscountCents     *int64             `bigquery:"discount_cents"`
	Currency          *string            `bigquery:"currency"`
	Reason            *string            `bigquery:"reason"`
	VendorCount       *int64             `bigquery:"vendor_count"`
	Payload           cbigquery.NullJSON `bigquery:"payload"`
}

// InsertID keys streaming dedupe on the outbox event id.
func (r SettlementEventRow) InsertID() string { return r.EventID }

func settlementDecoders() *registry.DecoderRegistry {
	decoders := registry.NewDecoderRegistry()
	registry.RegisterJSON[payloads.OrderSettledEvent](decoders, enums.EventOrderSettled, 1)
	registry.RegisterJSON[payloads.OrderRefundedEvent](decoders, enums.EventOrderRefunded, 1)
	registry.RegisterJSON[payloads.SettlementIncidentOpenedEvent](decoders, enums.EventSettlementIncidentOpened, 1)
	return decoders
}

func buildRow(decoders *registry.DecoderRegistry, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) (*SettlementEventRow, error) {
	decoded, err := decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, err
	}

	row := &SettlementEventRow{
		EventID:    envelope.EventID,
		EventType:  string(eventType),
		OccurredAt: envelope.OccurredAt.UTC(),
	}
	if len(envelope.Data) > 0 {
		row.Payload = cbigquery.NullJSON{JSONVal: string(envelope.Data), Valid: true}
	}

	switch event := decoded.(type) {
	case payloads.OrderSettledEvent:
		row.OrderID = strPtr(event.OrderID.String())
		row.CheckoutSessionID = strPtr(event.CheckoutSessionID.String())
		row.Provider = strPtr(string(event.PaymentMethod))
		if event.PaymentReference != nil {
			row.PaymentReference = strPtr(*event.PaymentReference)
		}
		row.AmountCents = int64Ptr(event.TotalCents)
		row.DiscountCents = int64Ptr(event.DiscountCents)
		row.Currency = strPtr(event.Currency)
		row.VendorCount = int64Ptr(int64(len(event.VendorIDs)))
	case payloads.OrderRefundedEvent:
		row.OrderID = strPtr(event.OrderID.String())
		row.PaymentReference = strPtr(event.PaymentReference)
		row.AmountCents = int64Ptr(event.AmountCents)
	case payloads.SettlementIncidentOpenedEvent:
		row.IncidentID = strPtr(event.IncidentID.String())
		row.CheckoutSessionID = strPtr(event.CheckoutSessionID.String())
		row.Provider = strPtr(string(event.Provider))
		row.PaymentReference = strPtr(event.PaymentReference)
		row.AmountCents = int64Ptr(event.CapturedAmountCents)
		row.Reason = strPtr(string(event.Reason))
	default:
		return nil, fmt.Errorf("unexpected payload %T", decoded)
	}
	return row, nil
}

func strPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func int64Ptr(value int64) *int64 {
	return &value
}
