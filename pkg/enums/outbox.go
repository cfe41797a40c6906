package enums

// OutboxAggregateType names the row an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder              OutboxAggregateType = "order"
	AggregateCheckoutSession    OutboxAggregateType = "checkout_session"
	AggregateGiftCard           OutboxAggregateType = "gift_card"
	AggregateSettlementIncident OutboxAggregateType = "settlement_incident"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateCheckoutSession,
	AggregateGiftCard,
	AggregateSettlementIncident,
}

// String implements fmt.Stringer.
func (o OutboxAggregateType) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OutboxAggregateType.
func (o OutboxAggregateType) IsValid() bool {
	return known(validOutboxAggregateTypes, o)
}

// ParseOutboxAggregateType converts raw input into an OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse(validOutboxAggregateTypes, "aggregate type", value)
}

type OutboxEventType string

const (
	EventOrderSettled             OutboxEventType = "order_settled"
	EventOrderRefunded            OutboxEventType = "order_refunded"
	EventNotificationRequested    OutboxEventType = "notification_requested"
	EventGiftCardActivated        OutboxEventType = "gift_card_activated"
	EventSettlementIncidentOpened OutboxEventType = "settlement_incident_opened"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderSettled,
	EventOrderRefunded,
	EventNotificationRequested,
	EventGiftCardActivated,
	EventSettlementIncidentOpened,
}

// String implements fmt.Stringer.
func (o OutboxEventType) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OutboxEventType.
func (o OutboxEventType) IsValid() bool {
	return known(validOutboxEventTypes, o)
}

// ParseOutboxEventType converts raw input into an OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse(validOutboxEventTypes, "event type", value)
}
