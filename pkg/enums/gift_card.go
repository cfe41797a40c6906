package enums

// GiftCardStatus transitions forward only.
type GiftCardStatus string

const (
	GiftCardStatusPending   GiftCardStatus = "PENDING"
	GiftCardStatusActive    GiftCardStatus = "ACTIVE"
	GiftCardStatusRedeemed  GiftCardStatus = "REDEEMED"
	GiftCardStatusExpired   GiftCardStatus = "EXPIRED"
	GiftCardStatusCancelled GiftCardStatus = "CANCELLED"
)

var validGiftCardStatuses = []GiftCardStatus{
	GiftCardStatusPending,
	GiftCardStatusActive,
	GiftCardStatusRedeemed,
	GiftCardStatusExpired,
	GiftCardStatusCancelled,
}

// String implements fmt.Stringer.
func (g GiftCardStatus) String() string {
	return string(g)
}

// IsValid reports whether the value is a known GiftCardStatus.
func (g GiftCardStatus) IsValid() bool {
	return known(validGiftCardStatuses, g)
}

// ParseGiftCardStatus converts raw input into a GiftCardStatus.
func ParseGiftCardStatus(value string) (GiftCardStatus, error) {
	return parse(validGiftCardStatuses, "gift card status", value)
}

// CanTransitionTo reports whether moving from g to next respects the forward-only lifecycle.
func (g GiftCardStatus) CanTransitionTo(next GiftCardStatus) bool {
	switch g {
	case GiftCardStatusPending:
		return next == GiftCardStatusActive || next == GiftCardStatusExpired || next == GiftCardStatusCancelled
	case GiftCardStatusActive:
		return next == GiftCardStatusRedeemed || next == GiftCardStatusExpired || next == GiftCardStatusCancelled
	default:
		return false
	}
}

// GiftCardStatusesInto lists the statuses allowed to move to next.
func GiftCardStatusesInto(next GiftCardStatus) []GiftCardStatus {
	var from []GiftCardStatus
	for _, status := range validGiftCardStatuses {
		if status.CanTransitionTo(next) {
			from = append(from, status)
		}
	}
	return from
}
