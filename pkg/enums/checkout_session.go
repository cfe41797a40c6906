package enums

// CheckoutSessionStatus is the settlement state machine position.
type CheckoutSessionStatus string

const (
	CheckoutSessionStatusQuoted         CheckoutSessionStatus = "QUOTED"
	CheckoutSessionStatusGatewayPending CheckoutSessionStatus = "GATEWAY_PENDING"
	CheckoutSessionStatusCaptured       CheckoutSessionStatus = "CAPTURED"
	CheckoutSessionStatusSettled        CheckoutSessionStatus = "SETTLED"
	CheckoutSessionStatusCaptureFailed  CheckoutSessionStatus = "CAPTURE_FAILED"
	CheckoutSessionStatusRejected       CheckoutSessionStatus = "REJECTED"
)

var validCheckoutSessionStatuses = []CheckoutSessionStatus{
	CheckoutSessionStatusQuoted,
	CheckoutSessionStatusGatewayPending,
	CheckoutSessionStatusCaptured,
	CheckoutSessionStatusSettled,
	CheckoutSessionStatusCaptureFailed,
	CheckoutSessionStatusRejected,
}

// String implements fmt.Stringer.
func (c CheckoutSessionStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CheckoutSessionStatus.
func (c CheckoutSessionStatus) IsValid() bool {
	return known(validCheckoutSessionStatuses, c)
}

// ParseCheckoutSessionStatus converts raw input into a CheckoutSessionStatus.
func ParseCheckoutSessionStatus(value string) (CheckoutSessionStatus, error) {
	return parse(validCheckoutSessionStatuses, "checkout session status", value)
}

// IsTerminal reports whether no further transition is allowed.
func (c CheckoutSessionStatus) IsTerminal() bool {
	switch c {
	case CheckoutSessionStatusSettled, CheckoutSessionStatusCaptureFailed, CheckoutSessionStatusRejected:
		return true
	default:
		return false
	}
}
