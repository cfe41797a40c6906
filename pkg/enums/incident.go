package enums

type IncidentReason string

const (
	IncidentReasonSettlementConflict IncidentReason = "settlement_conflict"
	IncidentReasonAmountMismatch     IncidentReason = "amount_mismatch"
)

var validIncidentReasons = []IncidentReason{
	IncidentReasonSettlementConflict,
	IncidentReasonAmountMismatch,
}

// String implements fmt.Stringer.
func (i IncidentReason) String() string {
	return string(i)
}

// IsValid reports whether the value is a known IncidentReason.
func (i IncidentReason) IsValid() bool {
	return known(validIncidentReasons, i)
}

// ParseIncidentReason converts raw input into an IncidentReason.
func ParseIncidentReason(value string) (IncidentReason, error) {
	return parse(validIncidentReasons, "incident reason", value)
}

type IncidentStatus string

const (
	IncidentStatusOpen     IncidentStatus = "OPEN"
	IncidentStatusResolved IncidentStatus = "RESOLVED"
)

var validIncidentStatuses = []IncidentStatus{
	IncidentStatusOpen,
	IncidentStatusResolved,
}

// String implements fmt.Stringer.
func (i IncidentStatus) String() string {
	return string(i)
}

// IsValid reports whether the value is a known IncidentStatus.
func (i IncidentStatus) IsValid() bool {
	return known(validIncidentStatuses, i)
}

// ParseIncidentStatus converts raw input into an IncidentStatus.
func ParseIncidentStatus(value string) (IncidentStatus, error) {
	return parse(validIncidentStatuses, "incident status", value)
}
