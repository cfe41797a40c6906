package enums

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "PENDING"
	ReferralStatusConverted ReferralStatus = "CONVERTED"
	ReferralStatusPaid      ReferralStatus = "PAID"
)

var validReferralStatuses = []ReferralStatus{
	ReferralStatusPending,
	ReferralStatusConverted,
	ReferralStatusPaid,
}

// String implements fmt.Stringer.
func (r ReferralStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReferralStatus.
func (r ReferralStatus) IsValid() bool {
	return known(validReferralStatuses, r)
}

// ParseReferralStatus converts raw input into a ReferralStatus.
func ParseReferralStatus(value string) (ReferralStatus, error) {
	return parse(validReferralStatuses, "referral status", value)
}

type ConversionStatus string

const (
	ConversionStatusConverted ConversionStatus = "CONVERTED"
	ConversionStatusPaid      ConversionStatus = "PAID"
)

var validConversionStatuses = []ConversionStatus{
	ConversionStatusConverted,
	ConversionStatusPaid,
}

// String implements fmt.Stringer.
func (c ConversionStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known ConversionStatus.
func (c ConversionStatus) IsValid() bool {
	return known(validConversionStatuses, c)
}

// ParseConversionStatus converts raw input into a ConversionStatus.
func ParseConversionStatus(value string) (ConversionStatus, error) {
	return parse(validConversionStatuses, "conversion status", value)
}
