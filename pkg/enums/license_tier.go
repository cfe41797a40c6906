package enums

// LicenseTier selects the price multiplier applied to a product's base price.
type LicenseTier string

const (
	LicenseTierPersonal   LicenseTier = "PERSONAL"
	LicenseTierCommercial LicenseTier = "COMMERCIAL"
	LicenseTierExtended   LicenseTier = "EXTENDED"
)

var validLicenseTiers = []LicenseTier{
	LicenseTierPersonal,
	LicenseTierCommercial,
	LicenseTierExtended,
}

// String implements fmt.Stringer.
func (l LicenseTier) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LicenseTier.
func (l LicenseTier) IsValid() bool {
	return known(validLicenseTiers, l)
}

// ParseLicenseTier converts raw input into a LicenseTier.
func ParseLicenseTier(value string) (LicenseTier, error) {
	return parse(validLicenseTiers, "license tier", value)
}

// Multiplier returns the factor applied to the base price for the tier.
func (l LicenseTier) Multiplier() int64 {
	switch l {
	case LicenseTierCommercial:
		return 3
	case LicenseTierExtended:
		return 5
	default:
		return 1
	}
}
