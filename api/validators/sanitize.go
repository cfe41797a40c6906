package validators

import "strings"

const maxEmailBytes = 254

// SanitizeString trims input and truncates it to maxLen bytes.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen > 0 && len(trimmed) > maxLen {
		return trimmed[:maxLen]
	}
	return trimmed
}

// NormalizeEmail trims and lower-cases an address so guest identities compare
// equal across checkout, coupon and order lookups.
func NormalizeEmail(input string) string {
	return strings.ToLower(SanitizeString(input, maxEmailBytes))
}
