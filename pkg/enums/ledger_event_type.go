package enums

// LedgerEventType classifies an immutable money fact recorded against an order.
type LedgerEventType string

const (
	LedgerEventTypeCashCollected      LedgerEventType = "cash_collected"
	LedgerEventTypeVendorCredit       LedgerEventType = "vendor_credit"
	LedgerEventTypePlatformFee        LedgerEventType = "platform_fee"
	LedgerEventTypeGiftCardRedemption LedgerEventType = "gift_card_redemption"
	LedgerEventTypeReferralCommission LedgerEventType = "referral_commission"
	LedgerEventTypeRefund             LedgerEventType = "refund"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventTypeCashCollected,
	LedgerEventTypeVendorCredit,
	LedgerEventTypePlatformFee,
	LedgerEventTypeGiftCardRedemption,
	LedgerEventTypeReferralCommission,
	LedgerEventTypeRefund,
}

// String implements fmt.Stringer.
func (l LedgerEventType) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LedgerEventType.
func (l LedgerEventType) IsValid() bool {
	return known(validLedgerEventTypes, l)
}

// ParseLedgerEventType converts raw input into a LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	return parse(validLedgerEventTypes, "ledger event type", value)
}
