package vendors

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Earnings returns the vendor share of a line: lineTotal * (1 - feeRate),
// rounded half-up to the cent.
func Earnings(lineTotalCents int64, feeRate decimal.Decimal) int64 {
	share := decimal.NewFromInt(1).Sub(feeRate)
	return decimal.NewFromInt(lineTotalCents).Mul(share).Round(0).IntPart()
}

// Credit is the aggregated increment for one vendor in one order.
type Credit struct {
	VendorID     uuid.UUID
	RevenueCents int64
	Sales        int64
}
