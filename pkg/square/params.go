package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

// PaymentCreateParams describes one card payment. An empty LocationID uses
// the client's location; an empty Currency means USD.
type PaymentCreateParams struct {
	AmountCents    int64
	Currency       string
	LocationID     string
	SourceID       string
	BuyerEmail     string
	IdempotencyKey string
	Note           string
	ReferenceID    string
	Autocomplete   bool
}

func (p PaymentCreateParams) request(key string) *sq.CreatePaymentRequest {
	autocomplete := p.Autocomplete
	req := &sq.CreatePaymentRequest{
		IdempotencyKey:    key,
		SourceID:          p.SourceID,
		Autocomplete:      &autocomplete,
		LocationID:        optional(p.LocationID),
		BuyerEmailAddress: optional(p.BuyerEmail),
		Note:              optional(p.Note),
		ReferenceID:       optional(p.ReferenceID),
	}
	if p.AmountCents > 0 {
		amount := p.AmountCents
		currency := sq.Currency(strings.ToUpper(strings.TrimSpace(p.Currency)))
		if currency == "" {
			currency = "USD"
		}
		req.AmountMoney = &sq.Money{Amount: &amount, Currency: &currency}
	}
	return req
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
