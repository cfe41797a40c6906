package ledger

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
)

// VendorShare is one vendor's credited revenue for an order.
type VendorShare struct {
	VendorID     uuid.UUID
	RevenueCents int64
}

// SettlementFacts are the money movements of one settled order.
type SettlementFacts struct {
	OrderID                 uuid.UUID
	Currency                string
	PaymentReference        string
	CollectedCents          int64
	VendorShares            []VendorShare
	PlatformFeeCents        int64
	GiftCardID              *uuid.UUID
	GiftCardAmountCents     int64
	ReferralCommissionCents int64
}

// SettlementEvents expands facts into ledger rows. Zero amounts are skipped.
func SettlementEvents(f SettlementFacts) []models.LedgerEvent {
	events := make([]models.LedgerEvent, 0, len(f.VendorShares)+4)
	add := func(typ enums.LedgerEventType, vendorID *uuid.UUID, amount int64, meta map[string]any) {
		if amount == 0 {
			return
		}
		events = append(events, models.LedgerEvent{
			OrderID:     f.OrderID,
			VendorID:    vendorID,
			Type:        typ,
			AmountCents: amount,
			Currency:    f.Currency,
			Metadata:    encodeMetadata(meta),
		})
	}

	var collected map[string]any
	if f.PaymentReference != "" {
		collected = map[string]any{"payment_reference": f.PaymentReference}
	}
	add(enums.LedgerEventTypeCashCollected, nil, f.CollectedCents, collected)
	for _, share := range f.VendorShares {
		vendorID := share.VendorID
		add(enums.LedgerEventTypeVendorCredit, &vendorID, share.RevenueCents, nil)
	}
	add(enums.LedgerEventTypePlatformFee, nil, f.PlatformFeeCents, nil)
	if f.GiftCardID != nil {
		add(enums.LedgerEventTypeGiftCardRedemption, nil, f.GiftCardAmountCents, map[string]any{"gift_card_id": f.GiftCardID.String()})
	}
	add(enums.LedgerEventTypeReferralCommission, nil, f.ReferralCommissionCents, nil)
	return events
}

// Refund is one provider refund applied to an order.
type Refund struct {
	OrderID          uuid.UUID
	AmountCents      int64
	Currency         string
	PaymentReference string
	// EventID is the provider event that reported the refund.
	EventID string
}

// RefundEvent records money returned to the buyer as a negative amount.
func RefundEvent(r Refund) models.LedgerEvent {
	amountCents := r.AmountCents
	if amountCents > 0 {
		amountCents = -amountCents
	}
	meta := map[string]any{"payment_reference": r.PaymentReference}
	if r.EventID != "" {
		meta["event_id"] = r.EventID
	}
	return models.LedgerEvent{
		OrderID:     r.OrderID,
		Type:        enums.LedgerEventTypeRefund,
		AmountCents: amountCents,
		Currency:    r.Currency,
		Metadata:    encodeMetadata(meta),
	}
}

// RefundHistory sums the refund facts already recorded for an order.
type RefundHistory struct {
	TotalCents int64
	eventIDs   map[string]struct{}
}

// Includes reports whether the provider event was already recorded.
func (h RefundHistory) Includes(eventID string) bool {
	if eventID == "" {
		return false
	}
	_, ok := h.eventIDs[eventID]
	return ok
}

func refundHistory(events []models.LedgerEvent) RefundHistory {
	history := RefundHistory{eventIDs: map[string]struct{}{}}
	for _, event := range events {
		if event.Type != enums.LedgerEventTypeRefund {
			continue
		}
		history.TotalCents += -event.AmountCents
		var meta struct {
			EventID string `json:"event_id"`
		}
		if len(event.Metadata) > 0 && json.Unmarshal(event.Metadata, &meta) == nil && meta.EventID != "" {
			history.eventIDs[meta.EventID] = struct{}{}
		}
	}
	return history
}

func encodeMetadata(meta map[string]any) json.RawMessage {
	if len(meta) == 0 {
		return nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return raw
}
