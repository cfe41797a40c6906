package giftcards

import (
	"time"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
)

// Reason is a machine-readable gift-card rejection reason.
type Reason string

const (
	ReasonNotFound  Reason = "not_found"
	ReasonInactive  Reason = "inactive"
	ReasonExpired   Reason = "expired"
	ReasonNoBalance Reason = "no_balance"
)

// Rejection explains why a card cannot be applied.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

// Check validates a card for redemption. The caller flips the card to
// EXPIRED when the reason is ReasonExpired and the status is still ACTIVE.
func Check(card *models.GiftCard, now time.Time) *Rejection {
	if card == nil {
		return &Rejection{Reason: ReasonNotFound, Message: "Invalid gift card code"}
	}
	if card.Status == enums.GiftCardStatusExpired || (card.Status == enums.GiftCardStatusActive && !now.Before(card.ExpiresAt)) {
		return &Rejection{Reason: ReasonExpired, Message: "This gift card has expired"}
	}
	if card.Status == enums.GiftCardStatusRedeemed {
		return &Rejection{Reason: ReasonNoBalance, Message: "This gift card has no remaining balance"}
	}
	if card.Status != enums.GiftCardStatusActive {
		return &Rejection{Reason: ReasonInactive, Message: "This gift card is not active"}
	}
	if card.BalanceCents <= 0 {
		return &Rejection{Reason: ReasonNoBalance, Message: "This gift card has no remaining balance"}
	}
	return nil
}

// Apply returns min(balance, remaining).
func Apply(card *models.GiftCard, remainingCents int64) int64 {
	if card == nil || remainingCents <= 0 {
		return 0
	}
	if card.BalanceCents < remainingCents {
		return card.BalanceCents
	}
	return remainingCents
}

// NeedsExpiry reports whether the card is ACTIVE but past its expiry.
func NeedsExpiry(card *models.GiftCard, now time.Time) bool {
	return card != nil && card.Status == enums.GiftCardStatusActive && !now.Before(card.ExpiresAt)
}
