package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/enums"
)

// SettlementIncident records money captured without a resulting order.
type SettlementIncident struct {
	ID                  uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	CheckoutSessionID   uuid.UUID            `gorm:"column:checkout_session_id;type:uuid;not null;index"`
	Provider            string               `gorm:"column:provider;type:varchar(32);not null"`
	PaymentReference    string               `gorm:"column:payment_reference;not null"`
	ExpectedAmountCents int64                `gorm:"column:expected_amount_cents;not null"`
	CapturedAmountCents *int64               `gorm:"column:captured_amount_cents"`
	Currency            string               `gorm:"column:currency;type:varchar(3);not null"`
	Reason              enums.IncidentReason `gorm:"column:reason;type:varchar(32);not null"`
	Detail              string               `gorm:"column:detail;not null"`
	Snapshot            json.RawMessage      `gorm:"column:snapshot;type:jsonb"`
	Status              enums.IncidentStatus `gorm:"column:status;type:varchar(32);not null;index"`
	ResolvedBy          *uuid.UUID           `gorm:"column:resolved_by;type:uuid"`
	ResolutionNote      *string              `gorm:"column:resolution_note"`
	ResolvedAt          *time.Time           `gorm:"column:resolved_at"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *SettlementIncident) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
