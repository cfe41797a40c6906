package ledger

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

// Service defines operations that record ledger events.
type Service interface {
	WithTx(tx *gorm.DB) Service
	RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	RecordSettlement(ctx context.Context, facts SettlementFacts) ([]models.LedgerEvent, error)
	RecordRefund(ctx context.Context, refund Refund) error
	Refunds(ctx context.Context, orderID uuid.UUID) (RefundHistory, error)
	HasEvent(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	OrderID     uuid.UUID             `json:"order_id"`
	VendorID    *uuid.UUID            `json:"vendor_id,omitempty"`
	Type        enums.LedgerEventType `json:"type"`
	AmountCents int64                 `json:"amount_cents"`
	Currency    string                `json:"currency"`
	Metadata    json.RawMessage       `json:"metadata"`
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) RecordEvent(ctx context.Context, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid ledger event type").
			WithDetails(map[string]any{"type": input.Type})
	}
	if len(input.Currency) != 3 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency must be a 3-letter code")
	}

	event := &models.LedgerEvent{
		OrderID:     input.OrderID,
		VendorID:    input.VendorID,
		Type:        input.Type,
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
		Metadata:    input.Metadata,
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create ledger event")
	}
	return event, nil
}

func (s *service) RecordSettlement(ctx context.Context, facts SettlementFacts) ([]models.LedgerEvent, error) {
	if facts.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	events := SettlementEvents(facts)
	if err := s.repo.CreateMany(ctx, events); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create settlement ledger events")
	}
	return events, nil
}

func (s *service) RecordRefund(ctx context.Context, refund Refund) error {
	if refund.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if refund.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	event := RefundEvent(refund)
	if err := s.repo.Create(ctx, &event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund ledger event")
	}
	return nil
}

// Refunds returns the refund total and the provider events already applied.
func (s *service) Refunds(ctx context.Context, orderID uuid.UUID) (RefundHistory, error) {
	events, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return RefundHistory{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger events")
	}
	return refundHistory(events), nil
}

func (s *service) HasEvent(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	if orderID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !eventType.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "invalid ledger event type")
	}

	events, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, event := range events {
		if event.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	return s.repo.ListByOrderID(ctx, orderID)
}
