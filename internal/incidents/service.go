package incidents

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/metrics"
	"github.com/digistore1/digistore-backend/pkg/outbox"
	"github.com/digistore1/digistore-backend/pkg/outbox/payloads"
	"github.com/digistore1/digistore-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OpenInput describes captured money that did not become an order.
type OpenInput struct {
	CheckoutSessionID   uuid.UUID
	Provider            string
	PaymentReference    string
	ExpectedAmountCents int64
	CapturedAmountCents *int64
	Currency            string
	Reason              enums.IncidentReason
	Detail              string
	Snapshot            any
}

// ListInput filters the admin incident list.
type ListInput struct {
	Status enums.IncidentStatus
	pagination.Params
}

// ListResult is one page of incidents.
type ListResult struct {
	Items      []models.SettlementIncident `json:"items"`
	NextCursor string                      `json:"next_cursor,omitempty"`
}

type Service interface {
	Open(ctx context.Context, input OpenInput) (*models.SettlementIncident, error)
	List(ctx context.Context, input ListInput) (*ListResult, error)
	Resolve(ctx context.Context, id, adminID uuid.UUID, note string) (*models.SettlementIncident, error)
}

type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Metrics *metrics.SettlementMetrics
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "incident repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     time.Now,
	}, nil
}

// Open stores the incident and queues the operator page in one transaction.
func (s *service) Open(ctx context.Context, input OpenInput) (*models.SettlementIncident, error) {
	if input.CheckoutSessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session id is required")
	}
	if !input.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid incident reason")
	}
	var snapshot json.RawMessage
	if input.Snapshot != nil {
		raw, err := json.Marshal(input.Snapshot)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode incident snapshot")
		}
		snapshot = raw
	}
	incident := &models.SettlementIncident{
		CheckoutSessionID:   input.CheckoutSessionID,
		Provider:            input.Provider,
		PaymentReference:    input.PaymentReference,
		ExpectedAmountCents: input.ExpectedAmountCents,
		CapturedAmountCents: input.CapturedAmountCents,
		Currency:            strings.ToUpper(input.Currency),
		Reason:              input.Reason,
		Detail:              input.Detail,
		Snapshot:            snapshot,
		Status:              enums.IncidentStatusOpen,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, incident); err != nil {
			return err
		}
		var captured int64
		if incident.CapturedAmountCents != nil {
			captured = *incident.CapturedAmountCents
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSettlementIncidentOpened,
			AggregateType: enums.AggregateSettlementIncident,
			AggregateID:   incident.ID,
			Data: payloads.SettlementIncidentOpenedEvent{
				IncidentID:          incident.ID,
				CheckoutSessionID:   incident.CheckoutSessionID,
				Provider:            enums.PaymentMethod(incident.Provider),
				PaymentReference:    incident.PaymentReference,
				Reason:              incident.Reason,
				ExpectedAmountCents: incident.ExpectedAmountCents,
				CapturedAmountCents: captured,
				Detail:              incident.Detail,
			},
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record settlement incident")
	}
	s.metrics.IncIncident(string(incident.Reason))
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"incident_id":         incident.ID.String(),
		"checkout_session_id": incident.CheckoutSessionID.String(),
		"payment_reference":   incident.PaymentReference,
		"reason":              string(incident.Reason),
	})
	s.logg.Warn(logCtx, "settlement incident opened")
	return incident, nil
}

func (s *service) List(ctx context.Context, input ListInput) (*ListResult, error) {
	if input.Status != "" && !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid incident status")
	}
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, input.Status, pagination.LimitWithBuffer(input.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlement incidents")
	}
	items, next := pagination.Trim(rows, input.Limit, func(row models.SettlementIncident) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return &ListResult{Items: items, NextCursor: next}, nil
}

func (s *service) Resolve(ctx context.Context, id, adminID uuid.UUID, note string) (*models.SettlementIncident, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution note is required")
	}
	incident, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement incident")
	}
	if incident == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "settlement incident not found")
	}
	resolved, err := s.repo.Resolve(ctx, id, adminID, note, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve settlement incident")
	}
	if !resolved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "settlement incident already resolved")
	}
	s.logg.Info(s.logg.WithField(ctx, "incident_id", id.String()), "settlement incident resolved")
	return s.repo.FindByID(ctx, id)
}
