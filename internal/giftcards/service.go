package giftcards

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/internal/payments"
	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/db"
	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/outbox"
	"github.com/digistore1/digistore-backend/pkg/outbox/payloads"
)

const maxCodeAttempts = 5

var errCaptureMismatch = errors.New("captured amount differs from gift card face value")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// BalanceResult is the public view of a card.
type BalanceResult struct {
	Code         string               `json:"code"`
	BalanceCents int64                `json:"balance_cents"`
	Currency     string               `json:"currency"`
	Status       enums.GiftCardStatus `json:"status"`
	ExpiresAt    time.Time            `json:"expires_at"`
}

// PurchaseInput describes a gift-card purchase.
type PurchaseInput struct {
	AmountCents     int64
	PurchaserUserID *uuid.UUID
	PurchaserEmail  string
	RecipientEmail  string
	RecipientName   string
	Message         string
	SourceID        string
	IdempotencyKey  string
}

// PurchaseResult hands the gateway intent back to the client. The code is
// only revealed to the recipient after payment.
type PurchaseResult struct {
	GiftCardID   uuid.UUID            `json:"gift_card_id"`
	AmountCents  int64                `json:"amount_cents"`
	Currency     string               `json:"currency"`
	Status       enums.GiftCardStatus `json:"status"`
	Provider     string               `json:"provider"`
	IntentRef    string               `json:"intent_ref"`
	ClientSecret string               `json:"client_secret,omitempty"`
}

type Service interface {
	Balance(ctx context.Context, code string) (*BalanceResult, error)
	Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error)
	ActivatePurchase(ctx context.Context, captured payments.Result) (bool, error)
	ExpireDue(ctx context.Context, limit int) (int, error)
}

type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Gateway  payments.Adapter
	Outbox   outboxPublisher
	Config   config.GiftCardsConfig
	Currency string
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	gateway  payments.Adapter
	outbox   outboxPublisher
	cfg      config.GiftCardsConfig
	currency string
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gift card repository required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "USD"
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		gateway:  params.Gateway,
		outbox:   params.Outbox,
		cfg:      params.Config,
		currency: currency,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// Balance expires the card lazily when it is accessed past expires_at.
func (s *service) Balance(ctx context.Context, code string) (*BalanceResult, error) {
	if NormalizeCode(code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gift card code is required")
	}
	card, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load gift card")
	}
	// Cards whose purchase never completed are not visible, even once swept to EXPIRED.
	if card == nil || card.ActivatedAt == nil || card.Status == enums.GiftCardStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "gift card not found")
	}
	if NeedsExpiry(card, s.now()) {
		if err := s.repo.MarkExpired(ctx, card.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire gift card")
		}
		card.Status = enums.GiftCardStatusExpired
	}
	return &BalanceResult{
		Code:         card.Code,
		BalanceCents: card.BalanceCents,
		Currency:     card.Currency,
		Status:       card.Status,
		ExpiresAt:    card.ExpiresAt,
	}, nil
}

func (s *service) Purchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	if err := s.validatePurchase(input); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	card := &models.GiftCard{
		InitialAmountCents: input.AmountCents,
		BalanceCents:       input.AmountCents,
		Currency:           s.currency,
		Status:             enums.GiftCardStatusPending,
		PurchaserUserID:    input.PurchaserUserID,
		PurchaserEmail:     strings.ToLower(strings.TrimSpace(input.PurchaserEmail)),
		RecipientEmail:     optional(strings.ToLower(input.RecipientEmail)),
		RecipientName:      optional(input.RecipientName),
		Message:            optional(input.Message),
		ExpiresAt:          now.Add(s.validity()),
	}
	if err := s.createWithUniqueCode(ctx, card); err != nil {
		return nil, err
	}

	idempotencyKey := "giftcard-" + card.ID.String()
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		idempotencyKey = "giftcard-" + key
	}
	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		AmountCents:    card.InitialAmountCents,
		Currency:       card.Currency,
		Description:    "Gift card",
		Email:          card.PurchaserEmail,
		Reference:      card.ID.String(),
		IdempotencyKey: idempotencyKey,
		SourceID:       input.SourceID,
		AutoCapture:    true,
	})
	if err != nil {
		if cancelErr := s.repo.Cancel(ctx, card.ID); cancelErr != nil {
			s.logg.Error(ctx, "gift card cancel after intent failure", cancelErr)
		}
		return nil, err
	}
	if err := s.repo.SetPaymentReference(ctx, card.ID, intent.Ref); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store gift card payment reference")
	}

	if intent.Outcome == payments.OutcomeCompleted {
		captured := payments.Result{Outcome: intent.Outcome, Ref: intent.Ref, AmountCents: card.InitialAmountCents, Currency: card.Currency}
		if _, err := s.ActivatePurchase(ctx, captured); err != nil {
			return nil, err
		}
		card.Status = enums.GiftCardStatusActive
	}

	return &PurchaseResult{
		GiftCardID:   card.ID,
		AmountCents:  card.InitialAmountCents,
		Currency:     card.Currency,
		Status:       card.Status,
		Provider:     intent.Provider,
		IntentRef:    intent.Ref,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// ActivatePurchase activates the card bought with the captured intent. It
// returns false when the intent does not belong to a gift-card purchase.
// Replays are no-ops. A capture that does not match the card's face value
// leaves the card unissued.
func (s *service) ActivatePurchase(ctx context.Context, captured payments.Result) (bool, error) {
	card, err := s.repo.FindByPaymentReference(ctx, captured.Ref)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load gift card by payment reference")
	}
	if card == nil {
		return false, nil
	}
	ctx = s.logg.WithField(ctx, "gift_card_id", card.ID.String())
	if !card.Status.CanTransitionTo(enums.GiftCardStatusActive) {
		return true, nil
	}
	if captured.AmountCents != card.InitialAmountCents || (captured.Currency != "" && !strings.EqualFold(captured.Currency, card.Currency)) {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"captured_cents":    captured.AmountCents,
			"captured_currency": captured.Currency,
			"face_value_cents":  card.InitialAmountCents,
			"currency":          card.Currency,
		}), "gift card capture does not match face value", errCaptureMismatch)
		return true, nil
	}

	var activated bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).Activate(ctx, card.ID, s.now().UTC())
		if err != nil || !ok {
			return err
		}
		activated = true
		recipient := card.PurchaserEmail
		if card.RecipientEmail != nil {
			recipient = *card.RecipientEmail
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventGiftCardActivated,
			AggregateType: enums.AggregateGiftCard,
			AggregateID:   card.ID,
			Data: payloads.GiftCardActivatedEvent{
				GiftCardID:     card.ID,
				Code:           card.Code,
				AmountCents:    card.InitialAmountCents,
				Currency:       card.Currency,
				RecipientEmail: recipient,
				RecipientName:  deref(card.RecipientName),
				Message:        deref(card.Message),
				ExpiresAt:      card.ExpiresAt,
			},
		})
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate gift card")
	}
	if !activated {
		s.logg.Warn(s.logg.WithField(ctx, "expires_at", card.ExpiresAt), "gift card not activated, already expired or issued")
		return true, nil
	}
	s.logg.Info(ctx, "gift card activated")
	return true, nil
}

func (s *service) ExpireDue(ctx context.Context, limit int) (int, error) {
	ids, err := s.repo.ExpireDue(ctx, s.now().UTC(), limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire gift cards")
	}
	return len(ids), nil
}

func (s *service) validatePurchase(input PurchaseInput) error {
	min, max := s.cfg.MinAmountCents, s.cfg.MaxAmountCents
	if input.AmountCents <= 0 || (min > 0 && input.AmountCents < min) || (max > 0 && input.AmountCents > max) {
		return pkgerrors.New(pkgerrors.CodeValidation, "gift card amount out of range").
			WithDetails(map[string]any{"min_amount_cents": min, "max_amount_cents": max})
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(input.PurchaserEmail)); err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "purchaser email is invalid")
	}
	if recipient := strings.TrimSpace(input.RecipientEmail); recipient != "" {
		if _, err := mail.ParseAddress(recipient); err != nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "recipient email is invalid")
		}
	}
	return nil
}

func (s *service) createWithUniqueCode(ctx context.Context, card *models.GiftCard) error {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate gift card code")
		}
		card.ID = uuid.Nil
		card.Code = code
		err = s.repo.Create(ctx, card)
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create gift card")
		}
	}
	return pkgerrors.New(pkgerrors.CodeInternal, "could not allocate a unique gift card code")
}

func (s *service) validity() time.Duration {
	if s.cfg.Validity > 0 {
		return s.cfg.Validity
	}
	return 365 * 24 * time.Hour
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
