package giftcards

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
)

// Repository persists gift cards and their append-only usage rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, card *models.GiftCard) error
	FindByCode(ctx context.Context, code string) (*models.GiftCard, error)
	FindByPaymentReference(ctx context.Context, ref string) (*models.GiftCard, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.GiftCard, error)
	SetPaymentReference(ctx context.Context, id uuid.UUID, ref string) error
	Activate(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	MarkExpired(ctx context.Context, id uuid.UUID) error
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Debit(ctx context.Context, id, orderID uuid.UUID, amountCents int64, now time.Time) (bool, error)
	UsageTotal(ctx context.Context, id uuid.UUID) (int64, error)
}

var (
	activatable = enums.GiftCardStatusesInto(enums.GiftCardStatusActive)
	expirable   = enums.GiftCardStatusesInto(enums.GiftCardStatusExpired)
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, card *models.GiftCard) error {
	return r.db.WithContext(ctx).Create(card).Error
}

// FindByCode returns nil, nil when no card matches.
func (r *repository) FindByCode(ctx context.Context, code string) (*models.GiftCard, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, nil
	}
	return r.first(r.db.WithContext(ctx).Where("UPPER(code) = ?", normalized))
}

func (r *repository) FindByPaymentReference(ctx context.Context, ref string) (*models.GiftCard, error) {
	if ref == "" {
		return nil, nil
	}
	return r.first(r.db.WithContext(ctx).Where("payment_reference = ?", ref))
}

// LockByID re-reads the card with a row lock on postgres.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.GiftCard, error) {
	query := r.db.WithContext(ctx)
	if query.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.first(query.Where("id = ?", id))
}

func (r *repository) first(query *gorm.DB) (*models.GiftCard, error) {
	var card models.GiftCard
	err := query.First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (r *repository) SetPaymentReference(ctx context.Context, id uuid.UUID, ref string) error {
	return r.db.WithContext(ctx).
		Model(&models.GiftCard{}).
		Where("id = ?", id).
		Update("payment_reference", ref).Error
}

// Activate moves a PENDING card that has not yet expired to ACTIVE. False
// means the card was not pending or is past expires_at.
func (r *repository) Activate(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.GiftCard{}).
		Where("id = ? AND status IN ? AND expires_at > ?", id, activatable, now).
		Updates(map[string]any{
			"status":       enums.GiftCardStatusActive,
			"activated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Cancel(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.GiftCard{}).
		Where("id = ? AND status = ?", id, enums.GiftCardStatusPending).
		Update("status", enums.GiftCardStatusCancelled).Error
}

func (r *repository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.GiftCard{}).
		Where("id = ? AND status IN ?", id, expirable).
		Update("status", enums.GiftCardStatusExpired).Error
}

// ExpireDue flips up to limit unused cards past expires_at and returns their
// ids. PENDING cards whose purchase never completed are swept too.
func (r *repository) ExpireDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).
		Model(&models.GiftCard{}).
		Where("status IN ? AND expires_at <= ?", expirable, now).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.GiftCard{}).
		Where("id IN ? AND status IN ?", ids, expirable).
		Update("status", enums.GiftCardStatusExpired).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// Debit subtracts amountCents only while the card is ACTIVE, unexpired and
// funded, appends the usage row and flips the card to REDEEMED at zero.
// False means the guard failed and nothing was written.
func (r *repository) Debit(ctx context.Context, id, orderID uuid.UUID, amountCents int64, now time.Time) (bool, error) {
	if amountCents <= 0 {
		return false, errors.New("debit amount must be positive")
	}
	res := r.db.WithContext(ctx).
		Model(&models.GiftCard{}).
		Where("id = ? AND status = ? AND balance_cents >= ? AND expires_at > ?", id, enums.GiftCardStatusActive, amountCents, now).
		Updates(map[string]any{
			"balance_cents": gorm.Expr("balance_cents - ?", amountCents),
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected != 1 {
		return false, nil
	}
	usage := models.GiftCardUsage{GiftCardID: id, OrderID: orderID, AmountCents: amountCents}
	if err := r.db.WithContext(ctx).Create(&usage).Error; err != nil {
		return false, err
	}
	if err := r.db.WithContext(ctx).
		Model(&models.GiftCard{}).
		Where("id = ? AND balance_cents = 0", id).
		Update("status", enums.GiftCardStatusRedeemed).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repository) UsageTotal(ctx context.Context, id uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.GiftCardUsage{}).
		Where("gift_card_id = ?", id).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	return total, err
}
