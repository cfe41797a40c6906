package referrals

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

// ConversionInput describes a settled order that arrived with a referral code.
type ConversionInput struct {
	Code        string
	OrderID     uuid.UUID
	BuyerUserID *uuid.UUID
	BuyerEmail  string
	TotalCents  int64
	Rate        decimal.Decimal
}

type Service interface {
	WithTx(tx *gorm.DB) Service
	Click(ctx context.Context, code string) error
	Convert(ctx context.Context, input ConversionInput) (*models.ReferralConversion, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "referrals repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) Click(ctx context.Context, code string) error {
	referral, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral")
	}
	if referral == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "referral code not found")
	}
	if err := s.repo.RecordClick(ctx, referral.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record referral click")
	}
	return nil
}

// Convert records the referrer's commission for an order. It returns nil
// without error when the code is unknown, the buyer is the referrer, or the
// order has already converted.
func (s *service) Convert(ctx context.Context, input ConversionInput) (*models.ReferralConversion, error) {
	if strings.TrimSpace(input.Code) == "" || input.TotalCents <= 0 {
		return nil, nil
	}
	referral, err := s.repo.FindByCode(ctx, input.Code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral")
	}
	if referral == nil {
		return nil, nil
	}

	self, err := s.isSelfReferral(ctx, referral, input)
	if err != nil {
		return nil, err
	}
	if self {
		return nil, nil
	}

	existing, err := s.repo.FindConversionByOrder(ctx, input.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral conversion")
	}
	if existing != nil {
		return nil, nil
	}

	conversion := &models.ReferralConversion{
		ReferralID:      referral.ID,
		ReferrerUserID:  referral.ReferrerUserID,
		OrderID:         input.OrderID,
		OrderTotalCents: input.TotalCents,
		CommissionCents: Commission(input.TotalCents, input.Rate),
		Status:          enums.ConversionStatusConverted,
	}
	if err := s.repo.CreateConversion(ctx, conversion); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create referral conversion")
	}
	if err := s.repo.MarkConverted(ctx, referral.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark referral converted")
	}
	return conversion, nil
}

func (s *service) isSelfReferral(ctx context.Context, referral *models.Referral, input ConversionInput) (bool, error) {
	if input.BuyerUserID != nil && *input.BuyerUserID == referral.ReferrerUserID {
		return true, nil
	}
	email := strings.TrimSpace(input.BuyerEmail)
	if email == "" {
		return false, nil
	}
	referrerEmail, err := s.repo.ReferrerEmail(ctx, referral.ReferrerUserID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referrer")
	}
	return referrerEmail != "" && strings.EqualFold(referrerEmail, email), nil
}

// Commission is total * rate rounded half-up to the cent.
func Commission(totalCents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(totalCents).Mul(rate).Round(0).IntPart()
}
