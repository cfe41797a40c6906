package vendors

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/pkg/db/models"
)

// ErrAccountMissing is returned when a credit targets a vendor without an account row.
var ErrAccountMissing = errors.New("vendor account missing")

// Repository owns vendor revenue balances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByVendorID(ctx context.Context, vendorID uuid.UUID) (*models.VendorAccount, error)
	MissingAccounts(ctx context.Context, vendorIDs []uuid.UUID) ([]uuid.UUID, error)
	Credit(ctx context.Context, vendorID uuid.UUID, revenueCents, sales int64) error
}

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

func (r *repository) FindByVendorID(ctx context.Context, vendorID uuid.UUID) (*models.VendorAccount, error) {
	var account models.VendorAccount
	if err := r.db.WithContext(ctx).Where("vendor_id = ?", vendorID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// MissingAccounts returns the subset of vendorIDs that have no account row.
func (r *repository) MissingAccounts(ctx context.Context, vendorIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(vendorIDs) == 0 {
		return nil, nil
	}
	var found []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.VendorAccount{}).
		Where("vendor_id IN ?", vendorIDs).
		Pluck("vendor_id", &found).Error; err != nil {
		return nil, err
	}
	present := make(map[uuid.UUID]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	var missing []uuid.UUID
	for _, id := range vendorIDs {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Credit adds revenue with commutative increments so concurrent settlements
// for the same vendor never lose updates.
func (r *repository) Credit(ctx context.Context, vendorID uuid.UUID, revenueCents, sales int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.VendorAccount{}).
		Where("vendor_id = ?", vendorID).
		Updates(map[string]any{
			"total_revenue_cents":     gorm.Expr("total_revenue_cents + ?", revenueCents),
			"available_balance_cents": gorm.Expr("available_balance_cents + ?", revenueCents),
			"total_sales":             gorm.Expr("total_sales + ?", sales),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrAccountMissing
	}
	return nil
}
