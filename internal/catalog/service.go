package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
)

// LineRequest is one cart line as submitted by the client.
type LineRequest struct {
	ProductID   uuid.UUID
	Quantity    int
	LicenseTier enums.LicenseTier
	// ClientUnitPriceCents is advisory only and never used for pricing.
	ClientUnitPriceCents *int64
}

// PricedLine is a cart line re-priced from the catalog.
type PricedLine struct {
	ProductID      uuid.UUID         `json:"product_id"`
	VendorID       uuid.UUID         `json:"vendor_id"`
	Title          string            `json:"title"`
	BasePriceCents int64             `json:"base_price_cents"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	Quantity       int               `json:"quantity"`
	LicenseTier    enums.LicenseTier `json:"license_tier"`
	LineTotalCents int64             `json:"line_total_cents"`
	IsDigital      bool              `json:"is_digital"`
	DeliverableRef string            `json:"deliverable_ref,omitempty"`
	// PriceDrift is true when the client-submitted price differed from the catalog.
	PriceDrift bool `json:"-"`
}

// Lookup resolves cart lines to authoritative prices.
type Lookup interface {
	Price(ctx context.Context, lines []LineRequest) ([]PricedLine, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Lookup, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "catalog repository required")
	}
	return &service{repo: repo}, nil
}

// Price loads every product in the cart and computes unit and line totals with
// the license tier multiplier applied. Missing or unpublished products reject
// the whole cart.
func (s *service) Price(ctx context.Context, lines []LineRequest) ([]PricedLine, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	ids := make([]uuid.UUID, 0, len(lines))
	seen := map[uuid.UUID]struct{}{}
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}

	products, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load catalog products")
	}
	byID := make(map[uuid.UUID]int, len(products))
	for i := range products {
		byID[products[i].ID] = i
	}

	var unavailable []string
	priced := make([]PricedLine, 0, len(lines))
	for _, line := range lines {
		idx, ok := byID[line.ProductID]
		if !ok {
			unavailable = append(unavailable, line.ProductID.String())
			continue
		}
		product := products[idx]
		if product.Status != enums.ProductStatusPublished {
			unavailable = append(unavailable, line.ProductID.String())
			continue
		}
		tier := line.LicenseTier
		if tier == "" {
			tier = enums.LicenseTierPersonal
		}
		if !tier.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid license tier %q", line.LicenseTier))
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}

		unit := product.PriceCents * tier.Multiplier()
		out := PricedLine{
			ProductID:      product.ID,
			VendorID:       product.VendorID,
			Title:          product.Title,
			BasePriceCents: product.PriceCents,
			UnitPriceCents: unit,
			Quantity:       line.Quantity,
			LicenseTier:    tier,
			LineTotalCents: unit * int64(line.Quantity),
			IsDigital:      product.IsDigital,
		}
		if product.DeliverableRef != nil {
			out.DeliverableRef = strings.TrimSpace(*product.DeliverableRef)
		}
		if line.ClientUnitPriceCents != nil && *line.ClientUnitPriceCents != unit {
			out.PriceDrift = true
		}
		priced = append(priced, out)
	}

	if len(unavailable) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "some products are unavailable").
			WithDetails(map[string]any{"unavailable_product_ids": unavailable})
	}
	return priced, nil
}

// Subtotal sums the line totals.
func Subtotal(lines []PricedLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.LineTotalCents
	}
	return total
}
