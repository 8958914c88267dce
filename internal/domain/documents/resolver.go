// Package documents holds helpers shared by the fiscal document packages.
package documents

import (
	"context"

	"github.com/shopspring/decimal"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/core/types"
	"osiris/internal/domain/reference"
)

// References lists the foreign keys a document points to.
type References struct {
	// EmissionPointID is nil for documents numbered by a third party.
	EmissionPointID  *id.ID
	WarehouseID      id.ID
	CounterpartyKind reference.Kind
	CounterpartyID   id.ID
	ProductIDs       []id.ID
}

// RequireReferences fails with PreconditionFailed on the first missing or
// inactive reference. It never mutates anything.
func RequireReferences(ctx context.Context, c reference.Checker, r References) error {
	if r.EmissionPointID != nil {
		if _, err := reference.RequireEmissionPoint(ctx, c, *r.EmissionPointID); err != nil {
			return err
		}
	}
	if !id.IsNil(r.WarehouseID) {
		if err := reference.RequireActive(ctx, c, reference.KindWarehouse, r.WarehouseID); err != nil {
			return err
		}
	}
	if !id.IsNil(r.CounterpartyID) {
		if err := reference.RequireActive(ctx, c, r.CounterpartyKind, r.CounterpartyID); err != nil {
			return err
		}
	}
	return reference.RequireActive(ctx, c, reference.KindProduct, r.ProductIDs...)
}

// LineAmounts returns the Q2 subtotal and tax of a line. taxRate is a percentage.
func LineAmounts(quantity, unitPrice, taxRate decimal.Decimal) (subtotal, tax decimal.Decimal) {
	subtotal = types.Q2(types.Q4(quantity).Mul(types.Q4(unitPrice)))
	return subtotal, types.Percentage(subtotal, taxRate)
}

// ValidateLine checks the numeric fields common to document lines.
func ValidateLine(lineNo int, productID id.ID, quantity, price, taxRate decimal.Decimal) error {
	if id.IsNil(productID) {
		return apperror.NewValidation("product is required").WithDetail("line", lineNo)
	}
	if !types.Q4(quantity).IsPositive() {
		return apperror.NewInvalidQuantity("quantity must be positive").WithDetail("line", lineNo)
	}
	if price.IsNegative() {
		return apperror.NewValidation("price must not be negative").WithDetail("line", lineNo)
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(decimal.NewFromInt(100)) {
		return apperror.NewValidation("tax rate must be between 0 and 100").WithDetail("line", lineNo)
	}
	return nil
}
