package purchase

import (
	"context"

	"osiris/internal/core/id"
	"osiris/internal/domain"
)

// Repository defines operations for purchases.
type Repository interface {
	Create(ctx context.Context, p *Purchase) error
	GetByID(ctx context.Context, purchaseID id.ID) (*Purchase, error)
	GetForUpdate(ctx context.Context, purchaseID id.ID) (*Purchase, error)
	// Update persists the header if the stored version is p.Version-1.
	Update(ctx context.Context, p *Purchase) error
	List(ctx context.Context, filter ListFilter) (domain.ListResult[*Purchase], error)
}

// ListFilter for filtering purchases.
type ListFilter struct {
	domain.ListFilter

	SupplierID *id.ID
	State      State
}

// WithholdingLookup tells whether a purchase still has a live withholding receipt.
type WithholdingLookup interface {
	HasActiveWithholding(ctx context.Context, purchaseID id.ID) (bool, error)
}
