package withholding

import (
	"context"

	"osiris/internal/core/id"
	"osiris/internal/domain"
	"osiris/internal/domain/documents/purchase"
)

// Repository defines operations for withholding receipts.
type Repository interface {
	Create(ctx context.Context, w *Withholding) error
	GetByID(ctx context.Context, withholdingID id.ID) (*Withholding, error)
	GetForUpdate(ctx context.Context, withholdingID id.ID) (*Withholding, error)
	// Update persists the header if the stored version is w.Version-1.
	Update(ctx context.Context, w *Withholding) error
	List(ctx context.Context, filter ListFilter) (domain.ListResult[*Withholding], error)
	ListByPurchase(ctx context.Context, purchaseID id.ID) ([]*Withholding, error)
}

// ListFilter for filtering withholding receipts.
type ListFilter struct {
	domain.ListFilter

	PurchaseID *id.ID
	SupplierID *id.ID
	State      State
}

// PurchaseReader loads the purchase a receipt withholds from.
type PurchaseReader interface {
	Get(ctx context.Context, purchaseID id.ID) (*purchase.Purchase, error)
	// Lock is Get plus a row lock held by the caller's transaction.
	Lock(ctx context.Context, purchaseID id.ID) (*purchase.Purchase, error)
}
