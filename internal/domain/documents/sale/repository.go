package sale

import (
	"context"

	"osiris/internal/core/id"
	"osiris/internal/domain"
)

// Repository defines operations for sales.
type Repository interface {
	// Create inserts the header and its lines.
	Create(ctx context.Context, s *Sale) error
	GetByID(ctx context.Context, saleID id.ID) (*Sale, error)
	// GetForUpdate locks the header row for the rest of the transaction.
	GetForUpdate(ctx context.Context, saleID id.ID) (*Sale, error)
	// Update persists the header and line costs if the stored version is s.Version-1.
	Update(ctx context.Context, s *Sale) error
	List(ctx context.Context, filter ListFilter) (domain.ListResult[*Sale], error)
}

// ListFilter for filtering sales.
type ListFilter struct {
	domain.ListFilter

	CustomerID      *id.ID
	EmissionPointID *id.ID
	State           State
}
