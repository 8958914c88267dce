package sriqueue

import (
	"context"
	"time"

	"osiris/internal/core/id"
)

// Repository persists queue items.
type Repository interface {
	// Insert must run inside the caller's transaction.
	Insert(ctx context.Context, item *Item) error
	GetByID(ctx context.Context, itemID id.ID) (*Item, error)
	GetForUpdate(ctx context.Context, itemID id.ID) (*Item, error)
	// ClaimDue moves up to limit due items to PROCESANDO, increments their
	// attempts and leases them until leaseUntil. Rows locked by another
	// worker are skipped.
	ClaimDue(ctx context.Context, now time.Time, limit int, leaseUntil time.Time) ([]*Item, error)
	// ExpiredLeases locks PROCESANDO items whose lease ended before now.
	ExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*Item, error)
	Update(ctx context.Context, item *Item) error
	List(ctx context.Context, f Filter) ([]*Item, int, error)
	CountByState(ctx context.Context) (Stats, error)
}
