// Package domain provides the types and lifecycle plumbing shared by the
// fiscal document services.
package domain

import (
	"time"

	"osiris/internal/core/apperror"
)

// --- Filter & Pagination ---

// ListFilter contains common filtering options for document listings.
type ListFilter struct {
	// IncludeInactive includes logically deactivated records
	IncludeInactive bool

	DateFrom *time.Time
	DateTo   *time.Time

	// Pagination
	Limit  int
	Offset int
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// DefaultListFilter returns sensible defaults.
func DefaultListFilter() ListFilter {
	return ListFilter{Limit: DefaultLimit}
}

// Normalize clamps paging and rejects inverted date ranges.
func (f *ListFilter) Normalize() error {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return apperror.NewValidation("dateFrom must not be after dateTo")
	}
	return nil
}

// ListResult contains paginated results.
type ListResult[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
}

// Page slices items according to f. Used by in-memory repositories.
func Page[T any](items []T, f ListFilter) ListResult[T] {
	res := ListResult[T]{TotalCount: int64(len(items)), Limit: f.Limit, Offset: f.Offset}
	if f.Offset >= len(items) {
		res.Items = []T{}
		return res
	}
	items = items[f.Offset:]
	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}
	res.Items = items
	return res
}
