// Package dto provides the request and response bodies of the API.
// Amounts travel as JSON strings and are parsed strictly; binary floats
// are never accepted.
package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/core/types"
	"osiris/internal/domain"
)

// --- Common requests ---

// VersionRequest carries the version the caller last read. Zero skips the check.
type VersionRequest struct {
	ExpectedVersion int `json:"expectedVersion" binding:"gte=0"`
}

// VoidRequest annuls a document.
type VoidRequest struct {
	Reason          string `json:"reason" binding:"required"`
	PortalConfirmed bool   `json:"portalConfirmed,omitempty"`
	ExpectedVersion int    `json:"expectedVersion" binding:"gte=0"`
}

// ListQuery holds the paging and date-range query parameters shared by lists.
type ListQuery struct {
	Limit           int        `form:"limit"`
	Offset          int        `form:"offset"`
	DateFrom        *time.Time `form:"dateFrom" time_format:"2006-01-02"`
	DateTo          *time.Time `form:"dateTo" time_format:"2006-01-02"`
	IncludeInactive bool       `form:"includeInactive"`
}

// ToFilter converts the query into the domain list filter.
func (q ListQuery) ToFilter() domain.ListFilter {
	f := domain.DefaultListFilter()
	if q.Limit > 0 {
		f.Limit = q.Limit
	}
	f.Offset = q.Offset
	f.DateFrom = q.DateFrom
	f.DateTo = q.DateTo
	f.IncludeInactive = q.IncludeInactive
	return f
}

// --- Common responses ---

// ListResponse wraps list results with paging.
type ListResponse struct {
	Items      any   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
}

// NewListResponse builds a ListResponse from a domain result.
func NewListResponse[T any](r domain.ListResult[T]) ListResponse {
	items := r.Items
	if items == nil {
		items = []T{}
	}
	return ListResponse{Items: items, TotalCount: r.TotalCount, Limit: r.Limit, Offset: r.Offset}
}

// --- Parsing helpers ---

// ParseID parses a required identifier.
func ParseID(field, s string) (id.ID, error) {
	return id.Parse(field, s)
}

// ParseOptionalID parses an identifier that may be empty.
func ParseOptionalID(field, s string) (*id.ID, error) {
	if s == "" {
		return nil, nil
	}
	v, err := id.Parse(field, s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ParseAmount parses a decimal string field.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	d, err := types.ParseDecimal(s)
	if err != nil {
		return decimal.Zero, apperror.NewValidation("invalid decimal").
			WithDetail("field", field).
			WithDetail("value", s)
	}
	return d, nil
}

// ParseOptionalAmount parses a decimal field that defaults to def when empty.
func ParseOptionalAmount(field, s string, def decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return def, nil
	}
	return ParseAmount(field, s)
}

// ParseOptionalDate parses a YYYY-MM-DD field; empty yields the zero time.
func ParseOptionalDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, apperror.NewValidation("invalid date, expected YYYY-MM-DD").
			WithDetail("field", field).
			WithDetail("value", s)
	}
	return t, nil
}
