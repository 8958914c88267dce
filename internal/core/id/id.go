// Package id provides UUIDv7 identifiers for documents, movements and ledger rows.
package id

import (
	"github.com/google/uuid"

	"osiris/internal/core/apperror"
)

// ID is a type alias for UUID.
type ID = uuid.UUID

// New generates a time-ordered UUIDv7, so ledger rows sort by creation.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse converts a path or payload value into an ID.
// A malformed value is a validation error naming the field.
func Parse(field, s string) (ID, error) {
	v, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, apperror.NewValidation("invalid identifier").
			WithDetail("field", field).
			WithDetail("value", s)
	}
	return v, nil
}

// MustParse converts string to ID, panics on error. Tests and constants only.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// IsNil checks if ID is zero-value.
func IsNil(v ID) bool {
	return v == uuid.Nil
}
