// Package entity holds the fields shared by every persisted fiscal record.
package entity

import (
	"context"
	"time"

	"osiris/internal/core/id"
)

// Validatable is implemented by entities that support self-validation
// (internal invariants only, no database access).
type Validatable interface {
	Validate(ctx context.Context) error
}

// Snapshotter renders the full record as an explicit field map for the audit log.
// Each entity type lists its own fields; nothing is discovered at runtime.
type Snapshotter interface {
	Snapshot() map[string]any
}

// BaseEntity contains common fields for all fiscal records.
// Records are never physically deleted; Active=false is the logical deactivation.
type BaseEntity struct {
	ID id.ID `db:"id" json:"id"`

	Active bool `db:"active" json:"active"`

	// Version for optimistic locking (incremented on each update)
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
	CreatedBy string    `db:"created_by" json:"createdBy,omitempty"`
	UpdatedBy string    `db:"updated_by" json:"updatedBy,omitempty"`
}

// NewBaseEntity creates an active BaseEntity with generated ID.
func NewBaseEntity(actorID string) BaseEntity {
	now := time.Now().UTC()
	return BaseEntity{
		ID:        id.New(),
		Active:    true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: actorID,
		UpdatedBy: actorID,
	}
}

// Touch stamps the modification and increments version.
func (b *BaseEntity) Touch(actorID string) {
	b.UpdatedAt = time.Now().UTC()
	b.UpdatedBy = actorID
	b.Version++
}

// Deactivate performs the logical deletion.
func (b *BaseEntity) Deactivate(actorID string) {
	b.Active = false
	b.Touch(actorID)
}

// BaseSnapshot returns the shared fields in snapshot form.
func (b *BaseEntity) BaseSnapshot() map[string]any {
	return map[string]any{
		"id":         b.ID.String(),
		"active":     b.Active,
		"version":    b.Version,
		"created_at": b.CreatedAt,
		"updated_at": b.UpdatedAt,
		"created_by": b.CreatedBy,
		"updated_by": b.UpdatedBy,
	}
}
