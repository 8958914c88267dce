// Package sriqueue is the SRI Submission Queue: durable, retried delivery of
// electronic documents to the tax authority, decoupled from the requests
// that create them.
package sriqueue

import (
	"time"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
	"osiris/internal/domain/sequence"
)

// State of a queue item.
type State string

const (
	StatePending    State = "PENDIENTE"
	StateProcessing State = "PROCESANDO"
	StateRetry      State = "REINTENTO_PROGRAMADO"
	StateCompleted  State = "COMPLETADO"
	StateFailed     State = "FALLIDO"
)

// Item is one electronic document waiting for, or done with, the authority.
type Item struct {
	ID id.ID `db:"id" json:"id"`
	// EntityID is the electronic document id.
	EntityID     id.ID                 `db:"entity_id" json:"entityId"`
	DocumentType sequence.DocumentType `db:"document_type" json:"documentType"`
	State        State                 `db:"state" json:"state"`

	AttemptsMade  int        `db:"attempts_made" json:"attemptsMade"`
	MaxAttempts   int        `db:"max_attempts" json:"maxAttempts"`
	NextAttemptAt time.Time  `db:"next_attempt_at" json:"nextAttemptAt"`
	LeaseUntil    *time.Time `db:"lease_until" json:"leaseUntil,omitempty"`
	LastError     string     `db:"last_error" json:"lastError,omitempty"`

	// Payload is the unsigned XML, kept verbatim for replay.
	Payload string `db:"payload" json:"-"`

	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// Due reports whether the item may be claimed at now.
func (i *Item) Due(now time.Time) bool {
	return (i.State == StatePending || i.State == StateRetry) && !i.NextAttemptAt.After(now)
}

// Exhausted reports whether no attempt is left.
func (i *Item) Exhausted() bool {
	return i.AttemptsMade >= i.MaxAttempts
}

// Snapshot implements entity.Snapshotter for the audit trail.
func (i *Item) Snapshot() map[string]any {
	return map[string]any{
		"id":              i.ID.String(),
		"entity_id":       i.EntityID.String(),
		"document_type":   string(i.DocumentType),
		"state":           string(i.State),
		"attempts_made":   i.AttemptsMade,
		"max_attempts":    i.MaxAttempts,
		"next_attempt_at": i.NextAttemptAt.Format(time.RFC3339),
		"last_error":      i.LastError,
	}
}

// Filter selects items for operators.
type Filter struct {
	State    State
	EntityID *id.ID
	Limit    int
	Offset   int
}

// Normalize validates the filter and applies paging defaults.
func (f *Filter) Normalize() error {
	switch f.State {
	case "", StatePending, StateProcessing, StateRetry, StateCompleted, StateFailed:
	default:
		return apperror.NewValidation("unknown queue state").WithDetail("state", string(f.State))
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return nil
}

// Stats counts items per state.
type Stats map[State]int

// ProcessResult summarizes one ProcessDue run.
type ProcessResult struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}
