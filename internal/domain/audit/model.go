// Package audit records before/after snapshots of every change to a fiscal record.
package audit

import (
	"fmt"
	"time"

	"osiris/internal/core/id"
)

// Action represents the type of audited operation.
type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionUpdate       Action = "UPDATE"
	ActionDelete       Action = "DELETE"
	ActionTransition   Action = "TRANSITION"
	ActionVoid         Action = "ANULAR"
	ActionAdjustment   Action = "AJUSTE"
	ActionManualAdjust Action = "MANUAL_ADJUST"
)

// Entry is one immutable audit row.
type Entry struct {
	ID         id.ID          `json:"id"`
	EntityType string         `json:"entityType"`
	EntityID   id.ID          `json:"entityId"`
	Action     Action         `json:"action"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	ActorID    string         `json:"actorId"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Changes returns the fields that differ between Before and After.
func (e *Entry) Changes() map[string]any {
	return Diff(e.Before, e.After)
}

// Filter selects audit rows for external reporting.
type Filter struct {
	EntityType string
	EntityID   *id.ID
	ActorID    string
	Action     Action
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Normalize applies paging defaults and rejects inverted ranges.
func (f *Filter) Normalize() error {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return fmt.Errorf("audit filter: from %s is after to %s", f.From.Format(time.RFC3339), f.To.Format(time.RFC3339))
	}
	return nil
}

// Diff calculates the difference between two snapshots.
func Diff(before, after map[string]any) map[string]any {
	changes := make(map[string]any)

	for key, newVal := range after {
		oldVal, exists := before[key]
		if !exists || !equal(oldVal, newVal) {
			changes[key] = map[string]any{"old": oldVal, "new": newVal}
		}
	}
	for key, oldVal := range before {
		if _, exists := after[key]; !exists {
			changes[key] = map[string]any{"old": oldVal, "new": nil}
		}
	}
	return changes
}

// Snapshot values are JSON-shaped scalars, so a printed comparison is exact enough.
func equal(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
