// Package history is the append-only State History Ledger. Each tracked entity
// kind has its own table with the same row shape.
package history

import (
	"time"

	"osiris/internal/core/apperror"
	"osiris/internal/core/id"
)

// Kind selects the ledger table of an entity type.
type Kind string

const (
	KindSale        Kind = "sale"
	KindPurchase    Kind = "purchase"
	KindWithholding Kind = "withholding"
	KindElectronic  Kind = "electronic_document"
)

var tables = map[Kind]string{
	KindSale:        "sale_state_history",
	KindPurchase:    "purchase_state_history",
	KindWithholding: "withholding_state_history",
	KindElectronic:  "electronic_document_state_history",
}

// Table returns the ledger table for k. Only the fixed kinds are accepted,
// which keeps table names out of user input.
func (k Kind) Table() (string, error) {
	t, ok := tables[k]
	if !ok {
		return "", apperror.NewValidation("unknown history kind").WithDetail("kind", string(k))
	}
	return t, nil
}

// ParseKind validates a kind received from a caller.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, err := k.Table(); err != nil {
		return "", err
	}
	return k, nil
}

// Entry is one immutable transition record.
type Entry struct {
	ID            id.ID     `db:"id" json:"id"`
	EntityID      id.ID     `db:"entity_id" json:"entityId"`
	PreviousState string    `db:"previous_state" json:"previousState"`
	NewState      string    `db:"new_state" json:"newState"`
	Reason        string    `db:"reason" json:"reason"`
	ActorID       string    `db:"actor_id" json:"actorId"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Filter selects ledger rows. Results are ordered oldest first so that
// replaying them reconstructs the current state.
type Filter struct {
	EntityID *id.ID
	ActorID  string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

func (f *Filter) normalize() error {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return apperror.NewValidation("from must not be after to")
	}
	return nil
}
