package history

import (
	"context"
	"strings"
	"time"

	"osiris/internal/core/apperror"
	appctx "osiris/internal/core/context"
	"osiris/internal/core/id"
	"osiris/internal/domain/audit"
)

// Repository persists ledger rows. Append must run inside the caller's transaction.
type Repository interface {
	Append(ctx context.Context, kind Kind, e *Entry) error
	List(ctx context.Context, kind Kind, f Filter) ([]Entry, error)
}

// Transition describes an accepted state change of one entity.
type Transition struct {
	Kind     Kind
	EntityID id.ID
	From     string
	To       string
	Reason   string
	// Void marks transitions into a voided state; they are audited as ANULAR.
	Void   bool
	Before map[string]any
	After  map[string]any
}

// Recorder writes the history row and its audit twin for each transition.
type Recorder struct {
	repo  Repository
	audit *audit.Service
	now   func() time.Time
}

func NewRecorder(repo Repository, auditSvc *audit.Service) *Recorder {
	return &Recorder{repo: repo, audit: auditSvc, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends one StateHistoryEntry and one AuditLogEntry. Both writes share
// the caller's transaction; if either fails the caller must roll back.
func (r *Recorder) Record(ctx context.Context, t Transition) error {
	if strings.TrimSpace(t.Reason) == "" {
		return apperror.NewValidation("transition reason is required").
			WithDetail("entity", string(t.Kind))
	}
	if t.From == t.To {
		return apperror.NewValidation("transition must change state").
			WithDetail("state", t.From)
	}

	e := &Entry{
		ID:            id.New(),
		EntityID:      t.EntityID,
		PreviousState: t.From,
		NewState:      t.To,
		Reason:        t.Reason,
		ActorID:       appctx.GetActorID(ctx),
		CreatedAt:     r.now(),
	}
	if err := r.repo.Append(ctx, t.Kind, e); err != nil {
		return err
	}

	action := audit.ActionTransition
	if t.Void {
		action = audit.ActionVoid
	}
	return r.audit.Record(ctx, string(t.Kind), t.EntityID, action, t.Before, t.After)
}

// List returns ledger rows of one kind.
func (r *Recorder) List(ctx context.Context, kind Kind, f Filter) ([]Entry, error) {
	if _, err := kind.Table(); err != nil {
		return nil, err
	}
	if err := f.normalize(); err != nil {
		return nil, err
	}
	return r.repo.List(ctx, kind, f)
}

// Path converts ordered entries into (from, to) pairs for replay.
func Path(entries []Entry) [][2]string {
	out := make([][2]string, len(entries))
	for i, e := range entries {
		out[i] = [2]string{e.PreviousState, e.NewState}
	}
	return out
}
