package domain

import (
	"context"
	"fmt"

	"osiris/internal/core/apperror"
	"osiris/internal/core/entity"
	"osiris/internal/core/id"
	"osiris/internal/core/statemachine"
	"osiris/internal/domain/history"
)

// Stateful is implemented by every document with a lifecycle.
type Stateful[S ~string] interface {
	entity.Snapshotter
	EntityID() id.ID
	CurrentState() S
	SetState(S)
	CurrentVersion() int
}

// Lifecycle applies machine transitions to documents of one kind and writes
// the matching history and audit rows.
type Lifecycle[S ~string, A ~string] struct {
	kind     history.Kind
	machine  *statemachine.Machine[S, A]
	recorder *history.Recorder
	initial  S
	void     map[S]bool
}

// NewLifecycle binds a machine to its history kind. initial is the state
// documents are created in; replay starts from it.
func NewLifecycle[S ~string, A ~string](kind history.Kind, m *statemachine.Machine[S, A], recorder *history.Recorder, initial S) *Lifecycle[S, A] {
	return &Lifecycle[S, A]{kind: kind, machine: m, recorder: recorder, initial: initial, void: make(map[S]bool)}
}

// VoidStates marks targets audited as ANULAR instead of TRANSITION.
func (l *Lifecycle[S, A]) VoidStates(states ...S) *Lifecycle[S, A] {
	for _, s := range states {
		l.void[s] = true
	}
	return l
}

// Machine returns the underlying transition table.
func (l *Lifecycle[S, A]) Machine() *statemachine.Machine[S, A] { return l.machine }

// CheckVersion fails with ConcurrentModification when the caller acted on a
// stale copy. expected == 0 skips the check.
func CheckVersion[S ~string](doc Stateful[S], entityName string, expected int) error {
	if expected != 0 && expected != doc.CurrentVersion() {
		return apperror.NewConcurrentModification(entityName, doc.EntityID()).
			WithDetail("expected_version", expected).
			WithDetail("current_version", doc.CurrentVersion())
	}
	return nil
}

// Apply fires action on doc, lets change mutate the document for the new
// state, persists it with save and records the transition. Must run inside
// the document transaction with doc locked. On error the document in storage
// is untouched once the caller rolls back.
func (l *Lifecycle[S, A]) Apply(
	ctx context.Context,
	doc Stateful[S],
	action A,
	reason string,
	change func(ctx context.Context, res statemachine.Result[S]) error,
	save func(ctx context.Context) error,
) (statemachine.Result[S], error) {
	res, err := l.machine.Fire(doc.CurrentState(), action, reason)
	if err != nil {
		return res, err
	}

	before := doc.Snapshot()
	if change != nil {
		if err := change(ctx, res); err != nil {
			return res, err
		}
	}
	doc.SetState(res.To)

	if err := save(ctx); err != nil {
		return res, fmt.Errorf("save %s: %w", l.machine.Entity(), err)
	}

	err = l.recorder.Record(ctx, history.Transition{
		Kind:     l.kind,
		EntityID: doc.EntityID(),
		From:     string(res.From),
		To:       string(res.To),
		Reason:   res.Reason,
		Void:     l.void[res.To],
		Before:   before,
		After:    doc.Snapshot(),
	})
	if err != nil {
		return res, fmt.Errorf("record %s transition: %w", l.machine.Entity(), err)
	}
	return res, nil
}

// Replay rebuilds the state of a document from its history and reports
// whether it matches the stored state.
func (l *Lifecycle[S, A]) Replay(ctx context.Context, doc Stateful[S]) (S, bool, error) {
	docID := doc.EntityID()
	entries, err := l.recorder.List(ctx, l.kind, history.Filter{EntityID: &docID, Limit: 1000})
	if err != nil {
		return l.initial, false, err
	}
	steps := make([]statemachine.Step[S], len(entries))
	for i, e := range entries {
		steps[i] = statemachine.Step[S]{From: S(e.PreviousState), To: S(e.NewState)}
	}
	got, err := l.machine.Replay(l.initial, steps)
	if err != nil {
		return got, false, err
	}
	return got, got == doc.CurrentState(), nil
}
