// Package statemachine implements fixed transition tables for document lifecycles.
//
// A Machine is immutable after construction. Fire is a pure function of
// (state, action, reason); persisting the outcome is the caller's job.
package statemachine

import (
	"fmt"
	"strings"

	"osiris/internal/core/apperror"
)

// Transition is one row of a transition table.
type Transition[S ~string, A ~string] struct {
	From   S
	Action A
	To     S
}

// Result describes an accepted transition.
type Result[S ~string] struct {
	From   S
	To     S
	Reason string
}

// Step is a recorded (from, to) pair used when replaying a history.
type Step[S ~string] struct {
	From S
	To   S
}

// Machine validates transitions of one entity kind.
type Machine[S ~string, A ~string] struct {
	entity         string
	table          map[S]map[A]S
	edges          map[S]map[S]bool
	reasonRequired map[A]bool
	terminal       map[S]bool
}

// New builds a machine from its table. Duplicate (from, action) rows panic,
// since tables are package-level constants.
func New[S ~string, A ~string](entity string, rows []Transition[S, A]) *Machine[S, A] {
	m := &Machine[S, A]{
		entity:         entity,
		table:          make(map[S]map[A]S),
		edges:          make(map[S]map[S]bool),
		reasonRequired: make(map[A]bool),
		terminal:       make(map[S]bool),
	}
	for _, r := range rows {
		if m.table[r.From] == nil {
			m.table[r.From] = make(map[A]S)
			m.edges[r.From] = make(map[S]bool)
		}
		if _, dup := m.table[r.From][r.Action]; dup {
			panic(fmt.Sprintf("statemachine %s: duplicate transition %s/%s", entity, r.From, r.Action))
		}
		m.table[r.From][r.Action] = r.To
		m.edges[r.From][r.To] = true
	}
	return m
}

// RequireReason marks actions whose caller must supply a non-empty reason.
func (m *Machine[S, A]) RequireReason(actions ...A) *Machine[S, A] {
	for _, a := range actions {
		m.reasonRequired[a] = true
	}
	return m
}

// Terminal marks states that accept no further actions and are final verdicts.
func (m *Machine[S, A]) Terminal(states ...S) *Machine[S, A] {
	for _, s := range states {
		m.terminal[s] = true
	}
	return m
}

// Entity returns the entity name used in errors.
func (m *Machine[S, A]) Entity() string { return m.entity }

// Fire validates action against the table.
// An empty reason on a non-mandatory action is replaced by DefaultReason.
func (m *Machine[S, A]) Fire(from S, action A, reason string) (Result[S], error) {
	to, ok := m.table[from][action]
	if !ok {
		return Result[S]{}, apperror.NewInvalidStateTransition(m.entity, string(from), string(action))
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		if m.reasonRequired[action] {
			return Result[S]{}, apperror.NewValidation("reason is required").
				WithDetail("entity", m.entity).
				WithDetail("action", string(action))
		}
		reason = DefaultReason(string(from), string(to))
	}

	return Result[S]{From: from, To: to, Reason: reason}, nil
}

// Can reports whether action is allowed from state.
func (m *Machine[S, A]) Can(from S, action A) bool {
	_, ok := m.table[from][action]
	return ok
}

// IsTerminal reports whether s is marked terminal.
func (m *Machine[S, A]) IsTerminal(s S) bool {
	return m.terminal[s]
}

// Replay walks recorded steps from initial and returns the final state.
// It fails when the chain is broken or a step is not an edge of the table.
func (m *Machine[S, A]) Replay(initial S, steps []Step[S]) (S, error) {
	current := initial
	for i, st := range steps {
		if st.From != current {
			return current, fmt.Errorf("%s history broken at step %d: expected from %s, got %s", m.entity, i, current, st.From)
		}
		if !m.edges[st.From][st.To] {
			return current, fmt.Errorf("%s history step %d: %s -> %s is not a legal transition", m.entity, i, st.From, st.To)
		}
		current = st.To
	}
	return current, nil
}

// DefaultReason is recorded when a transition is driven by the system without
// an operator-provided reason.
func DefaultReason(from, to string) string {
	return fmt.Sprintf("Transicion de estado %s -> %s", from, to)
}
