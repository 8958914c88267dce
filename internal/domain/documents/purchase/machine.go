package purchase

import "osiris/internal/core/statemachine"

// Machine is the fixed transition table of purchases.
var Machine = statemachine.New("purchase", []statemachine.Transition[State, Action]{
	{From: StateDraft, Action: ActionRegister, To: StateRegistered},
	{From: StateDraft, Action: ActionVoid, To: StateVoided},
	{From: StateRegistered, Action: ActionVoid, To: StateVoided},
}).RequireReason(ActionVoid).Terminal(StateVoided)
