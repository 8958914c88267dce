package sale

import "osiris/internal/core/statemachine"

// Machine is the fixed transition table of sales. Voiding is never reversible.
var Machine = statemachine.New("sale", []statemachine.Transition[State, Action]{
	{From: StateDraft, Action: ActionEmit, To: StateIssued},
	{From: StateDraft, Action: ActionVoid, To: StateVoided},
	{From: StateIssued, Action: ActionVoid, To: StateVoided},
}).RequireReason(ActionVoid).Terminal(StateVoided)
