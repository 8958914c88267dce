package withholding

import "osiris/internal/core/statemachine"

// Machine is the fixed transition table of withholding receipts. Physical
// receipts are issued directly; electronic ones wait in ENCOLADA until the
// authority authorizes them.
var Machine = statemachine.New("withholding", []statemachine.Transition[State, Action]{
	{From: StateDraft, Action: ActionEmit, To: StateIssued},
	{From: StateDraft, Action: ActionEnqueue, To: StateQueued},
	{From: StateQueued, Action: ActionAuthorize, To: StateIssued},
	{From: StateDraft, Action: ActionVoid, To: StateVoided},
	{From: StateQueued, Action: ActionVoid, To: StateVoided},
	{From: StateIssued, Action: ActionVoid, To: StateVoided},
}).RequireReason(ActionVoid).Terminal(StateVoided)
