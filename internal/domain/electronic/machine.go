package electronic

import "osiris/internal/core/statemachine"

// Machine is the fixed transition table of electronic documents.
var Machine = statemachine.New("electronic document", []statemachine.Transition[State, Action]{
	{From: StateQueued, Action: ActionSign, To: StateSigned},
	{From: StateSigned, Action: ActionSend, To: StateSent},
	{From: StateSigned, Action: ActionReturn, To: StateReturned},
	{From: StateSent, Action: ActionAuthorize, To: StateAuthorized},
	{From: StateSent, Action: ActionReject, To: StateRejected},
	{From: StateSent, Action: ActionReturn, To: StateReturned},
	{From: StateReturned, Action: ActionRequeue, To: StateQueued},
}).RequireReason(ActionRequeue).Terminal(StateAuthorized, StateRejected)
