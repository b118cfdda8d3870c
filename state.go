package remittance

import (
	"fmt"

	"github.com/pkg/errors"
)

// State is a thread's position in the protocol state machine (spec section 4.3).
type State uint8

const (
	StateInvalid               = State(0)
	StateNew                   = State(1)
	StateIdentityRequested     = State(2)
	StateIdentityResponded     = State(3)
	StateIdentityAcknowledged  = State(4)
	StateInvoiced              = State(5)
	StateSettled               = State(6)
	StateReceipted             = State(7)
	StateTerminated            = State(8)
	StateErrored               = State(9)
)

func (v State) String() string {
	switch v {
	case StateNew:
		return "new"
	case StateIdentityRequested:
		return "identityRequested"
	case StateIdentityResponded:
		return "identityResponded"
	case StateIdentityAcknowledged:
		return "identityAcknowledged"
	case StateInvoiced:
		return "invoiced"
	case StateSettled:
		return "settled"
	case StateReceipted:
		return "receipted"
	case StateTerminated:
		return "terminated"
	case StateErrored:
		return "errored"
	default:
		return ""
	}
}

func (v State) MarshalJSON() ([]byte, error) {
	s := v.String()
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%q", s)), nil
}

func (v *State) UnmarshalJSON(data []byte) error {
	if len(data) < 2 {
		return errors.Errorf("too short for State: %d", len(data))
	}
	switch string(data) {
	case `"new"`:
		*v = StateNew
	case `"identityRequested"`:
		*v = StateIdentityRequested
	case `"identityResponded"`:
		*v = StateIdentityResponded
	case `"identityAcknowledged"`:
		*v = StateIdentityAcknowledged
	case `"invoiced"`:
		*v = StateInvoiced
	case `"settled"`:
		*v = StateSettled
	case `"receipted"`:
		*v = StateReceipted
	case `"terminated"`:
		*v = StateTerminated
	case `"errored"`:
		*v = StateErrored
	default:
		*v = StateInvalid
		return errors.Errorf("unknown State value %s", string(data))
	}
	return nil
}

// IsTerminal returns true for states that freeze further transitions.
func (v State) IsTerminal() bool {
	return v == StateTerminated || v == StateErrored
}

// allowedTransitions is the table from spec section 4.3.
var allowedTransitions = map[State]map[State]bool{
	StateNew: {
		StateIdentityRequested: true,
		StateIdentityResponded: true,
		StateInvoiced:          true,
		StateSettled:           true,
		StateTerminated:        true,
		StateErrored:           true,
	},
	StateIdentityRequested: {
		StateIdentityResponded:    true,
		StateIdentityAcknowledged: true,
		StateTerminated:           true,
		StateErrored:              true,
	},
	StateIdentityResponded: {
		StateIdentityAcknowledged: true,
		StateInvoiced:             true,
		StateTerminated:           true,
		StateErrored:              true,
	},
	StateIdentityAcknowledged: {
		StateInvoiced:   true,
		StateSettled:    true,
		StateTerminated: true,
		StateErrored:    true,
	},
	StateInvoiced: {
		StateSettled:    true,
		StateTerminated: true,
		StateErrored:    true,
	},
	StateSettled: {
		StateReceipted:  true,
		StateTerminated: true,
		StateErrored:    true,
	},
	StateReceipted: {
		StateTerminated: true,
		StateErrored:    true,
	},
	StateTerminated: {},
	StateErrored:    {},
}

// CanTransition reports whether from -> to is a legal edge in the table above.
func CanTransition(from, to State) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Transition validates from -> to and returns ErrInvalidTransition (a KindProtocol error) if the
// edge is not allowed.
func Transition(from, to State) error {
	if !CanTransition(from, to) {
		return NewError(KindProtocol, errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to))
	}
	return nil
}

// DeriveState implements the monotone-ordering fallback used to recompute state for threads
// loaded without a persisted state (spec section 4.3):
//
//	error            => errored
//	else termination => terminated
//	else receipt     => receipted
//	else settlement  => settled
//	else invoice     => invoiced
//	else identity-progress flags
//	else             => new
func DeriveState(flags Flags, identity IdentityRecord, hasInvoice, hasSettlement, hasReceipt,
	hasTermination bool) State {

	if flags.Error {
		return StateErrored
	}
	if hasTermination {
		return StateTerminated
	}
	if hasReceipt {
		return StateReceipted
	}
	if hasSettlement {
		return StateSettled
	}
	if hasInvoice {
		return StateInvoiced
	}

	if identity.AcknowledgmentSent || identity.AcknowledgmentReceived {
		return StateIdentityAcknowledged
	}
	if identity.ResponseSent || len(identity.Received) > 0 {
		return StateIdentityResponded
	}
	if identity.RequestSent {
		return StateIdentityRequested
	}

	return StateNew
}
