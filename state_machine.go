package bayeux

import "sync/atomic"

// ClientState is one of the four lifecycle states a Client can be in.
//
// See also spec §3 "Lifecycles" and §4.8's state diagram.
type ClientState int32

const (
	// StateUnconnected is the initial state, and the state a Client
	// returns to after Disconnect or a failed Connect.
	StateUnconnected ClientState = iota
	// StateConnecting is entered when Connect begins and left once the
	// handshake and first connect succeed, or on failure.
	StateConnecting
	// StateConnected is the steady operating state.
	StateConnected
	// StateDisconnecting is entered while Disconnect is in flight.
	StateDisconnecting
)

func (s ClientState) String() string {
	switch s {
	case StateUnconnected:
		return "UNCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// stateEvent represents an event that can change the state of a
// ClientStateMachine.
type stateEvent string

const (
	eventHandshakeSent         stateEvent = "handshake request sent"
	eventSuccessfullyConnected stateEvent = "successful connect response"
	eventDisconnectSent        stateEvent = "disconnect request sent"
	eventDisconnected          stateEvent = "disconnect completed"
	eventRehandshake           stateEvent = "rehandshake advice observed"
	eventFailure               stateEvent = "operation failed"
)

// ClientStateMachine tracks a Client's lifecycle state. All transitions are
// total: an unexpected event from a given state returns a BadStateError
// rather than panicking, since advice can race with a concurrent user
// Disconnect call.
//
// See also: https://docs.cometd.org/current/reference/#_client_state_table
type ClientStateMachine struct {
	current *int32
}

// NewClientStateMachine creates a ClientStateMachine starting at
// StateUnconnected.
func NewClientStateMachine() *ClientStateMachine {
	s := int32(StateUnconnected)
	return &ClientStateMachine{&s}
}

// Current returns the current state.
func (csm *ClientStateMachine) Current() ClientState {
	return ClientState(atomic.LoadInt32(csm.current))
}

// IsConnected reports whether the machine is in StateConnected.
func (csm *ClientStateMachine) IsConnected() bool {
	return csm.Current() == StateConnected
}

// process handles a state event, enforcing the transition table. It
// returns the previous state and an error if the transition is invalid.
func (csm *ClientStateMachine) process(e stateEvent) (ClientState, error) {
	from := csm.Current()
	var to ClientState
	ok := false

	switch e {
	case eventHandshakeSent:
		to = StateConnecting
		ok = atomic.CompareAndSwapInt32(csm.current, int32(StateUnconnected), int32(to))
	case eventRehandshake:
		to = StateConnecting
		ok = atomic.CompareAndSwapInt32(csm.current, int32(StateConnected), int32(to))
	case eventSuccessfullyConnected:
		to = StateConnected
		ok = atomic.CompareAndSwapInt32(csm.current, int32(StateConnecting), int32(to))
	case eventDisconnectSent:
		to = StateDisconnecting
		ok = atomic.CompareAndSwapInt32(csm.current, int32(StateConnected), int32(to))
	case eventDisconnected, eventFailure:
		to = StateUnconnected
		atomic.StoreInt32(csm.current, int32(to))
		return from, nil
	default:
		return from, UnknownEventTypeError{string(e)}
	}

	if !ok {
		return from, BadStateError{
			CurrentState: csm.Current(),
			FromState:    from,
			ToState:      to,
			Message:      "invalid transition for event " + string(e),
		}
	}
	return from, nil
}
