package session

import (
	"fmt"
	"slices"
)

// State is a connection session's lifecycle state.
type State string

const (
	Connecting     State = "CONNECTING"
	Authenticating State = "AUTHENTICATING"
	Active         State = "ACTIVE"
	Closing        State = "CLOSING"
	Closed         State = "CLOSED"
	Rejected       State = "REJECTED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Connecting:     {Authenticating},
	Authenticating: {Active, Rejected},
	Active:         {Closing},
	Closing:        {Closed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// transition moves the session to a new state. Caller holds s.mu.
func (s *Session) transition(to State) error {
	if !slices.Contains(validTransitions[s.state], to) {
		return fmt.Errorf("invalid transition from %s to %s", s.state, to)
	}
	s.state = to
	return nil
}
