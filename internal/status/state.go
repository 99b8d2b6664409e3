package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/relay/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Starting State = "STARTING"
	Serving  State = "SERVING"
	Degraded State = "DEGRADED"
	Draining State = "DRAINING"
	Stopped  State = "STOPPED"
	Error    State = "ERROR"
)

// validTransitions lists the states reachable from each state. STOPPED is terminal.
var validTransitions = map[State][]State{
	Starting: {Serving, Degraded, Error},
	Serving:  {Degraded, Draining, Error},
	Degraded: {Serving, Draining, Error},
	Draining: {Stopped, Error},
	Error:    {Starting, Stopped},
	Stopped:  {},
}

// Machine is the daemon's lifecycle state. Safe for concurrent use.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine starts in STARTING. Transitions are published on b, which may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Starting,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	st, _ := m.Snapshot()
	return st
}

// Since reports when the current state was entered.
func (m *Machine) Since() time.Time {
	_, since := m.Snapshot()
	return since
}

// Snapshot returns the state and its entry time as one consistent pair.
func (m *Machine) Snapshot() (State, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.since
}

// Accepting reports whether the gateway should take new sessions.
func (m *Machine) Accepting() bool {
	switch m.Current() {
	case Serving, Degraded:
		return true
	}
	return false
}

// TransitionError rejects a move the transition table does not allow.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Transition moves to a new state and publishes the change on the bus.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return &TransitionError{From: from, To: to}
	}
	m.current = to
	m.since = time.Now()
	m.mu.Unlock()

	m.bus.Emit(bus.KindDaemonStatus, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload of daemon.status_changed events.
type StatusChange struct {
	From State
	To   State
}
