package session

import (
	"fmt"
	"sync"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Waiting
	Progressing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Waiting:
		return "Waiting"
	case Progressing:
		return "Progressing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Any state may fall back to Disconnected; it is not listed here.
var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected},
	Connected:    {Waiting},
	Waiting:      {Progressing},
	Progressing:  {Waiting},
}

func CanTransition(from, to State) bool {
	if to == Disconnected {
		return true
	}

	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

// Machine holds the connection state of one side of the protocol. Every
// accepted change is reported to the change hook outside the lock.
type Machine struct {
	mu       sync.Mutex
	state    State
	onChange func(from, to State)
}

func NewMachine(onChange func(from, to State)) *Machine {
	return &Machine{state: Disconnected, onChange: onChange}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the given state. Moving to the current state is a
// no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return nil
	}

	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, from, to)
	}

	m.state = to
	m.mu.Unlock()

	m.notify(from, to)
	return nil
}

// TransitionFrom is Transition guarded by an expected current state, so
// two racing callers cannot both act on a stale read.
func (m *Machine) TransitionFrom(from, to State) error {
	m.mu.Lock()
	if m.state != from {
		current := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: in %v, want %v", ErrInvalidTransition, current, from)
	}

	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, from, to)
	}

	m.state = to
	m.mu.Unlock()

	m.notify(from, to)
	return nil
}

// Reset forces Disconnected and reports whether anything changed.
func (m *Machine) Reset() bool {
	m.mu.Lock()
	from := m.state
	m.state = Disconnected
	m.mu.Unlock()

	if from == Disconnected {
		return false
	}

	m.notify(from, Disconnected)
	return true
}

func (m *Machine) notify(from, to State) {
	if m.onChange != nil {
		m.onChange(from, to)
	}
}
