package tcp

import (
	"fmt"
	"sync"
)

// State is the lifecycle position of a Channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observer is notified after every state transition.
type Observer func(old, new State)

var transitions = map[State][]State{
	Disconnected:  {Connecting},
	Connecting:    {Connected, Disconnected},
	Connected:     {Disconnecting, Disconnected},
	Disconnecting: {Disconnected},
}

// CanTransition reports whether a channel may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type stateMachine struct {
	mu        sync.Mutex
	current   State
	observers []Observer
}

func (m *stateMachine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *stateMachine) observe(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// transition moves to the given state and notifies observers outside the lock.
func (m *stateMachine) transition(to State) error {
	m.mu.Lock()
	from := m.current
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	m.current = to
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(from, to)
	}
	return nil
}

func (m *stateMachine) mustTransition(to State) {
	if err := m.transition(to); err != nil {
		panic("tcp: " + err.Error())
	}
}
