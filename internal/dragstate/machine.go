// Package dragstate models where the user is in the drag/shelf interaction
// and guards when a shake may open a new shelf.
package dragstate

import (
	"time"

	"github.com/banshee-data/shelfd/internal/monitoring"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

// State is the machine's primary state.
type State string

const (
	Idle        State = "idle"         // no drag, no active shelf
	Dragging    State = "dragging"     // drag in progress without a shelf from this interaction
	ShelfActive State = "shelf_active" // a shake opened a shelf that is still active
)

// EventType names an input to the machine.
type EventType string

const (
	StartDrag     EventType = "START_DRAG"
	ShakeDetected EventType = "SHAKE_DETECTED"
	EndDrag       EventType = "END_DRAG"
	DropStart     EventType = "DROP_START"
	DropEnd       EventType = "DROP_END"
	ShelfReleased EventType = "SHELF_RELEASED" // the active shelf was destroyed
)

// Event is an input with its payload.
type Event struct {
	Type         EventType
	ShelfCreated bool   // SHAKE_DETECTED: a shelf was actually created
	ShelfID      string // SHAKE_DETECTED, SHELF_RELEASED
}

// Context is the data the auto-hide block predicate reads.
type Context struct {
	IsDragging     bool   `json:"is_dragging"`
	DropInProgress bool   `json:"drop_in_progress"`
	ActiveShelfID  string `json:"active_shelf_id,omitempty"`
}

// Transition is one recorded state change.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Event EventType `json:"event"`
	At    time.Time `json:"at"`
}

const historyLimit = 32

// Machine is the drag/shelf state machine. Not safe for concurrent use.
type Machine struct {
	clock   timeutil.Clock
	state   State
	ctx     Context
	history []Transition
}

// New returns a machine in Idle. A nil clock uses the real clock.
func New(clock timeutil.Clock) *Machine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Machine{clock: clock, state: Idle}
}

// State returns the current primary state.
func (m *Machine) State() State { return m.state }

// Context returns a copy of the overlay context.
func (m *Machine) Context() Context { return m.ctx }

// Blocked reports whether destructive auto-hide actions must wait.
func (m *Machine) Blocked() bool {
	return m.ctx.IsDragging || m.ctx.DropInProgress
}

// CanCreateShelf reports whether a shake may open a new shelf. sessionShelfLive
// tells the machine whether the current session's shelf still exists.
func (m *Machine) CanCreateShelf(sessionShelfLive bool) bool {
	if !m.ctx.IsDragging {
		return false
	}
	switch m.state {
	case Dragging:
		return true
	case ShelfActive:
		return !sessionShelfLive
	default:
		return false
	}
}

// Send applies ev and returns the resulting state.
func (m *Machine) Send(ev Event) State {
	from := m.state

	switch ev.Type {
	case StartDrag:
		m.ctx.IsDragging = true
		if m.state == Idle {
			m.state = Dragging
		}
	case ShakeDetected:
		if ev.ShelfCreated && m.state != Idle {
			m.state = ShelfActive
			m.ctx.ActiveShelfID = ev.ShelfID
		}
	case EndDrag:
		m.ctx.IsDragging = false
		if m.state == ShelfActive {
			m.state = Dragging
		}
	case DropStart:
		m.ctx.DropInProgress = true
	case DropEnd:
		m.ctx.DropInProgress = false
	case ShelfReleased:
		if ev.ShelfID != "" && ev.ShelfID == m.ctx.ActiveShelfID {
			m.ctx.ActiveShelfID = ""
			if m.state == ShelfActive {
				m.state = Dragging
			}
		}
	}

	// Settle once nothing is holding the interaction open.
	if m.state != Idle && !m.ctx.IsDragging && m.ctx.ActiveShelfID == "" {
		m.state = Idle
	}

	if m.state != from {
		m.record(from, ev.Type)
	}
	return m.state
}

// Reset returns the machine to Idle with an empty context.
func (m *Machine) Reset() {
	from := m.state
	m.state = Idle
	m.ctx = Context{}
	if from != Idle {
		m.record(from, "RESET")
	}
}

// History returns recent transitions, oldest first.
func (m *Machine) History() []Transition {
	return append([]Transition(nil), m.history...)
}

func (m *Machine) record(from State, ev EventType) {
	t := Transition{From: from, To: m.state, Event: ev, At: m.clock.Now()}
	if len(m.history) == historyLimit {
		copy(m.history, m.history[1:])
		m.history = m.history[:historyLimit-1]
	}
	m.history = append(m.history, t)
	monitoring.Debugf("[dragstate] %s -> %s on %s", from, m.state, ev)
}
