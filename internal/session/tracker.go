// Package session tracks the lifetime of one native drag operation and the
// shelf, if any, that was opened for it.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/shelfd/internal/pointer"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

// Session is one drag, from the native start signal to the end signal.
type Session struct {
	ID           string         `json:"id"`
	Items        []pointer.Item `json:"items"`
	ShelfID      string         `json:"shelf_id,omitempty"`
	ShelfCreated bool           `json:"shelf_created"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      time.Time      `json:"ended_at,omitzero"`
}

// Tracker owns at most one open Session. Not safe for concurrent use.
type Tracker struct {
	clock   timeutil.Clock
	current *Session
	started uint64
}

// NewTracker creates a Tracker. A nil clock uses the real clock.
func NewTracker(clock timeutil.Clock) *Tracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Tracker{clock: clock}
}

// Start opens a session for items. A second Start while a session is open is
// ignored; the open session is returned with started=false.
func (t *Tracker) Start(items []pointer.Item) (s Session, started bool) {
	if t.current != nil {
		return t.snapshot(), false
	}
	t.current = &Session{
		ID:        fmt.Sprintf("drag-%s", uuid.NewString()),
		Items:     append([]pointer.Item(nil), items...),
		StartedAt: t.clock.Now(),
	}
	t.started++
	return t.snapshot(), true
}

// Update replaces the dragged items of the open session.
func (t *Tracker) Update(items []pointer.Item) bool {
	if t.current == nil {
		return false
	}
	t.current.Items = append([]pointer.Item(nil), items...)
	return true
}

// BindShelf records that shelfID was opened for the current session.
func (t *Tracker) BindShelf(shelfID string) bool {
	if t.current == nil {
		return false
	}
	t.current.ShelfID = shelfID
	t.current.ShelfCreated = true
	return true
}

// End closes the open session and returns it.
func (t *Tracker) End() (Session, bool) {
	if t.current == nil {
		return Session{}, false
	}
	t.current.EndedAt = t.clock.Now()
	s := t.snapshot()
	t.current = nil
	return s, true
}

// Clear drops the open session without reporting it.
func (t *Tracker) Clear() {
	t.current = nil
}

// Current returns a copy of the open session.
func (t *Tracker) Current() (Session, bool) {
	if t.current == nil {
		return Session{}, false
	}
	return t.snapshot(), true
}

// Active reports whether a session is open.
func (t *Tracker) Active() bool { return t.current != nil }

// HasItems reports whether the open session carries at least one item.
func (t *Tracker) HasItems() bool {
	return t.current != nil && len(t.current.Items) > 0
}

// Started counts sessions opened since creation.
func (t *Tracker) Started() uint64 { return t.started }

func (t *Tracker) snapshot() Session {
	s := *t.current
	s.Items = append([]pointer.Item(nil), t.current.Items...)
	return s
}
