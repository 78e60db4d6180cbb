// Package shelf is the sole owner of shelf lifecycles. It decides when a
// shake opens a new shelf or reuses the session's shelf, applies drops, and
// destroys empty shelves when their auto-hide deadline expires.
package shelf

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/shelfd/internal/autohide"
	"github.com/banshee-data/shelfd/internal/config"
	"github.com/banshee-data/shelfd/internal/dragstate"
	"github.com/banshee-data/shelfd/internal/events"
	"github.com/banshee-data/shelfd/internal/monitoring"
	"github.com/banshee-data/shelfd/internal/pointer"
	"github.com/banshee-data/shelfd/internal/session"
	"github.com/banshee-data/shelfd/internal/shake"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

var (
	// ErrShelfCreationFailed wraps a window-layer failure. No coordinator
	// state changes when it is returned, so the caller may retry.
	ErrShelfCreationFailed = errors.New("shelf creation failed")
	ErrShelfNotFound       = errors.New("shelf not found")
	ErrItemNotFound        = errors.New("item not found")
	ErrShelfBusy           = errors.New("shelf is receiving a drop")
	ErrDisabled            = errors.New("drag shake is disabled")
	ErrNoDraggedItems      = errors.New("no items are being dragged")
	ErrCreationNotAllowed  = errors.New("shelf creation not allowed in current state")
)

// Handle is the coordinator's record of a shelf.
type Handle struct {
	ID            string    `json:"id"`
	Position      Position  `json:"position"`
	Pinned        bool      `json:"is_pinned"`
	Visible       bool      `json:"is_visible"`
	Items         []Item    `json:"items"`
	ReceivingDrop bool      `json:"receiving_drop"`
	SessionID     string    `json:"session_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *Handle) clone() Handle {
	out := *h
	out.Items = append([]Item(nil), h.Items...)
	return out
}

// ShakeOutcome reports what a shake did.
type ShakeOutcome struct {
	ShelfID string `json:"shelf_id"`
	Created bool   `json:"created"`
	Reused  bool   `json:"reused"`
}

// Stats are lifetime counters.
type Stats struct {
	Created        uint64 `json:"created"`
	Reused         uint64 `json:"reused"`
	Rejected       uint64 `json:"rejected"`
	CreateFailures uint64 `json:"create_failures"`
	Destroyed      uint64 `json:"destroyed"`
	AutoHidden     uint64 `json:"auto_hidden"`
	ItemsAdded     uint64 `json:"items_added"`
}

// Status is a snapshot for the host API.
type Status struct {
	State     dragstate.State   `json:"state"`
	Context   dragstate.Context `json:"context"`
	Session   *session.Session  `json:"session,omitempty"`
	Pending   []string          `json:"pending_auto_hide"`
	Scheduler autohide.Stats    `json:"scheduler"`
	Stats     Stats             `json:"stats"`
	Enabled   bool              `json:"drag_shake_enabled"`
	AutoHide  bool              `json:"auto_hide_empty"`
}

// Options configures a Coordinator.
type Options struct {
	Windows  Windows
	Clock    timeutil.Clock
	Router   *events.Router
	Settings *config.Settings
}

// Coordinator serialises every lifecycle decision behind one mutex. Window
// calls happen under the lock; domain events are published after it is
// released so subscribers may call back in.
type Coordinator struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	windows  Windows
	router   *events.Router
	machine  *dragstate.Machine
	sessions *session.Tracker
	sched    *autohide.Scheduler

	shelves map[string]*Handle
	outbox  []events.Event
	stats   Stats

	enabled            bool
	emptyTimeout       time.Duration
	sessionHideTimeout time.Duration
	offsetX, offsetY   float64
}

// NewCoordinator wires a coordinator with its state machine, session
// tracker and auto-hide scheduler.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Windows == nil {
		opts.Windows = NewHeadlessWindows()
	}
	if opts.Router == nil {
		opts.Router = events.NewRouter(opts.Clock)
	}
	if opts.Settings == nil {
		opts.Settings = config.DefaultSettings()
	}

	c := &Coordinator{
		clock:    opts.Clock,
		windows:  opts.Windows,
		router:   opts.Router,
		machine:  dragstate.New(opts.Clock),
		sessions: session.NewTracker(opts.Clock),
		shelves:  make(map[string]*Handle),
	}
	c.sched = autohide.New(opts.Clock, timerTarget{c}, autohide.Config{})
	c.applySettingsLocked(opts.Settings)
	return c
}

// run executes fn under the lock and publishes the events it queued.
func (c *Coordinator) run(fn func()) {
	c.mu.Lock()
	fn()
	out := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	for _, ev := range out {
		c.router.Publish(ev)
	}
}

func (c *Coordinator) emit(ev events.Event) {
	if ev.Time.IsZero() {
		ev.Time = c.clock.Now()
	}
	c.outbox = append(c.outbox, ev)
}

// ApplySettings applies new settings live. Turning auto-hide off cancels
// every pending hide; turning it back on re-evaluates every shelf.
func (c *Coordinator) ApplySettings(s *config.Settings) {
	c.run(func() { c.applySettingsLocked(s) })
}

func (c *Coordinator) applySettingsLocked(s *config.Settings) {
	c.enabled = s.GetDragShakeEnabled()
	c.emptyTimeout = s.GetEmptyShelfTimeout()
	c.sessionHideTimeout = s.GetSessionHideTimeout()
	c.offsetX, c.offsetY = s.GetShelfOffset()
	c.sched.Configure(autohide.Config{
		EmptyShelfTimeout:       c.emptyTimeout,
		CleanupClearDelay:       s.GetCleanupClearDelay(),
		CleanupSweepDelay:       s.GetCleanupSweepDelay(),
		RescheduleWarnThreshold: s.GetRescheduleWarnThreshold(),
	})
	if n := c.sched.SetEnabled(s.GetAutoHideEmpty()); n > 0 {
		if s.GetAutoHideEmpty() {
			monitoring.Logf("[coordinator] auto-hide enabled, scheduled %d empty shelves", n)
		} else {
			monitoring.Logf("[coordinator] auto-hide disabled, cancelled %d pending hides", n)
		}
	}
}

// OnDragStart opens a drag session. Duplicate starts are ignored and
// reported with started=false.
func (c *Coordinator) OnDragStart(items []pointer.Item) (s session.Session, started bool) {
	c.run(func() {
		s, started = c.sessions.Start(items)
		if !started {
			monitoring.Debugf("[coordinator] duplicate drag start ignored for %s", s.ID)
			return
		}
		c.machine.Send(dragstate.Event{Type: dragstate.StartDrag})
		c.emit(events.Event{Kind: events.DragStarted, SessionID: s.ID, ItemCount: len(s.Items)})
	})
	return s, started
}

// OnDragging refreshes the dragged items. A drag update without a prior
// start opens the session.
func (c *Coordinator) OnDragging(items []pointer.Item) (started bool) {
	c.run(func() {
		if c.sessions.Update(items) {
			return
		}
		s, ok := c.sessions.Start(items)
		if ok {
			started = true
			c.machine.Send(dragstate.Event{Type: dragstate.StartDrag})
			c.emit(events.Event{Kind: events.DragStarted, SessionID: s.ID, ItemCount: len(s.Items)})
		}
	})
	return started
}

// OnDragEnd closes the session. If its shelf never received a drop it gets
// the short session timeout, and the two-stage cleanup is armed.
func (c *Coordinator) OnDragEnd() (s session.Session, ended bool) {
	c.run(func() {
		cur, ok := c.sessions.Current()
		if !ok {
			return
		}
		if cur.ShelfCreated {
			if h, live := c.shelves[cur.ShelfID]; live && len(h.Items) == 0 && !h.Pinned {
				c.sched.Schedule(h.ID, c.sessionHideTimeout)
			}
		}
		s, ended = c.sessions.End()
		c.machine.Send(dragstate.Event{Type: dragstate.EndDrag})
		c.sched.ScheduleCleanup()
		c.emit(events.Event{Kind: events.DragEnded, SessionID: s.ID, ShelfID: s.ShelfID, ItemCount: len(s.Items)})
	})
	return s, ended
}

// OnShakeEvent decides whether a shake opens, reuses or is rejected.
func (c *Coordinator) OnShakeEvent(ev shake.Event) (out ShakeOutcome, err error) {
	c.run(func() {
		out, err = c.onShakeLocked(ev)
		if err != nil && !errors.Is(err, ErrShelfCreationFailed) {
			c.stats.Rejected++
			monitoring.Debugf("[coordinator] shake rejected: %v", err)
		}
	})
	return out, err
}

func (c *Coordinator) onShakeLocked(ev shake.Event) (ShakeOutcome, error) {
	if !c.enabled {
		return ShakeOutcome{}, ErrDisabled
	}
	if !c.sessions.HasItems() {
		return ShakeOutcome{}, ErrNoDraggedItems
	}
	cur, _ := c.sessions.Current()

	sessionShelfLive := false
	if cur.ShelfCreated {
		if h, ok := c.shelves[cur.ShelfID]; ok {
			sessionShelfLive = true
			if err := c.windows.ShowShelf(h.ID); err != nil {
				monitoring.Logf("[coordinator] show shelf %s: %v", h.ID, err)
			}
			h.Visible = true
			if len(h.Items) == 0 && !h.Pinned && c.sched.Pending(h.ID) {
				c.sched.Schedule(h.ID, c.emptyTimeout)
			}
			c.stats.Reused++
			return ShakeOutcome{ShelfID: h.ID, Reused: true}, nil
		}
	}
	if !c.machine.CanCreateShelf(sessionShelfLive) {
		return ShakeOutcome{}, ErrCreationNotAllowed
	}

	pos := Position{X: ev.X - c.offsetX, Y: ev.Y - c.offsetY}
	id, err := c.windows.CreateShelf(pos, nil)
	if err != nil {
		c.stats.CreateFailures++
		monitoring.Logf("[coordinator] create shelf failed: %v", err)
		return ShakeOutcome{}, fmt.Errorf("%w: %w", ErrShelfCreationFailed, err)
	}

	c.shelves[id] = &Handle{
		ID:        id,
		Position:  pos,
		Visible:   true,
		SessionID: cur.ID,
		CreatedAt: c.clock.Now(),
	}
	c.sessions.BindShelf(id)
	c.machine.Send(dragstate.Event{Type: dragstate.ShakeDetected, ShelfCreated: true, ShelfID: id})
	c.stats.Created++
	c.emit(events.Event{Kind: events.ShelfCreated, ShelfID: id, SessionID: cur.ID})
	c.sched.Schedule(id, c.emptyTimeout)
	monitoring.Logf("[coordinator] created shelf %s at (%.0f,%.0f) for %s", id, pos.X, pos.Y, cur.ID)
	return ShakeOutcome{ShelfID: id, Created: true}, nil
}

// OnFilesDropped adds paths to a shelf, pins it and clears its drop flag.
// The hide deadline is cancelled before any item becomes visible.
func (c *Coordinator) OnFilesDropped(shelfID string, paths []string) (added []Item, err error) {
	c.run(func() {
		h, ok := c.shelves[shelfID]
		if !ok {
			err = ErrShelfNotFound
			return
		}
		c.sched.Cancel(shelfID)

		for _, pi := range pointer.ItemsFromPaths(paths) {
			it := Item{ID: uuid.NewString(), Item: pi, AddedAt: c.clock.Now()}
			if werr := c.windows.AddItemToShelf(shelfID, it); werr != nil {
				err = fmt.Errorf("add %s to shelf %s: %w", pi.Path, shelfID, werr)
				break
			}
			h.Items = append(h.Items, it)
			added = append(added, it)
			c.stats.ItemsAdded++
			item := it.Item
			c.emit(events.Event{Kind: events.ShelfItemAdded, ShelfID: shelfID, ItemID: it.ID, Item: &item, ItemCount: len(h.Items)})
		}

		if len(added) > 0 && !h.Pinned {
			h.Pinned = true
			if perr := c.windows.SetPinned(shelfID, true); perr != nil {
				monitoring.Logf("[coordinator] pin shelf %s: %v", shelfID, perr)
			}
		}
		c.endDropLocked(h)
	})
	return added, err
}

// OnDropStart protects a shelf from every destructive path until the drop
// ends or the post-drag cleanup clears it.
func (c *Coordinator) OnDropStart(shelfID string) error {
	var err error
	c.run(func() {
		h, ok := c.shelves[shelfID]
		if !ok {
			err = ErrShelfNotFound
			return
		}
		h.ReceivingDrop = true
		c.machine.Send(dragstate.Event{Type: dragstate.DropStart})
	})
	return err
}

// OnDropEnd clears the shelf's drop flag.
func (c *Coordinator) OnDropEnd(shelfID string) error {
	var err error
	c.run(func() {
		h, ok := c.shelves[shelfID]
		if !ok {
			err = ErrShelfNotFound
			return
		}
		c.endDropLocked(h)
	})
	return err
}

func (c *Coordinator) endDropLocked(h *Handle) {
	h.ReceivingDrop = false
	if !c.anyReceivingLocked() {
		c.machine.Send(dragstate.Event{Type: dragstate.DropEnd})
	}
	if len(h.Items) == 0 && !h.Pinned && !c.sched.Pending(h.ID) {
		c.sched.Schedule(h.ID, c.emptyTimeout)
	}
}

func (c *Coordinator) anyReceivingLocked() bool {
	for _, h := range c.shelves {
		if h.ReceivingDrop {
			return true
		}
	}
	return false
}

// RemoveItem removes one item. An unpinned shelf that becomes empty is
// scheduled for auto-hide again.
func (c *Coordinator) RemoveItem(shelfID, itemID string) error {
	var err error
	c.run(func() {
		h, ok := c.shelves[shelfID]
		if !ok {
			err = ErrShelfNotFound
			return
		}
		idx := -1
		for i, it := range h.Items {
			if it.ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			err = ErrItemNotFound
			return
		}
		if werr := c.windows.RemoveItemFromShelf(shelfID, itemID); werr != nil {
			monitoring.Logf("[coordinator] remove item %s from %s: %v", itemID, shelfID, werr)
		}
		removed := h.Items[idx]
		h.Items = append(h.Items[:idx], h.Items[idx+1:]...)
		item := removed.Item
		c.emit(events.Event{Kind: events.ShelfItemRemoved, ShelfID: shelfID, ItemID: itemID, Item: &item, ItemCount: len(h.Items)})
		if len(h.Items) == 0 && !h.Pinned {
			c.sched.Schedule(shelfID, c.emptyTimeout)
		}
	})
	return err
}

// SetPinned pins or unpins a shelf. Unpinning an empty shelf schedules it.
func (c *Coordinator) SetPinned(shelfID string, pinned bool) error {
	var err error
	c.run(func() {
		h, ok := c.shelves[shelfID]
		if !ok {
			err = ErrShelfNotFound
			return
		}
		h.Pinned = pinned
		if werr := c.windows.SetPinned(shelfID, pinned); werr != nil {
			monitoring.Logf("[coordinator] pin shelf %s: %v", shelfID, werr)
		}
		if pinned {
			c.sched.Cancel(shelfID)
		} else if len(h.Items) == 0 {
			c.sched.Schedule(shelfID, c.emptyTimeout)
		}
	})
	return err
}

// Close destroys a shelf at the user's request.
func (c *Coordinator) Close(shelfID string) error {
	var err error
	c.run(func() {
		h, ok := c.shelves[shelfID]
		if !ok {
			err = ErrShelfNotFound
			return
		}
		if h.ReceivingDrop {
			err = ErrShelfBusy
			return
		}
		c.destroyLocked(shelfID)
	})
	return err
}

func (c *Coordinator) destroyLocked(id string) {
	h, ok := c.shelves[id]
	if !ok || h.ReceivingDrop {
		return
	}
	c.sched.Cancel(id)
	if !c.windows.DestroyShelf(id) {
		monitoring.Logf("[coordinator] window for shelf %s was already gone", id)
	}
	delete(c.shelves, id)
	c.machine.Send(dragstate.Event{Type: dragstate.ShelfReleased, ShelfID: id})
	c.stats.Destroyed++
	c.emit(events.Event{Kind: events.ShelfDestroyed, ShelfID: id, SessionID: h.SessionID})
}

// Tick runs every auto-hide deadline due at now.
func (c *Coordinator) Tick(now time.Time) int {
	var n int
	c.run(func() { n = c.sched.RunDue(now) })
	return n
}

// NextDeadline returns the earliest pending auto-hide or cleanup deadline.
func (c *Coordinator) NextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.NextDeadline()
}

// Stop cancels every pending timer, then clears session and drag state.
func (c *Coordinator) Stop() {
	c.run(func() {
		n := c.sched.CancelAll()
		c.sched.CancelCleanup()
		c.sessions.Clear()
		c.machine.Reset()
		monitoring.Logf("[coordinator] stopped, cancelled %d pending hides", n)
	})
}

// Shelves returns every live shelf, oldest first.
func (c *Coordinator) Shelves() []Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Handle, 0, len(c.shelves))
	for _, h := range c.shelves {
		out = append(out, h.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Shelf returns one shelf.
func (c *Coordinator) Shelf(id string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.shelves[id]
	if !ok {
		return Handle{}, false
	}
	return h.clone(), true
}

// DragActive reports whether a drag session is open.
func (c *Coordinator) DragActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.Active()
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:     c.machine.State(),
		Context:   c.machine.Context(),
		Pending:   c.sched.PendingIDs(),
		Scheduler: c.sched.Stats(),
		Stats:     c.stats,
		Enabled:   c.enabled,
		AutoHide:  c.sched.Enabled(),
	}
	if s, ok := c.sessions.Current(); ok {
		st.Session = &s
	}
	return st
}

// History returns recent state machine transitions.
func (c *Coordinator) History() []dragstate.Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.History()
}

// timerTarget lets the scheduler act on the coordinator. Every method runs
// with c.mu already held by the caller.
type timerTarget struct {
	c *Coordinator
}

func (t timerTarget) status(h *Handle) autohide.ShelfStatus {
	cur, _ := t.c.sessions.Current()
	return autohide.ShelfStatus{
		ID:            h.ID,
		Exists:        true,
		Empty:         len(h.Items) == 0,
		Pinned:        h.Pinned,
		ReceivingDrop: h.ReceivingDrop,
		InSession:     cur.ShelfID != "" && cur.ShelfID == h.ID,
	}
}

func (t timerTarget) Inspect(id string) autohide.ShelfStatus {
	h, ok := t.c.shelves[id]
	if !ok {
		return autohide.ShelfStatus{ID: id}
	}
	return t.status(h)
}

func (t timerTarget) Shelves() []autohide.ShelfStatus {
	ids := make([]string, 0, len(t.c.shelves))
	for id := range t.c.shelves {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]autohide.ShelfStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.status(t.c.shelves[id]))
	}
	return out
}

func (t timerTarget) Blocked() bool {
	return t.c.machine.Blocked()
}

func (t timerTarget) AutoHide(id string) {
	c := t.c
	h, ok := c.shelves[id]
	if !ok || h.ReceivingDrop {
		return
	}
	if err := c.windows.HideShelf(id); err != nil {
		monitoring.Logf("[coordinator] hide shelf %s: %v", id, err)
	}
	h.Visible = false
	c.stats.AutoHidden++
	c.emit(events.Event{Kind: events.ShelfAutoHidden, ShelfID: id, SessionID: h.SessionID})
	c.destroyLocked(id)
}

func (t timerTarget) ClearDropProtection() {
	c := t.c
	for _, h := range c.shelves {
		h.ReceivingDrop = false
	}
	if c.machine.Context().DropInProgress {
		c.machine.Send(dragstate.Event{Type: dragstate.DropEnd})
	}
}
