// Package autohide owns every pending shelf deadline. Deadlines live in a
// map keyed by shelf id; the consumer loop arms a single timer for the
// earliest one and calls RunDue when it fires. The scheduler never holds a
// shelf, only its id, and re-validates through its Target before acting.
package autohide

import (
	"sort"
	"time"

	"github.com/banshee-data/shelfd/internal/monitoring"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

// ShelfStatus is what the scheduler needs to know about a shelf at expiry.
type ShelfStatus struct {
	ID            string
	Exists        bool
	Empty         bool
	Pinned        bool
	ReceivingDrop bool
	InSession     bool // bound to the drag session that is still open
}

// Target is the owner of the shelves the scheduler acts on.
type Target interface {
	Inspect(id string) ShelfStatus
	Shelves() []ShelfStatus
	// Blocked reports the global predicate: a drag or drop is in progress.
	Blocked() bool
	// AutoHide hides and destroys an empty shelf.
	AutoHide(id string)
	// ClearDropProtection resets every per-shelf receiving-drop flag.
	ClearDropProtection()
}

// Config holds the scheduler timings.
type Config struct {
	EmptyShelfTimeout       time.Duration
	CleanupClearDelay       time.Duration
	CleanupSweepDelay       time.Duration
	RescheduleWarnThreshold int
}

// DefaultConfig returns 3s / 100ms / 500ms / 20.
func DefaultConfig() Config {
	return Config{
		EmptyShelfTimeout:       3 * time.Second,
		CleanupClearDelay:       100 * time.Millisecond,
		CleanupSweepDelay:       500 * time.Millisecond,
		RescheduleWarnThreshold: 20,
	}
}

type entryKind int

const (
	hideEntry entryKind = iota
	clearEntry
	sweepEntry
)

type entry struct {
	kind        entryKind
	shelfID     string
	timeout     time.Duration
	deadline    time.Time
	reschedules int
	seq         uint64
}

// Stats counts scheduler outcomes.
type Stats struct {
	Scheduled   uint64 `json:"scheduled"`
	Cancelled   uint64 `json:"cancelled"`
	Hidden      uint64 `json:"hidden"`
	Rescheduled uint64 `json:"rescheduled"`
	Dropped     uint64 `json:"dropped"` // expired entries whose shelf no longer qualified
	Swept       uint64 `json:"swept"`
}

// Scheduler is the deadline map. Not safe for concurrent use; the owner
// serialises access.
type Scheduler struct {
	clock   timeutil.Clock
	target  Target
	cfg     Config
	enabled bool

	hides map[string]*entry
	clear *entry
	sweep *entry
	seq   uint64
	stats Stats
}

// New creates an enabled scheduler.
func New(clock timeutil.Clock, target Target, cfg Config) *Scheduler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Scheduler{
		clock:   clock,
		target:  target,
		enabled: true,
		hides:   make(map[string]*entry),
	}
	s.Configure(cfg)
	return s
}

// Configure applies new timings to future schedules.
func (s *Scheduler) Configure(cfg Config) {
	def := DefaultConfig()
	if cfg.EmptyShelfTimeout <= 0 {
		cfg.EmptyShelfTimeout = def.EmptyShelfTimeout
	}
	if cfg.CleanupClearDelay <= 0 {
		cfg.CleanupClearDelay = def.CleanupClearDelay
	}
	if cfg.CleanupSweepDelay <= 0 {
		cfg.CleanupSweepDelay = def.CleanupSweepDelay
	}
	if cfg.RescheduleWarnThreshold <= 0 {
		cfg.RescheduleWarnThreshold = def.RescheduleWarnThreshold
	}
	s.cfg = cfg
}

// Config returns the active timings.
func (s *Scheduler) Config() Config { return s.cfg }

// Enabled reports whether hide deadlines are being kept.
func (s *Scheduler) Enabled() bool { return s.enabled }

// SetEnabled switches auto-hide. Disabling cancels every hide deadline;
// enabling re-evaluates all shelves. It returns how many deadlines were
// cancelled or created.
func (s *Scheduler) SetEnabled(enabled bool) int {
	if enabled == s.enabled {
		return 0
	}
	s.enabled = enabled
	if !enabled {
		return s.CancelAll()
	}
	return s.ReevaluateAll()
}

// Schedule arms (or replaces) the hide deadline for shelfID.
func (s *Scheduler) Schedule(shelfID string, timeout time.Duration) bool {
	if !s.enabled || shelfID == "" {
		return false
	}
	if timeout <= 0 {
		timeout = s.cfg.EmptyShelfTimeout
	}
	s.seq++
	s.hides[shelfID] = &entry{
		kind:     hideEntry,
		shelfID:  shelfID,
		timeout:  timeout,
		deadline: s.clock.Now().Add(timeout),
		seq:      s.seq,
	}
	s.stats.Scheduled++
	monitoring.Debugf("[autohide] scheduled %s in %v", shelfID, timeout)
	return true
}

// Cancel removes the hide deadline for shelfID.
func (s *Scheduler) Cancel(shelfID string) bool {
	if _, ok := s.hides[shelfID]; !ok {
		return false
	}
	delete(s.hides, shelfID)
	s.stats.Cancelled++
	return true
}

// CancelAll removes every hide deadline and returns how many there were.
func (s *Scheduler) CancelAll() int {
	n := len(s.hides)
	for id := range s.hides {
		delete(s.hides, id)
	}
	s.stats.Cancelled += uint64(n)
	return n
}

// CancelCleanup drops any staged post-drag cleanup.
func (s *Scheduler) CancelCleanup() {
	s.clear, s.sweep = nil, nil
}

// Pending reports whether shelfID has a hide deadline.
func (s *Scheduler) Pending(shelfID string) bool {
	_, ok := s.hides[shelfID]
	return ok
}

// PendingIDs lists shelves with hide deadlines, sorted.
func (s *Scheduler) PendingIDs() []string {
	ids := make([]string, 0, len(s.hides))
	for id := range s.hides {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Deadline returns the hide deadline for shelfID.
func (s *Scheduler) Deadline(shelfID string) (time.Time, bool) {
	e, ok := s.hides[shelfID]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// CleanupPending reports whether post-drag cleanup stages are armed.
func (s *Scheduler) CleanupPending() bool {
	return s.clear != nil || s.sweep != nil
}

// ReevaluateAll schedules every empty, unpinned shelf that has no deadline.
func (s *Scheduler) ReevaluateAll() int {
	if !s.enabled {
		return 0
	}
	n := 0
	for _, st := range s.target.Shelves() {
		if !st.Exists || !st.Empty || st.Pinned || s.Pending(st.ID) {
			continue
		}
		if s.Schedule(st.ID, s.cfg.EmptyShelfTimeout) {
			n++
		}
	}
	return n
}

// ScheduleCleanup arms the two post-drag stages, replacing any armed ones.
func (s *Scheduler) ScheduleCleanup() {
	now := s.clock.Now()
	s.seq++
	s.clear = &entry{kind: clearEntry, deadline: now.Add(s.cfg.CleanupClearDelay), seq: s.seq}
	s.seq++
	s.sweep = &entry{kind: sweepEntry, deadline: now.Add(s.cfg.CleanupSweepDelay), seq: s.seq}
}

// NextDeadline returns the earliest armed deadline.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	var next time.Time
	found := false
	consider := func(e *entry) {
		if e == nil {
			return
		}
		if !found || e.deadline.Before(next) {
			next, found = e.deadline, true
		}
	}
	for _, e := range s.hides {
		consider(e)
	}
	consider(s.clear)
	consider(s.sweep)
	return next, found
}

// RunDue processes every entry whose deadline is at or before now, earliest
// first, and returns how many were processed.
func (s *Scheduler) RunDue(now time.Time) int {
	var due []*entry
	for _, e := range s.hides {
		if !e.deadline.After(now) {
			due = append(due, e)
		}
	}
	if s.clear != nil && !s.clear.deadline.After(now) {
		due = append(due, s.clear)
	}
	if s.sweep != nil && !s.sweep.deadline.After(now) {
		due = append(due, s.sweep)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})

	for _, e := range due {
		switch e.kind {
		case hideEntry:
			// An earlier entry in this pass may have replaced or cancelled it.
			if cur, ok := s.hides[e.shelfID]; !ok || cur != e {
				continue
			}
			delete(s.hides, e.shelfID)
			s.expire(e)
		case clearEntry:
			if s.clear != e {
				continue
			}
			s.clear = nil
			s.target.ClearDropProtection()
		case sweepEntry:
			if s.sweep != e {
				continue
			}
			s.sweep = nil
			s.Sweep()
		}
	}
	return len(due)
}

func (s *Scheduler) expire(e *entry) {
	st := s.target.Inspect(e.shelfID)
	if !st.Exists || st.Pinned || !st.Empty {
		s.stats.Dropped++
		return
	}
	if st.ReceivingDrop || s.target.Blocked() {
		s.reschedule(e)
		return
	}
	s.stats.Hidden++
	s.target.AutoHide(e.shelfID)
}

func (s *Scheduler) reschedule(e *entry) {
	s.seq++
	next := &entry{
		kind:        hideEntry,
		shelfID:     e.shelfID,
		timeout:     e.timeout,
		deadline:    s.clock.Now().Add(e.timeout),
		reschedules: e.reschedules + 1,
		seq:         s.seq,
	}
	s.hides[e.shelfID] = next
	s.stats.Rescheduled++
	if next.reschedules%s.cfg.RescheduleWarnThreshold == 0 {
		monitoring.Logf("[autohide] shelf %s hide deferred %d times; drag or drop still in progress", e.shelfID, next.reschedules)
	}
}

// Sweep destroys orphaned empty shelves and schedules the rest. A shelf is
// orphaned when it is empty, unpinned, not receiving a drop, not bound to
// the open session and has no deadline. Nothing is destroyed while the
// block predicate holds.
func (s *Scheduler) Sweep() int {
	if !s.enabled {
		return 0
	}
	swept := 0
	if !s.target.Blocked() {
		for _, st := range s.target.Shelves() {
			if !st.Exists || !st.Empty || st.Pinned || st.ReceivingDrop || st.InSession || s.Pending(st.ID) {
				continue
			}
			s.target.AutoHide(st.ID)
			swept++
		}
	}
	s.stats.Swept += uint64(swept)
	s.ReevaluateAll()
	return swept
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats { return s.stats }
