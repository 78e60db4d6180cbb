package autohide

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shelfd/internal/monitoring"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

type fakeShelf struct {
	items     int
	pinned    bool
	receiving bool
	inSession bool
}

type fakeTarget struct {
	shelves map[string]*fakeShelf
	blocked bool
	hidden  []string
	clears  int
}

func newFakeTarget(ids ...string) *fakeTarget {
	ft := &fakeTarget{shelves: make(map[string]*fakeShelf)}
	for _, id := range ids {
		ft.shelves[id] = &fakeShelf{}
	}
	return ft
}

func (f *fakeTarget) Inspect(id string) ShelfStatus {
	sh, ok := f.shelves[id]
	if !ok {
		return ShelfStatus{ID: id}
	}
	return ShelfStatus{
		ID:            id,
		Exists:        true,
		Empty:         sh.items == 0,
		Pinned:        sh.pinned,
		ReceivingDrop: sh.receiving,
		InSession:     sh.inSession,
	}
}

func (f *fakeTarget) Shelves() []ShelfStatus {
	ids := make([]string, 0, len(f.shelves))
	for id := range f.shelves {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]ShelfStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.Inspect(id))
	}
	return out
}

func (f *fakeTarget) Blocked() bool { return f.blocked }

func (f *fakeTarget) AutoHide(id string) {
	f.hidden = append(f.hidden, id)
	delete(f.shelves, id)
}

func (f *fakeTarget) ClearDropProtection() {
	f.clears++
	for _, sh := range f.shelves {
		sh.receiving = false
	}
}

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestScheduler(ft *fakeTarget) (*Scheduler, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(start)
	return New(clock, ft, DefaultConfig()), clock
}

// advance moves the clock and runs whatever became due.
func advance(s *Scheduler, clock *timeutil.MockClock, d time.Duration) int {
	clock.Advance(d)
	return s.RunDue(clock.Now())
}

func TestScheduler_HidesEmptyShelfAtDeadline(t *testing.T) {
	ft := newFakeTarget("s1")
	s, clock := newTestScheduler(ft)

	require.True(t, s.Schedule("s1", 3*time.Second))
	next, ok := s.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, start.Add(3*time.Second), next)

	assert.Zero(t, advance(s, clock, 2999*time.Millisecond))
	assert.Empty(t, ft.hidden)

	assert.Equal(t, 1, advance(s, clock, time.Millisecond))
	assert.Equal(t, []string{"s1"}, ft.hidden)
	assert.False(t, s.Pending("s1"))
	_, ok = s.NextDeadline()
	assert.False(t, ok)
}

func TestScheduler_ScheduleReplaces(t *testing.T) {
	ft := newFakeTarget("s1")
	s, clock := newTestScheduler(ft)

	s.Schedule("s1", time.Second)
	clock.Advance(800 * time.Millisecond)
	s.Schedule("s1", time.Second)

	advance(s, clock, 500*time.Millisecond)
	assert.Empty(t, ft.hidden, "replaced deadline must not fire at the old time")
	advance(s, clock, 500*time.Millisecond)
	assert.Equal(t, []string{"s1"}, ft.hidden)
}

func TestScheduler_ExpiryRevalidates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ft *fakeTarget)
	}{
		{"destroyed", func(ft *fakeTarget) { delete(ft.shelves, "s1") }},
		{"pinned", func(ft *fakeTarget) { ft.shelves["s1"].pinned = true }},
		{"has items", func(ft *fakeTarget) { ft.shelves["s1"].items = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTarget("s1")
			s, clock := newTestScheduler(ft)
			s.Schedule("s1", time.Second)
			tt.mutate(ft)

			advance(s, clock, time.Second)
			assert.Empty(t, ft.hidden)
			assert.False(t, s.Pending("s1"), "entry is dropped, not rescheduled")
			assert.Equal(t, uint64(1), s.Stats().Dropped)
		})
	}
}

func TestScheduler_NeverDestroysWhileReceivingDrop(t *testing.T) {
	ft := newFakeTarget("s1")
	s, clock := newTestScheduler(ft)
	ft.shelves["s1"].receiving = true

	s.Schedule("s1", time.Second)
	for i := 0; i < 5; i++ {
		advance(s, clock, time.Second)
		assert.Empty(t, ft.hidden)
		assert.True(t, s.Pending("s1"), "blocked hide is rescheduled")
	}
	assert.Equal(t, uint64(5), s.Stats().Rescheduled)

	ft.shelves["s1"].receiving = false
	advance(s, clock, time.Second)
	assert.Equal(t, []string{"s1"}, ft.hidden)
}

func TestScheduler_BlockedPredicateReschedules(t *testing.T) {
	var logs []string
	orig := monitoring.Logf
	defer func() { monitoring.Logf = orig }()
	monitoring.SetLogger(func(format string, v ...interface{}) { logs = append(logs, format) })

	ft := newFakeTarget("s1")
	clock := timeutil.NewMockClock(start)
	cfg := DefaultConfig()
	cfg.RescheduleWarnThreshold = 3
	s := New(clock, ft, cfg)
	ft.blocked = true

	s.Schedule("s1", 100*time.Millisecond)
	for i := 0; i < 3; i++ {
		advance(s, clock, 100*time.Millisecond)
	}
	assert.Empty(t, ft.hidden)
	assert.Len(t, logs, 1, "warning logged once the threshold is reached")

	ft.blocked = false
	advance(s, clock, 100*time.Millisecond)
	assert.Equal(t, []string{"s1"}, ft.hidden)
}

func TestScheduler_DisableCancelsAndEnableReevaluates(t *testing.T) {
	ft := newFakeTarget("s1", "s2", "s3")
	s, clock := newTestScheduler(ft)
	for _, id := range []string{"s1", "s2", "s3"} {
		s.Schedule(id, 3*time.Second)
	}

	assert.Equal(t, 3, s.SetEnabled(false))
	assert.Empty(t, s.PendingIDs())
	assert.False(t, s.Schedule("s1", time.Second), "disabled scheduler ignores new deadlines")
	advance(s, clock, 10*time.Second)
	assert.Empty(t, ft.hidden)

	assert.Equal(t, 3, s.SetEnabled(true))
	assert.Equal(t, []string{"s1", "s2", "s3"}, s.PendingIDs())
	assert.Zero(t, s.SetEnabled(true), "no-op when unchanged")
}

func TestScheduler_ReevaluateSkipsPinnedAndFull(t *testing.T) {
	ft := newFakeTarget("empty", "pinned", "full", "scheduled")
	ft.shelves["pinned"].pinned = true
	ft.shelves["full"].items = 1
	s, _ := newTestScheduler(ft)
	s.Schedule("scheduled", time.Hour)
	deadline, _ := s.Deadline("scheduled")

	assert.Equal(t, 1, s.ReevaluateAll())
	assert.Equal(t, []string{"empty", "scheduled"}, s.PendingIDs())
	again, _ := s.Deadline("scheduled")
	assert.Equal(t, deadline, again, "existing deadlines are left alone")
}

func TestScheduler_StagedCleanup(t *testing.T) {
	ft := newFakeTarget("orphan", "session", "pinned", "timed")
	ft.shelves["session"].inSession = true
	ft.shelves["pinned"].pinned = true
	ft.shelves["orphan"].receiving = true
	s, clock := newTestScheduler(ft)
	s.Schedule("timed", time.Hour)

	s.ScheduleCleanup()
	assert.True(t, s.CleanupPending())

	// Stage one clears drop protection only.
	advance(s, clock, 100*time.Millisecond)
	assert.Equal(t, 1, ft.clears)
	assert.False(t, ft.shelves["orphan"].receiving)
	assert.Empty(t, ft.hidden)

	// Stage two sweeps the orphan and schedules the session shelf.
	advance(s, clock, 400*time.Millisecond)
	assert.Equal(t, []string{"orphan"}, ft.hidden)
	assert.True(t, s.Pending("session"))
	assert.True(t, s.Pending("timed"))
	assert.False(t, s.Pending("pinned"))
	assert.False(t, s.CleanupPending())
	assert.Equal(t, uint64(1), s.Stats().Swept)
}

func TestScheduler_SweepRespectsBlock(t *testing.T) {
	ft := newFakeTarget("orphan")
	s, _ := newTestScheduler(ft)
	ft.blocked = true

	assert.Zero(t, s.Sweep())
	assert.Empty(t, ft.hidden)
	assert.True(t, s.Pending("orphan"))
}

func TestScheduler_CleanupRescheduleReplacesStages(t *testing.T) {
	ft := newFakeTarget()
	s, clock := newTestScheduler(ft)
	s.ScheduleCleanup()
	clock.Advance(80 * time.Millisecond)
	s.ScheduleCleanup()

	advance(s, clock, 50*time.Millisecond)
	assert.Zero(t, ft.clears)
	advance(s, clock, 50*time.Millisecond)
	assert.Equal(t, 1, ft.clears)

	s.CancelCleanup()
	assert.False(t, s.CleanupPending())
}

func TestScheduler_CancelAndCancelAll(t *testing.T) {
	ft := newFakeTarget("a", "b")
	s, clock := newTestScheduler(ft)
	s.Schedule("a", time.Second)
	s.Schedule("b", time.Second)

	assert.True(t, s.Cancel("a"))
	assert.False(t, s.Cancel("a"))
	assert.Equal(t, 1, s.CancelAll())
	advance(s, clock, time.Minute)
	assert.Empty(t, ft.hidden)
	assert.Equal(t, uint64(2), s.Stats().Cancelled)
}

func TestScheduler_RunDueOrder(t *testing.T) {
	ft := newFakeTarget("late", "early")
	s, clock := newTestScheduler(ft)
	s.Schedule("late", 2*time.Second)
	s.Schedule("early", time.Second)

	advance(s, clock, 5*time.Second)
	assert.Equal(t, []string{"early", "late"}, ft.hidden)
}
