package shelf

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shelfd/internal/config"
	"github.com/banshee-data/shelfd/internal/dragstate"
	"github.com/banshee-data/shelfd/internal/events"
	"github.com/banshee-data/shelfd/internal/pointer"
	"github.com/banshee-data/shelfd/internal/shake"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

type harness struct {
	c       *Coordinator
	windows *HeadlessWindows
	clock   *timeutil.MockClock
	mu      sync.Mutex
	events  []events.Event
}

func newHarness(t *testing.T, settings *config.Settings) *harness {
	t.Helper()
	h := &harness{
		windows: NewHeadlessWindows(),
		clock:   timeutil.NewMockClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)),
	}
	router := events.NewRouter(h.clock)
	router.Subscribe("test", func(ev events.Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})
	if settings == nil {
		settings = config.DefaultSettings()
	}
	h.c = NewCoordinator(Options{Windows: h.windows, Clock: h.clock, Router: router, Settings: settings})
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.c.Tick(h.clock.Now())
}

func (h *harness) kinds() []events.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.Kind, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Kind
	}
	return out
}

func threeFiles(t *testing.T) ([]pointer.Item, []string) {
	t.Helper()
	dir := t.TempDir()
	var items []pointer.Item
	var paths []string
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
		items = append(items, pointer.ItemFromPath(p))
		paths = append(paths, p)
	}
	return items, paths
}

var shakeAt = shake.Event{DirectionChanges: 3, TimestampMs: 1000, X: 600, Y: 400}

func TestCoordinator_ShakeCreatesEmptyShelfAndDropPins(t *testing.T) {
	h := newHarness(t, nil)
	items, paths := threeFiles(t)

	_, started := h.c.OnDragStart(items)
	require.True(t, started)

	out, err := h.c.OnShakeEvent(shakeAt)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, []string{"create:0"}, h.windows.Calls(), "shelf is created with no items")

	shelf, ok := h.c.Shelf(out.ShelfID)
	require.True(t, ok)
	assert.Empty(t, shelf.Items)
	assert.False(t, shelf.Pinned)
	assert.Equal(t, Position{X: 450, Y: 300}, shelf.Position)
	assert.Contains(t, h.c.Status().Pending, out.ShelfID)
	assert.Equal(t, dragstate.ShelfActive, h.c.Status().State)

	added, err := h.c.OnFilesDropped(out.ShelfID, paths)
	require.NoError(t, err)
	assert.Len(t, added, 3)

	shelf, _ = h.c.Shelf(out.ShelfID)
	assert.Len(t, shelf.Items, 3)
	assert.True(t, shelf.Pinned)
	assert.NotContains(t, h.c.Status().Pending, out.ShelfID)

	cfg, ok := h.windows.GetShelfConfig(out.ShelfID)
	require.True(t, ok)
	assert.Len(t, cfg.Items, 3)
	assert.True(t, cfg.IsPinned)

	assert.Equal(t, []events.Kind{
		events.DragStarted,
		events.ShelfCreated,
		events.ShelfItemAdded, events.ShelfItemAdded, events.ShelfItemAdded,
	}, h.kinds())
}

func TestCoordinator_SecondShakeReusesShelf(t *testing.T) {
	h := newHarness(t, nil)
	items, _ := threeFiles(t)
	h.c.OnDragStart(items)

	first, err := h.c.OnShakeEvent(shakeAt)
	require.NoError(t, err)
	h.windows.HideShelf(first.ShelfID)

	second, err := h.c.OnShakeEvent(shakeAt)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.ShelfID, second.ShelfID)
	assert.Equal(t, 1, h.windows.CountCalls("create"))
	assert.Equal(t, 1, h.windows.CountCalls("show"))

	cfg, _ := h.windows.GetShelfConfig(first.ShelfID)
	assert.True(t, cfg.IsVisible, "reuse brings the shelf back to front")
}

func TestCoordinator_ConcurrentShakesCreateOnce(t *testing.T) {
	h := newHarness(t, nil)
	items, _ := threeFiles(t)
	h.c.OnDragStart(items)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.c.OnShakeEvent(shakeAt)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.windows.CountCalls("create"))
	assert.Len(t, h.c.Shelves(), 1)
	assert.Equal(t, uint64(15), h.c.Status().Stats.Reused)
}

func TestCoordinator_ShakeRejections(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		settings := config.DefaultSettings()
		settings.DragShakeEnabled = config.Bool(false)
		h := newHarness(t, settings)
		items, _ := threeFiles(t)
		h.c.OnDragStart(items)

		_, err := h.c.OnShakeEvent(shakeAt)
		assert.ErrorIs(t, err, ErrDisabled)
		assert.Zero(t, h.windows.CountCalls("create"))
	})

	t.Run("no session", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.c.OnShakeEvent(shakeAt)
		assert.ErrorIs(t, err, ErrNoDraggedItems)
	})

	t.Run("no items", func(t *testing.T) {
		h := newHarness(t, nil)
		h.c.OnDragStart(nil)
		_, err := h.c.OnShakeEvent(shakeAt)
		assert.ErrorIs(t, err, ErrNoDraggedItems)
		assert.Equal(t, uint64(1), h.c.Status().Stats.Rejected)
	})
}

func TestCoordinator_CreationFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, nil)
	items, _ := threeFiles(t)
	h.c.OnDragStart(items)

	cause := errors.New("compositor unavailable")
	h.windows.FailNextCreate(cause)

	_, err := h.c.OnShakeEvent(shakeAt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShelfCreationFailed)
	assert.ErrorIs(t, err, cause)

	st := h.c.Status()
	assert.Empty(t, h.c.Shelves())
	assert.Empty(t, st.Pending)
	assert.Equal(t, dragstate.Dragging, st.State)
	require.NotNil(t, st.Session)
	assert.False(t, st.Session.ShelfCreated)
	assert.Zero(t, st.Stats.Rejected)

	out, err := h.c.OnShakeEvent(shakeAt)
	require.NoError(t, err, "retry succeeds")
	assert.True(t, out.Created)
}

func TestCoordinator_DuplicateDragStartIsOneSession(t *testing.T) {
	h := newHarness(t, nil)
	items, _ := threeFiles(t)

	first, started := h.c.OnDragStart(items)
	require.True(t, started)
	second, started := h.c.OnDragStart(items)
	assert.False(t, started)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []events.Kind{events.DragStarted}, h.kinds())
}

func TestCoordinator_DragEndWithoutDropHidesAfterSessionTimeout(t *testing.T) {
	h := newHarness(t, nil)
	items, _ := threeFiles(t)
	h.c.OnDragStart(items)
	out, err := h.c.OnShakeEvent(shakeAt)
	require.NoError(t, err)

	_, ended := h.c.OnDragEnd()
	require.True(t, ended)

	deadline, ok := h.c.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(100*time.Millisecond), deadline, "cleanup stage one comes first")

	// Cleanup stages run but the shelf still has its session deadline.
	h.advance(100 * time.Millisecond)
	h.advance(400 * time.Millisecond)
	_, live := h.c.Shelf(out.ShelfID)
	assert.True(t, live)

	h.advance(499 * time.Millisecond)
	_, live = h.c.Shelf(out.ShelfID)
	assert.True(t, live)

	h.advance(time.Millisecond)
	_, live = h.c.Shelf(out.ShelfID)
	assert.False(t, live, "destroyed at the short session timeout")

	calls := h.windows.Calls()
	assert.Equal(t, []string{"create:0", "hide:" + out.ShelfID, "destroy:" + out.ShelfID}, calls)
	assert.Equal(t, []events.Kind{
		events.DragStarted, events.ShelfCreated, events.DragEnded,
		events.ShelfAutoHidden, events.ShelfDestroyed,
	}, h.kinds())
	assert.Equal(t, dragstate.Idle, h.c.Status().State)
}

func TestCoordinator_DropRacingDragEndKeepsShelf(t *testing.T) {
	h := newHarness(t, nil)
	items, paths := threeFiles(t)
	h.c.OnDragStart(items)
	out, _ := h.c.OnShakeEvent(shakeAt)

	h.c.OnDragEnd()
	h.advance(50 * time.Millisecond)
	_, err := h.c.OnFilesDropped(out.ShelfID, paths[:1])
	require.NoError(t, err)

	h.advance(10 * time.Second)
	shelf, live := h.c.Shelf(out.ShelfID)
	require.True(t, live)
	assert.True(t, shelf.Pinned)
	assert.Zero(t, h.windows.CountCalls("destroy"))
}

func TestCoordinator_NeverDestroysDuringDrop(t *testing.T) {
	h := newHarness(t, nil)
	items, paths := threeFiles(t)
	h.c.OnDragStart(items)
	out, _ := h.c.OnShakeEvent(shakeAt)
	h.c.OnDragEnd()
	h.advance(200 * time.Millisecond) // past the drop-protection reset

	require.NoError(t, h.c.OnDropStart(out.ShelfID))
	assert.True(t, h.c.Status().Context.DropInProgress)
	assert.ErrorIs(t, h.c.Close(out.ShelfID), ErrShelfBusy)

	for i := 0; i < 20; i++ {
		h.advance(time.Second)
	}
	assert.Zero(t, h.windows.CountCalls("destroy"))
	assert.Greater(t, h.c.Status().Scheduler.Rescheduled, uint64(0))

	_, err := h.c.OnFilesDropped(out.ShelfID, paths)
	require.NoError(t, err)
	assert.False(t, h.c.Status().Context.DropInProgress)
	h.advance(time.Minute)
	assert.Zero(t, h.windows.CountCalls("destroy"))
}

func TestCoordinator_DropCancelsTimerBeforeItemIsVisible(t *testing.T) {
	h := newHarness(t, nil)
	items, paths := threeFiles(t)
	h.c.OnDragStart(items)
	out, _ := h.c.OnShakeEvent(shakeAt)
	require.True(t, h.c.sched.Pending(out.ShelfID))

	var pendingAtAdd []bool
	h.windows.OnAdd(func(id string, item Item) {
		// Runs under the coordinator lock, on the calling goroutine.
		pendingAtAdd = append(pendingAtAdd, h.c.sched.Pending(id))
	})

	_, err := h.c.OnFilesDropped(out.ShelfID, paths)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false}, pendingAtAdd)
}

func TestCoordinator_AutoHideToggle(t *testing.T) {
	h := newHarness(t, nil)
	items, _ := threeFiles(t)

	var ids []string
	for i := 0; i < 3; i++ {
		h.c.OnDragStart(items)
		out, err := h.c.OnShakeEvent(shakeAt)
		require.NoError(t, err, "session %d", i)
		require.True(t, out.Created)
		ids = append(ids, out.ShelfID)
		h.c.OnDragEnd()
	}
	assert.Len(t, h.c.Status().Pending, 3)

	off := config.DefaultSettings()
	off.AutoHideEmpty = config.Bool(false)
	h.c.ApplySettings(off)
	assert.Empty(t, h.c.Status().Pending)
	assert.False(t, h.c.Status().AutoHide)

	h.advance(time.Minute)
	assert.Len(t, h.c.Shelves(), 3, "nothing is hidden while auto-hide is off")

	h.c.ApplySettings(config.DefaultSettings())
	assert.ElementsMatch(t, ids, h.c.Status().Pending)
}

func TestCoordinator_RemovePinClose(t *testing.T) {
	h := newHarness(t, nil)
	items, paths := threeFiles(t)
	h.c.OnDragStart(items)
	out, _ := h.c.OnShakeEvent(shakeAt)
	added, err := h.c.OnFilesDropped(out.ShelfID, paths[:1])
	require.NoError(t, err)
	require.Len(t, added, 1)

	assert.ErrorIs(t, h.c.RemoveItem(out.ShelfID, "nope"), ErrItemNotFound)
	assert.ErrorIs(t, h.c.RemoveItem("nope", added[0].ID), ErrShelfNotFound)

	require.NoError(t, h.c.RemoveItem(out.ShelfID, added[0].ID))
	assert.NotContains(t, h.c.Status().Pending, out.ShelfID, "pinned shelf stays")

	require.NoError(t, h.c.SetPinned(out.ShelfID, false))
	assert.Contains(t, h.c.Status().Pending, out.ShelfID, "unpinned empty shelf is scheduled")

	require.NoError(t, h.c.SetPinned(out.ShelfID, true))
	assert.NotContains(t, h.c.Status().Pending, out.ShelfID)

	require.NoError(t, h.c.Close(out.ShelfID))
	assert.Empty(t, h.c.Shelves())
	assert.ErrorIs(t, h.c.Close(out.ShelfID), ErrShelfNotFound)

	kinds := h.kinds()
	assert.Equal(t, events.ShelfItemRemoved, kinds[len(kinds)-2])
	assert.Equal(t, events.ShelfDestroyed, kinds[len(kinds)-1])
}

func TestCoordinator_UnknownShelf(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.c.OnFilesDropped("missing", []string{"/tmp/x"})
	assert.ErrorIs(t, err, ErrShelfNotFound)
	assert.ErrorIs(t, h.c.OnDropStart("missing"), ErrShelfNotFound)
	assert.ErrorIs(t, h.c.OnDropEnd("missing"), ErrShelfNotFound)
	assert.ErrorIs(t, h.c.SetPinned("missing", true), ErrShelfNotFound)
}

func TestCoordinator_StopCancelsTimersThenClearsSession(t *testing.T) {
	h := newHarness(t, nil)
	items, _ := threeFiles(t)
	h.c.OnDragStart(items)
	out, _ := h.c.OnShakeEvent(shakeAt)

	h.c.Stop()
	st := h.c.Status()
	assert.Empty(t, st.Pending)
	assert.Nil(t, st.Session)
	assert.Equal(t, dragstate.Idle, st.State)
	_, ok := h.c.NextDeadline()
	assert.False(t, ok)

	h.advance(time.Hour)
	_, live := h.c.Shelf(out.ShelfID)
	assert.True(t, live, "no timer fires after stop")
}

func TestCoordinator_DraggingWithoutStartOpensSession(t *testing.T) {
	h := newHarness(t, nil)
	items, _ := threeFiles(t)

	assert.True(t, h.c.OnDragging(items))
	assert.True(t, h.c.DragActive())
	assert.False(t, h.c.OnDragging(items[:1]))
	assert.Len(t, h.c.Status().Session.Items, 1)
}
