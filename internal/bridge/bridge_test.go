package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shelfd/internal/pointer"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

func kinds(entries []Entry) []Kind {
	out := make([]Kind, len(entries))
	for i, e := range entries {
		out[i] = e.Kind
	}
	return out
}

func TestBridge_DrainPreservesEmissionOrder(t *testing.T) {
	b := New(Config{})
	items := []pointer.Item{{Name: "a.txt", Path: "/tmp/a.txt", Kind: pointer.KindFile}}

	b.OnPosition(pointer.Sample{X: 1, TimestampMs: 1})
	b.OnDragStart(items)
	b.OnPosition(pointer.Sample{X: 2, TimestampMs: 2})
	b.OnDragging(items)
	b.OnPosition(pointer.Sample{X: 3, TimestampMs: 3})
	b.OnDragEnd()

	select {
	case <-b.Wake():
	default:
		t.Fatal("expected wake signal")
	}

	got := b.Drain(nil)
	assert.Equal(t, []Kind{KindPosition, KindDragStart, KindPosition, KindDragging, KindPosition, KindDragEnd}, kinds(got))
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Seq, got[i].Seq)
	}
	assert.Equal(t, 0, b.Pending())
	assert.Equal(t, uint64(6), b.Stats().Drained)
}

func TestBridge_EntriesStampedAtEnqueue(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	b := New(Config{Clock: clock})

	b.OnPosition(pointer.Sample{X: 1, TimestampMs: 1})
	clock.Advance(20 * time.Millisecond)
	b.OnDragEnd()
	clock.Advance(30 * time.Millisecond)

	got := b.Drain(nil)
	require.Len(t, got, 2)
	assert.Equal(t, time.Unix(100, 0), got[0].Enqueued)
	assert.Equal(t, time.Unix(100, 0).Add(20*time.Millisecond), got[1].Enqueued)
	assert.Equal(t, 50*time.Millisecond, clock.Since(got[0].Enqueued))
}

func TestBridge_SaturationOverwritesOldestSample(t *testing.T) {
	b := New(Config{SampleCapacity: 4, ControlCapacity: 4})
	for i := 1; i <= 6; i++ {
		b.OnPosition(pointer.Sample{X: float64(i), TimestampMs: int64(i)})
	}

	got := b.Drain(nil)
	require.Len(t, got, 4)
	xs := []float64{got[0].Sample.X, got[1].Sample.X, got[2].Sample.X, got[3].Sample.X}
	assert.Equal(t, []float64{3, 4, 5, 6}, xs)

	stats := b.Stats()
	assert.Equal(t, uint64(6), stats.Received)
	assert.Equal(t, uint64(2), stats.DroppedSamples)
}

func TestBridge_SampleFloodDoesNotEvictControls(t *testing.T) {
	b := New(Config{SampleCapacity: 2, ControlCapacity: 4})
	b.OnDragStart(nil)
	for i := 0; i < 10; i++ {
		b.OnPosition(pointer.Sample{X: float64(i), TimestampMs: int64(i)})
	}
	b.OnDragEnd()

	got := b.Drain(nil)
	assert.Equal(t, []Kind{KindDragStart, KindPosition, KindPosition, KindDragEnd}, kinds(got))
}

func TestBridge_ControlOverflowDropsNewest(t *testing.T) {
	b := New(Config{SampleCapacity: 4, ControlCapacity: 2})
	b.OnDragStart(nil)
	b.OnDragging(nil)
	b.OnDragEnd()

	got := b.Drain(nil)
	assert.Equal(t, []Kind{KindDragStart, KindDragging}, kinds(got))
	assert.Equal(t, uint64(1), b.Stats().DroppedControls)
}

func TestBridge_OnErrorWrapsCallbackError(t *testing.T) {
	b := New(Config{})
	cause := errors.New("tap disabled by timeout")
	b.OnError(cause)
	b.OnError(nil)

	got := b.Drain(nil)
	require.Len(t, got, 1)
	var cbErr *CallbackError
	require.ErrorAs(t, got[0].Err, &cbErr)
	assert.ErrorIs(t, got[0].Err, cause)
}

func TestBridge_ProducersNeverBlock(t *testing.T) {
	b := New(Config{SampleCapacity: 8, ControlCapacity: 8})

	// Nobody drains; producers must still finish.
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10000; i++ {
				b.OnPosition(pointer.Sample{X: float64(i), TimestampMs: int64(i)})
				if i%1000 == 0 {
					b.OnDragging(nil)
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("producers blocked on a full bridge")
	}

	assert.LessOrEqual(t, b.Pending(), 16)
	assert.Greater(t, b.Stats().DroppedSamples, uint64(0))
}

func TestBridge_DiscardAndClose(t *testing.T) {
	b := New(Config{})
	b.OnPosition(pointer.Sample{X: 1})
	b.OnDragStart(nil)

	assert.Equal(t, 2, b.Discard())
	assert.Empty(t, b.Drain(nil))
	select {
	case <-b.Wake():
		t.Fatal("wake signal should be cleared by Discard")
	default:
	}

	b.Close()
	b.OnPosition(pointer.Sample{X: 2})
	b.OnDragEnd()
	assert.Equal(t, 0, b.Pending())

	b.Open()
	b.OnDragEnd()
	assert.Equal(t, 1, b.Pending())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "drag-start", KindDragStart.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
