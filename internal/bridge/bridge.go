// Package bridge is the only crossing point between the native event source
// and the consumer loop. Native callbacks may run on any goroutine or foreign
// thread; they enqueue into a bounded buffer and signal a one-slot wake
// channel, and never wait for the consumer. The consumer drains the buffer
// in emission order.
package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/shelfd/internal/monitoring"
	"github.com/banshee-data/shelfd/internal/pointer"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

// Kind identifies the native callback an Entry came from.
type Kind int

const (
	KindPosition Kind = iota
	KindDragStart
	KindDragging
	KindDragEnd
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindPosition:
		return "position"
	case KindDragStart:
		return "drag-start"
	case KindDragging:
		return "dragging"
	case KindDragEnd:
		return "drag-end"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Entry is one queued native callback.
type Entry struct {
	Seq      uint64
	Kind     Kind
	Sample   pointer.Sample
	Items    []pointer.Item
	Err      error
	Enqueued time.Time // when the callback handed it over
}

// CallbackError wraps an error reported through OnError. It is never fatal;
// tracking continues after it is logged.
type CallbackError struct {
	Err error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("native callback error: %v", e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// Config sizes the hand-off buffers.
type Config struct {
	SampleCapacity  int            // position samples held before the oldest is overwritten
	ControlCapacity int            // drag/error callbacks held before new ones are dropped
	Clock           timeutil.Clock // stamps Entry.Enqueued; nil uses the real clock
}

// DefaultConfig returns the buffer sizes used by the daemon.
func DefaultConfig() Config {
	return Config{
		SampleCapacity:  256,
		ControlCapacity: 64,
	}
}

// Stats are the bridge's lifetime counters.
type Stats struct {
	Received        uint64 `json:"received"`
	DroppedSamples  uint64 `json:"dropped_samples"`
	DroppedControls uint64 `json:"dropped_controls"`
	Drained         uint64 `json:"drained"`
	Discarded       uint64 `json:"discarded"`
}

// Bridge is a bounded, lossy, non-blocking hand-off. Position samples go to
// a ring that overwrites the oldest unread sample when full; control
// callbacks go to a separate queue so a sample flood cannot evict a drag
// start or end.
type Bridge struct {
	mu       sync.Mutex
	seq      uint64
	ring     []Entry
	head     int // index of the oldest sample
	count    int
	controls []Entry
	ctrlCap  int
	closed   bool
	clock    timeutil.Clock

	wake chan struct{}

	received        atomic.Uint64
	droppedSamples  atomic.Uint64
	droppedControls atomic.Uint64
	drained         atomic.Uint64
	discarded       atomic.Uint64
}

// New creates a Bridge, filling zero Config fields with defaults.
func New(cfg Config) *Bridge {
	def := DefaultConfig()
	if cfg.SampleCapacity <= 0 {
		cfg.SampleCapacity = def.SampleCapacity
	}
	if cfg.ControlCapacity <= 0 {
		cfg.ControlCapacity = def.ControlCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Bridge{
		clock:    cfg.Clock,
		ring:     make([]Entry, cfg.SampleCapacity),
		controls: make([]Entry, 0, cfg.ControlCapacity),
		ctrlCap:  cfg.ControlCapacity,
		wake:     make(chan struct{}, 1),
	}
}

// Wake is signalled whenever entries are available to Drain. A single
// signal may cover many entries.
func (b *Bridge) Wake() <-chan struct{} {
	return b.wake
}

func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// OnPosition enqueues a cursor sample.
func (b *Bridge) OnPosition(s pointer.Sample) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.seq++
	e := Entry{Seq: b.seq, Kind: KindPosition, Sample: s, Enqueued: b.clock.Now()}
	capacity := len(b.ring)
	if b.count == capacity {
		// Overwrite the oldest unread sample.
		b.ring[b.head] = e
		b.head = (b.head + 1) % capacity
		b.droppedSamples.Add(1)
	} else {
		b.ring[(b.head+b.count)%capacity] = e
		b.count++
	}
	b.mu.Unlock()

	b.received.Add(1)
	b.signal()
}

// OnDragStart enqueues the start of a native drag carrying items.
func (b *Bridge) OnDragStart(items []pointer.Item) {
	b.pushControl(Entry{Kind: KindDragStart, Items: cloneItems(items)})
}

// OnDragging enqueues an update of the items being dragged.
func (b *Bridge) OnDragging(items []pointer.Item) {
	b.pushControl(Entry{Kind: KindDragging, Items: cloneItems(items)})
}

// OnDragEnd enqueues the end of the native drag.
func (b *Bridge) OnDragEnd() {
	b.pushControl(Entry{Kind: KindDragEnd})
}

// OnError enqueues a non-fatal native error.
func (b *Bridge) OnError(err error) {
	if err == nil {
		return
	}
	b.pushControl(Entry{Kind: KindError, Err: &CallbackError{Err: err}})
}

func (b *Bridge) pushControl(e Entry) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.controls) >= b.ctrlCap {
		b.mu.Unlock()
		b.droppedControls.Add(1)
		monitoring.Debugf("[bridge] control queue full, dropped %s", e.Kind)
		return
	}
	b.seq++
	e.Seq = b.seq
	e.Enqueued = b.clock.Now()
	b.controls = append(b.controls, e)
	b.mu.Unlock()

	b.received.Add(1)
	b.signal()
}

// Drain appends every queued entry to dst in emission order and empties the
// buffer. It must only be called from the consumer.
func (b *Bridge) Drain(dst []Entry) []Entry {
	b.mu.Lock()
	samples := make([]Entry, 0, b.count)
	for i := 0; i < b.count; i++ {
		samples = append(samples, b.ring[(b.head+i)%len(b.ring)])
	}
	b.head, b.count = 0, 0
	controls := b.controls
	b.controls = make([]Entry, 0, b.ctrlCap)
	b.mu.Unlock()

	// Both queues are individually ordered by Seq; merge them.
	i, j := 0, 0
	for i < len(samples) || j < len(controls) {
		if j >= len(controls) || (i < len(samples) && samples[i].Seq < controls[j].Seq) {
			dst = append(dst, samples[i])
			i++
		} else {
			dst = append(dst, controls[j])
			j++
		}
	}
	b.drained.Add(uint64(len(samples) + len(controls)))
	return dst
}

// Discard drops everything queued and returns how many entries were lost.
func (b *Bridge) Discard() int {
	b.mu.Lock()
	n := b.count + len(b.controls)
	b.head, b.count = 0, 0
	b.controls = b.controls[:0]
	b.mu.Unlock()

	b.discarded.Add(uint64(n))
	select {
	case <-b.wake:
	default:
	}
	return n
}

// Close makes further callbacks no-ops. Queued entries stay until drained
// or discarded.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Open re-enables callbacks after Close.
func (b *Bridge) Open() {
	b.mu.Lock()
	b.closed = false
	b.mu.Unlock()
}

// Pending reports how many entries are queued.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count + len(b.controls)
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received:        b.received.Load(),
		DroppedSamples:  b.droppedSamples.Load(),
		DroppedControls: b.droppedControls.Load(),
		Drained:         b.drained.Load(),
		Discarded:       b.discarded.Load(),
	}
}

func cloneItems(items []pointer.Item) []pointer.Item {
	if items == nil {
		return nil
	}
	return append([]pointer.Item(nil), items...)
}
