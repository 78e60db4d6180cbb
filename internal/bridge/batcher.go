package bridge

import (
	"time"

	"github.com/banshee-data/shelfd/internal/pointer"
)

// BatcherConfig controls how drained samples are coalesced.
type BatcherConfig struct {
	MaxSamples int           // emit once this many samples are pending
	Interval   time.Duration // emit once the pending window spans this long
	DedupePx   float64       // drop samples closer than this to the last kept one
}

// DefaultBatcherConfig returns 10 samples / 33ms / 1px.
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		MaxSamples: 10,
		Interval:   33 * time.Millisecond,
		DedupePx:   1,
	}
}

// BatcherStats counts what the batcher did with its input.
type BatcherStats struct {
	Accepted uint64 `json:"accepted"`
	Deduped  uint64 `json:"deduped"`
	Batches  uint64 `json:"batches"`
}

// Batcher coalesces samples on the consumer side. It is not safe for
// concurrent use.
type Batcher struct {
	cfg       BatcherConfig
	pending   []pointer.Sample
	firstAt   time.Time // wall time the oldest pending sample arrived
	last      pointer.Sample
	hasLast   bool
	stats     BatcherStats
	latest    pointer.Sample
	hasLatest bool
}

// NewBatcher creates a Batcher, filling zero fields with defaults.
func NewBatcher(cfg BatcherConfig) *Batcher {
	b := &Batcher{}
	b.Configure(cfg)
	return b
}

// Configure applies new batching parameters. Pending samples are kept.
func (b *Batcher) Configure(cfg BatcherConfig) {
	def := DefaultBatcherConfig()
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DedupePx < 0 {
		cfg.DedupePx = 0
	}
	b.cfg = cfg
	if cap(b.pending) < cfg.MaxSamples {
		grown := make([]pointer.Sample, len(b.pending), cfg.MaxSamples)
		copy(grown, b.pending)
		b.pending = grown
	}
}

// Add records s, which arrived at wall time at. The newest sample is always
// available from Latest regardless of dedupe. A batch is returned when the
// count or time threshold is reached.
func (b *Batcher) Add(s pointer.Sample, at time.Time) (pointer.Batch, bool) {
	b.latest, b.hasLatest = s, true

	if b.hasLast && s.LeftButtonDown == b.last.LeftButtonDown && b.last.DistanceTo(s) < b.cfg.DedupePx {
		b.stats.Deduped++
		return pointer.Batch{}, false
	}
	b.last, b.hasLast = s, true
	b.stats.Accepted++

	if len(b.pending) == 0 {
		b.firstAt = at
	}
	b.pending = append(b.pending, s)

	span := time.Duration(s.TimestampMs-b.pending[0].TimestampMs) * time.Millisecond
	if len(b.pending) >= b.cfg.MaxSamples || span >= b.cfg.Interval {
		return b.Flush()
	}
	return pointer.Batch{}, false
}

// Latest returns the most recent sample seen, including deduplicated ones.
func (b *Batcher) Latest() (pointer.Sample, bool) {
	return b.latest, b.hasLatest
}

// FlushStale emits the pending batch if its oldest sample arrived at least
// Interval before now. The consumer calls it from its flush tick so a
// partially filled batch is not held when the cursor stops.
func (b *Batcher) FlushStale(now time.Time) (pointer.Batch, bool) {
	if len(b.pending) == 0 || now.Sub(b.firstAt) < b.cfg.Interval {
		return pointer.Batch{}, false
	}
	return b.Flush()
}

// Flush emits whatever is pending.
func (b *Batcher) Flush() (pointer.Batch, bool) {
	if len(b.pending) == 0 {
		return pointer.Batch{}, false
	}
	samples := make([]pointer.Sample, len(b.pending))
	copy(samples, b.pending)
	b.pending = b.pending[:0]
	b.stats.Batches++
	return pointer.NewBatch(samples), true
}

// Pending reports how many samples are waiting for the next batch.
func (b *Batcher) Pending() int {
	return len(b.pending)
}

// Discard drops pending samples and forgets the dedupe anchor.
func (b *Batcher) Discard() int {
	n := len(b.pending)
	b.pending = b.pending[:0]
	b.hasLast = false
	return n
}

// Stats returns the batcher counters.
func (b *Batcher) Stats() BatcherStats {
	return b.stats
}
