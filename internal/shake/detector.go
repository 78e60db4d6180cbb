// Package shake recognises a rapid back-and-forth cursor gesture in a stream
// of pointer samples.
package shake

import (
	"math"
	"time"

	"github.com/banshee-data/shelfd/internal/monitoring"
	"github.com/banshee-data/shelfd/internal/pointer"
)

// Config holds the detector sensitivity. All values are tunable at runtime.
type Config struct {
	MinDirectionChanges  int           // reversals required in the window
	TimeWindow           time.Duration // how far back from the newest sample to look
	MinDistancePx        float64       // displacements shorter than this are noise
	Debounce             time.Duration // minimum spacing between emitted events
	ReversalDot          float64       // dot product below which a turn counts as a reversal
	BufferSize           int           // ring capacity in samples
	IntensityRefVelocity float64       // px/s treated as full-intensity speed
}

// DefaultConfig returns the daemon's default sensitivity.
func DefaultConfig() Config {
	return Config{
		MinDirectionChanges:  2,
		TimeWindow:           700 * time.Millisecond,
		MinDistancePx:        8,
		Debounce:             350 * time.Millisecond,
		ReversalDot:          0.3,
		BufferSize:           100,
		IntensityRefVelocity: 3000,
	}
}

// Event describes a recognised shake.
type Event struct {
	DirectionChanges int     `json:"direction_changes"`
	Distance         float64 `json:"distance"`  // path length over the window, px
	Velocity         float64 `json:"velocity"`  // peak instantaneous speed, px/s
	Intensity        float64 `json:"intensity"` // 0..1
	TimestampMs      int64   `json:"timestamp_ms"`
	X                float64 `json:"x"` // cursor at the detecting sample
	Y                float64 `json:"y"`
}

type vec struct{ x, y float64 }

// Detector evaluates each batch against a sliding time window. It only
// consumes input between Start and Stop. Not safe for concurrent use.
type Detector struct {
	cfg     Config
	ring    []pointer.Sample
	head    int
	count   int
	dirs    []vec // reused displacement pool
	running bool

	lastEmitMs int64
	emitted    bool
	evaluated  uint64
}

// NewDetector creates a stopped detector.
func NewDetector(cfg Config) *Detector {
	d := &Detector{}
	d.Configure(cfg)
	return d
}

// Configure applies new sensitivity. Changing BufferSize resets the buffer.
func (d *Detector) Configure(cfg Config) {
	def := DefaultConfig()
	if cfg.MinDirectionChanges <= 0 {
		cfg.MinDirectionChanges = def.MinDirectionChanges
	}
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = def.TimeWindow
	}
	if cfg.MinDistancePx < 0 {
		cfg.MinDistancePx = 0
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if cfg.BufferSize < 4 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.IntensityRefVelocity <= 0 {
		cfg.IntensityRefVelocity = def.IntensityRefVelocity
	}
	if cfg.BufferSize != len(d.ring) {
		d.ring = make([]pointer.Sample, cfg.BufferSize)
		d.dirs = make([]vec, 0, cfg.BufferSize)
		d.head, d.count = 0, 0
	}
	d.cfg = cfg
}

// Config returns the active configuration.
func (d *Detector) Config() Config { return d.cfg }

// Start enables evaluation.
func (d *Detector) Start() {
	d.running = true
}

// Stop disables evaluation and clears buffered samples. The debounce
// reference survives so a quick stop/start cannot double-fire.
func (d *Detector) Stop() {
	d.running = false
	d.head, d.count = 0, 0
}

// Running reports whether the detector is consuming input.
func (d *Detector) Running() bool { return d.running }

// Reset clears all state including the debounce reference.
func (d *Detector) Reset() {
	d.head, d.count = 0, 0
	d.emitted = false
	d.lastEmitMs = 0
}

// Evaluations counts how many windows have been scored.
func (d *Detector) Evaluations() uint64 { return d.evaluated }

func (d *Detector) push(s pointer.Sample) {
	if d.count > 0 && s.TimestampMs < d.at(d.count-1).TimestampMs {
		// Out-of-order samples would corrupt the window.
		return
	}
	if d.count == len(d.ring) {
		d.ring[d.head] = s
		d.head = (d.head + 1) % len(d.ring)
		return
	}
	d.ring[(d.head+d.count)%len(d.ring)] = s
	d.count++
}

// at returns the i-th oldest buffered sample.
func (d *Detector) at(i int) pointer.Sample {
	return d.ring[(d.head+i)%len(d.ring)]
}

// Feed buffers the batch and evaluates the window once.
func (d *Detector) Feed(batch pointer.Batch) (Event, bool) {
	if !d.running {
		return Event{}, false
	}
	if len(batch.Samples) > 0 && d.emitted && batch.Samples[0].TimestampMs < d.lastEmitMs {
		// The source clock restarted; the old debounce reference no longer applies.
		monitoring.Debugf("[shake] timestamp %d before last event %d, resetting", batch.Samples[0].TimestampMs, d.lastEmitMs)
		d.Reset()
	}
	for _, s := range batch.Samples {
		d.push(s)
	}
	return d.evaluate()
}

func (d *Detector) evaluate() (Event, bool) {
	if d.count == 0 {
		return Event{}, false
	}
	newest := d.at(d.count - 1)
	cutoff := newest.TimestampMs - d.cfg.TimeWindow.Milliseconds()

	first := d.count - 1
	for first > 0 && d.at(first-1).TimestampMs >= cutoff {
		first--
	}
	if d.count-first < 4 {
		return Event{}, false
	}
	d.evaluated++

	// Displacements shorter than the noise floor do not move the anchor, so
	// slow drift still accumulates into a measurable step.
	d.dirs = d.dirs[:0]
	var distance, peak float64
	anchor := d.at(first)
	for i := first + 1; i < d.count; i++ {
		s := d.at(i)
		dx, dy := s.X-anchor.X, s.Y-anchor.Y
		l := math.Hypot(dx, dy)
		if l < d.cfg.MinDistancePx || l == 0 {
			continue
		}
		distance += l
		if dt := s.TimestampMs - anchor.TimestampMs; dt > 0 {
			if v := l / float64(dt) * 1000; v > peak {
				peak = v
			}
		}
		d.dirs = append(d.dirs, vec{dx / l, dy / l})
		anchor = s
	}

	changes := 0
	for i := 1; i < len(d.dirs); i++ {
		dot := d.dirs[i-1].x*d.dirs[i].x + d.dirs[i-1].y*d.dirs[i].y
		if dot < d.cfg.ReversalDot {
			changes++
		}
	}

	if changes < d.cfg.MinDirectionChanges {
		return Event{}, false
	}
	if d.emitted && newest.TimestampMs-d.lastEmitMs < d.cfg.Debounce.Milliseconds() {
		monitoring.Debugf("[shake] suppressed by debounce: changes=%d at=%d last=%d", changes, newest.TimestampMs, d.lastEmitMs)
		return Event{}, false
	}

	ev := Event{
		DirectionChanges: changes,
		Distance:         distance,
		Velocity:         peak,
		Intensity:        d.intensity(changes, peak),
		TimestampMs:      newest.TimestampMs,
		X:                newest.X,
		Y:                newest.Y,
	}
	d.emitted = true
	d.lastEmitMs = newest.TimestampMs

	// Keep only the newest sample so the same reversals are not counted
	// again by the next evaluation.
	d.head = (d.head + d.count - 1) % len(d.ring)
	d.count = 1

	monitoring.Debugf("[shake] detected changes=%d distance=%.1f velocity=%.1f", ev.DirectionChanges, ev.Distance, ev.Velocity)
	return ev, true
}

func (d *Detector) intensity(changes int, velocity float64) float64 {
	c := float64(changes) / float64(2*d.cfg.MinDirectionChanges)
	v := velocity / d.cfg.IntensityRefVelocity
	return 0.5*math.Min(1, c) + 0.5*math.Min(1, v)
}
