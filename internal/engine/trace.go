package engine

import (
	"github.com/banshee-data/shelfd/internal/pointer"
	"github.com/banshee-data/shelfd/internal/shake"
)

// DefaultTraceSize is the number of samples kept when TraceSize is unset.
const DefaultTraceSize = 600

// Trace keeps the most recent samples and shake events for the debug chart.
// It is owned by the consumer goroutine.
type Trace struct {
	samples []pointer.Sample
	head    int
	count   int
	shakes  []shake.Event
}

// TraceData is a copy of a Trace, oldest first.
type TraceData struct {
	Samples []pointer.Sample `json:"samples"`
	Shakes  []shake.Event    `json:"shakes"`
}

// NewTrace creates a trace holding up to size samples.
func NewTrace(size int) *Trace {
	if size <= 0 {
		size = DefaultTraceSize
	}
	return &Trace{samples: make([]pointer.Sample, size)}
}

// AddSample records s, overwriting the oldest sample when full.
func (t *Trace) AddSample(s pointer.Sample) {
	n := len(t.samples)
	if t.count == n {
		t.samples[t.head] = s
		t.head = (t.head + 1) % n
	} else {
		t.samples[(t.head+t.count)%n] = s
		t.count++
	}
	t.pruneShakes()
}

// AddShake records a detected shake.
func (t *Trace) AddShake(ev shake.Event) {
	t.shakes = append(t.shakes, ev)
	t.pruneShakes()
}

// pruneShakes drops shakes older than the oldest retained sample.
func (t *Trace) pruneShakes() {
	if t.count == 0 {
		return
	}
	oldest := t.samples[t.head].TimestampMs
	i := 0
	for i < len(t.shakes) && t.shakes[i].TimestampMs < oldest {
		i++
	}
	if i > 0 {
		t.shakes = append(t.shakes[:0], t.shakes[i:]...)
	}
}

// Snapshot copies the trace.
func (t *Trace) Snapshot() TraceData {
	out := TraceData{
		Samples: make([]pointer.Sample, 0, t.count),
		Shakes:  append([]shake.Event(nil), t.shakes...),
	}
	for i := 0; i < t.count; i++ {
		out.Samples = append(out.Samples, t.samples[(t.head+i)%len(t.samples)])
	}
	return out
}
