// Package health tracks liveness of the pointer pipeline.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/shelfd/internal/monitoring"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

// Status is an overall health level, ordered from best to worst.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Thresholds for status classification.
type Thresholds struct {
	IdleTimeout     time.Duration
	CriticalTimeout time.Duration
	HighLatency     time.Duration
	CriticalLatency time.Duration
	DegradedErrRate float64
	UnhealthyRate   float64
}

// DefaultThresholds returns 5s/30s idle, 100ms/500ms latency, 5%/10% errors.
func DefaultThresholds() Thresholds {
	return Thresholds{
		IdleTimeout:     5 * time.Second,
		CriticalTimeout: 30 * time.Second,
		HighLatency:     100 * time.Millisecond,
		CriticalLatency: 500 * time.Millisecond,
		DegradedErrRate: 0.05,
		UnhealthyRate:   0.10,
	}
}

// Snapshot is a point-in-time view of the monitor.
type Snapshot struct {
	Status       Status    `json:"status"`
	LastActivity time.Time `json:"last_activity,omitzero"`
	Processed    uint64    `json:"processed"`
	Errors       uint64    `json:"errors"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	Dragging     bool      `json:"dragging"`
	Reason       string    `json:"reason,omitempty"`
}

// Monitor is safe for concurrent use.
type Monitor struct {
	clock timeutil.Clock
	th    Thresholds

	mu           sync.Mutex
	lastActivity time.Time
	processed    uint64
	errors       uint64
	latencyTotal time.Duration
	latencyCount uint64
	dragging     bool
	last         Status
	onChange     func(prev, next Status)
}

// NewMonitor creates a monitor. A nil clock uses the real clock.
func NewMonitor(clock timeutil.Clock, th Thresholds) *Monitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Monitor{clock: clock, th: th}
}

// OnChange registers a callback run by Check when the status changes.
func (m *Monitor) OnChange(fn func(prev, next Status)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Activity records n processed entries.
func (m *Monitor) Activity(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.lastActivity = m.clock.Now()
	m.processed += uint64(n)
	m.mu.Unlock()
}

// Error records a failure.
func (m *Monitor) Error() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// Latency records one hand-off latency measurement.
func (m *Monitor) Latency(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	m.latencyTotal += d
	m.latencyCount++
	m.mu.Unlock()
}

// SetDragging toggles whether idle time counts against health. Starting a
// drag resets the activity clock.
func (m *Monitor) SetDragging(on bool) {
	m.mu.Lock()
	if on && !m.dragging {
		m.lastActivity = m.clock.Now()
	}
	m.dragging = on
	m.mu.Unlock()
}

// Snapshot computes the current status.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	snap := Snapshot{
		LastActivity: m.lastActivity,
		Processed:    m.processed,
		Errors:       m.errors,
		Dragging:     m.dragging,
	}
	var avg time.Duration
	if m.latencyCount > 0 {
		avg = m.latencyTotal / time.Duration(m.latencyCount)
		snap.AvgLatencyMs = float64(avg) / float64(time.Millisecond)
	}

	if m.dragging && !m.lastActivity.IsZero() {
		idle := m.clock.Since(m.lastActivity)
		switch {
		case idle > m.th.CriticalTimeout:
			snap.Status, snap.Reason = StatusCritical, fmt.Sprintf("no input for %s", idle.Round(time.Second))
			return snap
		case idle > m.th.IdleTimeout:
			snap.Status, snap.Reason = StatusUnhealthy, fmt.Sprintf("no input for %s", idle.Round(time.Second))
			return snap
		}
	}
	switch {
	case avg > m.th.CriticalLatency:
		snap.Status, snap.Reason = StatusCritical, "hand-off latency "+avg.String()
		return snap
	case avg > m.th.HighLatency:
		snap.Status, snap.Reason = StatusDegraded, "hand-off latency "+avg.String()
		return snap
	}
	if m.processed > 0 {
		rate := float64(m.errors) / float64(m.processed)
		switch {
		case rate > m.th.UnhealthyRate:
			snap.Status, snap.Reason = StatusUnhealthy, fmt.Sprintf("error rate %.1f%%", rate*100)
		case rate > m.th.DegradedErrRate:
			snap.Status, snap.Reason = StatusDegraded, fmt.Sprintf("error rate %.1f%%", rate*100)
		}
	}
	return snap
}

// Check evaluates the status and logs a transition. Entering Critical
// resets the error and latency counters so the monitor can recover.
func (m *Monitor) Check() Snapshot {
	m.mu.Lock()
	snap := m.snapshotLocked()
	prev := m.last
	m.last = snap.Status
	fn := m.onChange
	if snap.Status == StatusCritical && prev != StatusCritical {
		m.errors = 0
		m.latencyTotal = 0
		m.latencyCount = 0
	}
	m.mu.Unlock()

	if prev != snap.Status {
		monitoring.Logf("[health] %s -> %s %s", prev, snap.Status, snap.Reason)
		if fn != nil {
			fn(prev, snap.Status)
		}
	}
	return snap
}

// Run calls Check every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.Check()
		}
	}
}
