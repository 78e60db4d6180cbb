// Package engine runs the consumer loop. It drains the bridge, batches
// samples, feeds the shake detector and drives the shelf coordinator and its
// auto-hide deadlines from a single goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/shelfd/internal/bridge"
	"github.com/banshee-data/shelfd/internal/config"
	"github.com/banshee-data/shelfd/internal/events"
	"github.com/banshee-data/shelfd/internal/health"
	"github.com/banshee-data/shelfd/internal/monitoring"
	"github.com/banshee-data/shelfd/internal/pointer"
	"github.com/banshee-data/shelfd/internal/shake"
	"github.com/banshee-data/shelfd/internal/shelf"
	"github.com/banshee-data/shelfd/internal/source"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

// ErrStopped is returned once the engine has been stopped.
var ErrStopped = errors.New("engine stopped")

// Options configures an Engine. Zero fields get working defaults.
type Options struct {
	Source  source.Source
	Clock   timeutil.Clock
	Store   *config.Store
	Windows shelf.Windows
	Router  *events.Router
	Health  *health.Monitor
	Bridge  bridge.Config
	// TraceSize bounds the recent-sample trace kept for debugging.
	TraceSize int
}

// Stats is a consumer-side snapshot.
type Stats struct {
	Iterations  uint64              `json:"iterations"`
	Entries     uint64              `json:"entries"`
	Shakes      uint64              `json:"shakes"`
	Evaluations uint64              `json:"evaluations"`
	NativeErrs  uint64              `json:"native_errors"`
	Bridge      bridge.Stats        `json:"bridge"`
	Batcher     bridge.BatcherStats `json:"batcher"`
	Detecting   bool                `json:"detecting"`
}

// Engine owns every component above the bridge. Only the Run goroutine
// touches the batcher and detector; other goroutines reach them via Do.
type Engine struct {
	clock    timeutil.Clock
	src      source.Source
	store    *config.Store
	router   *events.Router
	health   *health.Monitor
	bridge   *bridge.Bridge
	batcher  *bridge.Batcher
	detector *shake.Detector
	coord    *shelf.Coordinator
	trace    *Trace

	cmds         chan func()
	settingsWake chan struct{}
	nextSettings atomic.Pointer[config.Settings]
	settingsSub  *config.Subscription
	interval     time.Duration

	mu      sync.Mutex
	started bool
	running bool
	stopped bool
	quit    chan struct{}
	done    chan struct{}

	stats Stats
	buf   []bridge.Entry
}

// New builds an engine. Nothing runs until Start and Run.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Source == nil {
		opts.Source = source.DisabledSource{Reason: "no source configured"}
	}
	if opts.Store == nil {
		opts.Store = config.NewStore(config.DefaultSettings())
	}
	if opts.Router == nil {
		opts.Router = events.NewRouter(opts.Clock)
	}
	if opts.Health == nil {
		opts.Health = health.NewMonitor(opts.Clock, health.DefaultThresholds())
	}

	if opts.Bridge.Clock == nil {
		opts.Bridge.Clock = opts.Clock
	}

	settings := opts.Store.Current()
	e := &Engine{
		clock:        opts.Clock,
		src:          opts.Source,
		store:        opts.Store,
		router:       opts.Router,
		health:       opts.Health,
		bridge:       bridge.New(opts.Bridge),
		batcher:      bridge.NewBatcher(BatcherConfig(settings)),
		detector:     shake.NewDetector(DetectorConfig(settings)),
		trace:        NewTrace(opts.TraceSize),
		cmds:         make(chan func()),
		settingsWake: make(chan struct{}, 1),
		interval:     settings.GetBatchInterval(),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	e.coord = shelf.NewCoordinator(shelf.Options{
		Windows:  opts.Windows,
		Clock:    opts.Clock,
		Router:   opts.Router,
		Settings: settings,
	})
	return e
}

// BatcherConfig maps settings onto the bridge batcher.
func BatcherConfig(s *config.Settings) bridge.BatcherConfig {
	return bridge.BatcherConfig{
		MaxSamples: s.GetBatchMaxSamples(),
		Interval:   s.GetBatchInterval(),
		DedupePx:   s.GetDedupePx(),
	}
}

// DetectorConfig maps settings onto the shake detector.
func DetectorConfig(s *config.Settings) shake.Config {
	cfg := shake.DefaultConfig()
	cfg.MinDirectionChanges = s.GetMinDirectionChanges()
	cfg.TimeWindow = s.GetTimeWindow()
	cfg.MinDistancePx = s.GetMinDistancePx()
	cfg.Debounce = s.GetDebounce()
	cfg.ReversalDot = s.GetReversalDot()
	cfg.IntensityRefVelocity = s.GetIntensityRefVelocity()
	return cfg
}

// Coordinator exposes the shelf coordinator for read-only snapshots.
func (e *Engine) Coordinator() *shelf.Coordinator { return e.coord }

// Router returns the domain event router.
func (e *Engine) Router() *events.Router { return e.router }

// Bridge returns the hand-off the source writes into.
func (e *Engine) Bridge() *bridge.Bridge { return e.bridge }

// Health returns the pipeline health monitor.
func (e *Engine) Health() *health.Monitor { return e.health }

// Start starts the native source and subscribes to settings changes. A
// source that cannot run is fatal: the returned error wraps
// source.ErrSourceUnavailable and nothing is left running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	e.bridge.Open()
	if err := e.src.Start(ctx, e.bridge); err != nil {
		e.bridge.Close()
		return fmt.Errorf("start %s: %w", e.src.Name(), err)
	}

	e.settingsSub = e.store.Subscribe("engine", func(_, next *config.Settings) {
		e.nextSettings.Store(next)
		select {
		case e.settingsWake <- struct{}{}:
		default:
		}
	})

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	monitoring.Logf("[engine] started with source %s", e.src.Name())
	return nil
}

// Run is the consumer loop. It returns nil after Stop, or ctx.Err() when the
// context ends first; in that case the caller still calls Stop.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrStopped
	}
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.running = true
	e.mu.Unlock()
	defer close(e.done)

	flush := e.clock.NewTicker(e.interval)
	defer flush.Stop()
	deadline := e.clock.NewTimer(time.Hour)
	deadline.Stop()
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.quit:
			return nil
		case <-e.bridge.Wake():
			e.drain()
		case now := <-flush.C():
			if b, ok := e.batcher.FlushStale(now); ok {
				e.feed(b)
			}
		case <-deadline.C():
			e.coord.Tick(e.clock.Now())
		case <-e.settingsWake:
			if s := e.nextSettings.Load(); s != nil {
				e.applySettings(s, flush)
			}
		case fn := <-e.cmds:
			fn()
		}
		e.rearm(deadline)
	}
}

func (e *Engine) rearm(t timeutil.Timer) {
	t.Stop()
	next, ok := e.coord.NextDeadline()
	if !ok {
		return
	}
	d := next.Sub(e.clock.Now())
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

// Do runs fn on the consumer goroutine and waits for it to finish.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case e.cmds <- wrapped:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) drain() {
	started := e.clock.Now()
	e.buf = e.bridge.Drain(e.buf[:0])
	if len(e.buf) == 0 {
		return
	}
	e.stats.Iterations++
	e.stats.Entries += uint64(len(e.buf))

	for _, en := range e.buf {
		switch en.Kind {
		case bridge.KindPosition:
			e.trace.AddSample(en.Sample)
			if b, ok := e.batcher.Add(en.Sample, started); ok {
				e.feed(b)
			}
		case bridge.KindDragStart:
			e.flushPending()
			if _, ok := e.coord.OnDragStart(en.Items); ok {
				e.detector.Start()
				e.health.SetDragging(true)
			}
		case bridge.KindDragging:
			if e.coord.OnDragging(en.Items) {
				e.detector.Start()
				e.health.SetDragging(true)
			}
		case bridge.KindDragEnd:
			e.flushPending()
			e.detector.Stop()
			e.coord.OnDragEnd()
			e.health.SetDragging(false)
		case bridge.KindError:
			e.stats.NativeErrs++
			e.health.Error()
			monitoring.Logf("[engine] %v", en.Err)
			e.router.Publish(events.Event{Kind: events.NativeError, Message: en.Err.Error()})
		}
	}
	e.health.Activity(len(e.buf))
	// The oldest entry waited longest in the hand-off.
	e.health.Latency(e.clock.Since(e.buf[0].Enqueued))
}

// flushPending pushes a partial batch through before a drag boundary so
// samples are never evaluated against the wrong session.
func (e *Engine) flushPending() {
	if b, ok := e.batcher.Flush(); ok {
		e.feed(b)
	}
}

func (e *Engine) feed(b pointer.Batch) {
	ev, ok := e.detector.Feed(b)
	if !ok {
		return
	}
	e.stats.Shakes++
	e.trace.AddShake(ev)
	e.router.Publish(events.Event{Kind: events.ShakeDetected, Shake: &ev})

	out, err := e.coord.OnShakeEvent(ev)
	switch {
	case errors.Is(err, shelf.ErrShelfCreationFailed):
		monitoring.Logf("[engine] %v", err)
	case err != nil:
		monitoring.Debugf("[engine] shake ignored: %v", err)
	case out.Created:
		monitoring.Debugf("[engine] shake opened shelf %s (intensity %.2f)", out.ShelfID, ev.Intensity)
	}
}

func (e *Engine) applySettings(s *config.Settings, flush timeutil.Ticker) {
	e.batcher.Configure(BatcherConfig(s))
	e.detector.Configure(DetectorConfig(s))
	e.coord.ApplySettings(s)
	if iv := s.GetBatchInterval(); iv != e.interval && iv > 0 {
		e.interval = iv
		flush.Reset(iv)
	}
	monitoring.Debugf("[engine] settings applied")
}

// Stop halts the source, discards in-flight input, cancels every auto-hide
// timer and clears session state, in that order. It is safe to call more
// than once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	started, running := e.started, e.running
	e.mu.Unlock()

	var srcErr error
	if started {
		srcErr = e.src.Stop()
		if e.settingsSub != nil {
			e.settingsSub.Unsubscribe()
		}
	}
	e.bridge.Close()

	close(e.quit)
	if running {
		<-e.done
	} else {
		close(e.done)
	}
	e.shutdown()
	monitoring.Logf("[engine] stopped")
	if srcErr != nil {
		return fmt.Errorf("stop %s: %w", e.src.Name(), srcErr)
	}
	return nil
}

// shutdown runs once the loop has exited.
func (e *Engine) shutdown() {
	if n := e.bridge.Discard(); n > 0 {
		monitoring.Debugf("[engine] discarded %d queued entries", n)
	}
	if n := e.batcher.Discard(); n > 0 {
		monitoring.Debugf("[engine] discarded %d batched samples", n)
	}
	e.detector.Stop()
	e.coord.Stop()
	e.health.SetDragging(false)
}

// Stats returns consumer counters, read on the consumer goroutine.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := e.Do(ctx, func() { st = e.snapshot() })
	return st, err
}

func (e *Engine) snapshot() Stats {
	st := e.stats
	st.Evaluations = e.detector.Evaluations()
	st.Bridge = e.bridge.Stats()
	st.Batcher = e.batcher.Stats()
	st.Detecting = e.detector.Running()
	return st
}

// TraceSnapshot returns the recent samples and shakes.
func (e *Engine) TraceSnapshot(ctx context.Context) (TraceData, error) {
	var td TraceData
	err := e.Do(ctx, func() { td = e.trace.Snapshot() })
	return td, err
}
