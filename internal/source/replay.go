package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/shelfd/internal/monitoring"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

// DefaultLoopGap separates the last sample of one looped pass from the first
// of the next. It exceeds the default debounce and time window so passes
// never share a gesture window.
const DefaultLoopGap = time.Second

// ReplaySource plays back a recorded line-protocol fixture. Position lines
// are paced by the gaps between their timestamps unless Fast is set.
//
// When looping, every pass after the first is shifted to start LoopGap after
// the previous pass ended, so timestamps keep increasing across passes.
type ReplaySource struct {
	name    string
	open    func() (io.ReadCloser, error)
	clock   timeutil.Clock
	single  bool
	Fast    bool
	Speed   float64 // playback multiplier; <= 0 means 1
	Loop    bool
	LoopGap time.Duration // zero uses DefaultLoopGap

	InferDrags bool // derive drag start/end from button state
	Heuristic  HeuristicConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewReplayFile replays the fixture at path.
func NewReplayFile(path string, clock timeutil.Clock) *ReplaySource {
	return &ReplaySource{
		name:  "replay:" + path,
		open:  func() (io.ReadCloser, error) { return os.Open(path) },
		clock: clockOrReal(clock),
	}
}

// NewReplayReader replays r once. Loop has no effect.
func NewReplayReader(name string, r io.Reader, clock timeutil.Clock) *ReplaySource {
	return &ReplaySource{
		name:   "replay:" + name,
		open:   func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
		clock:  clockOrReal(clock),
		single: true,
	}
}

func clockOrReal(c timeutil.Clock) timeutil.Clock {
	if c == nil {
		return timeutil.RealClock{}
	}
	return c
}

func (r *ReplaySource) Name() string { return r.name }

// Start opens the fixture and plays it on a new goroutine.
func (r *ReplaySource) Start(ctx context.Context, sink Sink) error {
	rc, err := r.open()
	if err != nil {
		code := CodeHookCreateFailed
		if errors.Is(err, os.ErrPermission) {
			code = CodePermissionDenied
		}
		return Unavailable(r.name, code, err)
	}
	if r.InferDrags {
		sink = NewDragHeuristic(sink, r.Heuristic)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.err = nil
	r.mu.Unlock()

	go func() {
		defer close(done)
		tl := &timeline{gap: r.loopGap().Milliseconds()}
		for {
			err := r.play(runCtx, rc, sink, tl)
			rc.Close()
			if err != nil || !r.Loop || r.single || runCtx.Err() != nil {
				r.mu.Lock()
				r.err = err
				r.mu.Unlock()
				return
			}
			tl.nextPass()
			if !r.Fast {
				r.clock.Sleep(time.Duration(float64(r.loopGap()) / r.speed()))
			}
			if rc, err = r.open(); err != nil {
				r.mu.Lock()
				r.err = err
				r.mu.Unlock()
				return
			}
		}
	}()
	return nil
}

// timeline rebases fixture timestamps so they never decrease across passes.
type timeline struct {
	gap     int64 // ms between passes
	offset  int64
	last    int64 // last timestamp delivered
	emitted bool
	rebase  bool // next position starts a new pass
}

func (t *timeline) nextPass() { t.rebase = t.emitted }

func (t *timeline) shift(ts int64) int64 {
	if t.rebase {
		t.offset = t.last + t.gap - ts
		t.rebase = false
	}
	out := ts + t.offset
	t.last, t.emitted = out, true
	return out
}

func (r *ReplaySource) loopGap() time.Duration {
	if r.LoopGap > 0 {
		return r.LoopGap
	}
	return DefaultLoopGap
}

func (r *ReplaySource) speed() float64 {
	if r.Speed <= 0 {
		return 1
	}
	return r.Speed
}

func (r *ReplaySource) play(ctx context.Context, rd io.Reader, sink Sink, tl *timeline) error {
	speed := r.speed()
	scan := bufio.NewScanner(rd)
	var last int64
	haveLast := false
	lineNo := 0
	for scan.Scan() {
		lineNo++
		if ctx.Err() != nil {
			return nil
		}
		msg, err := ParseLine(scan.Text())
		if errors.Is(err, ErrSkipLine) {
			continue
		}
		if err != nil {
			monitoring.Logf("[source] %s line %d: %v", r.name, lineNo, err)
			continue
		}
		if msg.Type == MsgPosition {
			msg.Sample.TimestampMs = tl.shift(msg.Sample.TimestampMs)
			if haveLast && !r.Fast {
				if gap := msg.Sample.TimestampMs - last; gap > 0 {
					r.clock.Sleep(time.Duration(float64(gap)/speed) * time.Millisecond)
				}
			}
			last = msg.Sample.TimestampMs
			haveLast = true
		}
		Deliver(msg, sink, r.name)
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("%s: read line %d: %w", r.name, lineNo, err)
	}
	return nil
}

// Wait blocks until playback finishes and returns any read error.
func (r *ReplaySource) Wait() error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stop cancels playback and waits for the player goroutine.
func (r *ReplaySource) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
