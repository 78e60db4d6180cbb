package source

import (
	"time"

	"github.com/banshee-data/shelfd/internal/pointer"
)

// HeuristicConfig sets when a held button counts as a drag.
type HeuristicConfig struct {
	MinDistance float64       // px from the press point
	MinDuration time.Duration // since the press
	MinMoves    int           // position samples since the press
}

// DefaultHeuristicConfig returns 25px / 50ms / 5 moves.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		MinDistance: 25,
		MinDuration: 50 * time.Millisecond,
		MinMoves:    5,
	}
}

// DragHeuristic infers drag start and end from button state for devices
// that only report positions. Explicit drag messages from the device take
// precedence: once one is seen for a press, nothing is inferred for it.
// Items announced with OnDragging before a press are attached to the
// inferred start. Called from a single source goroutine.
type DragHeuristic struct {
	next     Sink
	cfg      HeuristicConfig
	pressed  bool
	press    pointer.Sample
	moves    int
	inferred bool
	explicit bool
	items    []pointer.Item
}

// NewDragHeuristic wraps next.
func NewDragHeuristic(next Sink, cfg HeuristicConfig) *DragHeuristic {
	def := DefaultHeuristicConfig()
	if cfg.MinDistance <= 0 {
		cfg.MinDistance = def.MinDistance
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = def.MinDuration
	}
	if cfg.MinMoves <= 0 {
		cfg.MinMoves = def.MinMoves
	}
	return &DragHeuristic{next: next, cfg: cfg}
}

func (h *DragHeuristic) OnPosition(s pointer.Sample) {
	switch {
	case s.LeftButtonDown && !h.pressed:
		h.pressed = true
		h.press = s
		h.moves = 0
	case s.LeftButtonDown && h.pressed:
		h.moves++
		if !h.inferred && !h.explicit && h.qualifies(s) {
			h.inferred = true
			h.next.OnDragStart(h.items)
		}
	case !s.LeftButtonDown && h.pressed:
		h.pressed = false
		if h.inferred {
			h.inferred = false
			h.next.OnPosition(s)
			h.next.OnDragEnd()
			h.items = nil
			return
		}
		h.explicit = false
	}
	h.next.OnPosition(s)
}

func (h *DragHeuristic) qualifies(s pointer.Sample) bool {
	elapsed := time.Duration(s.TimestampMs-h.press.TimestampMs) * time.Millisecond
	return h.press.DistanceTo(s) >= h.cfg.MinDistance &&
		elapsed >= h.cfg.MinDuration &&
		h.moves >= h.cfg.MinMoves
}

func (h *DragHeuristic) OnDragStart(items []pointer.Item) {
	if h.inferred {
		// The device confirmed a drag we already started; refresh items.
		h.next.OnDragging(items)
		return
	}
	h.explicit = true
	h.next.OnDragStart(items)
}

func (h *DragHeuristic) OnDragging(items []pointer.Item) {
	if !h.inferred && !h.explicit {
		h.items = append([]pointer.Item(nil), items...)
		return
	}
	h.next.OnDragging(items)
}

func (h *DragHeuristic) OnDragEnd() {
	if h.inferred {
		h.inferred = false
		h.items = nil
	}
	h.explicit = false
	h.next.OnDragEnd()
}

func (h *DragHeuristic) OnError(err error) {
	h.next.OnError(err)
}
