// Package events carries domain events from the shelf core to its
// subscribers (journal, IPC stream, HTTP tail). Dispatch is queued: an event
// published from inside a handler is delivered after the current event has
// reached every subscriber, never recursively.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/shelfd/internal/pointer"
	"github.com/banshee-data/shelfd/internal/shake"
	"github.com/banshee-data/shelfd/internal/timeutil"
)

// Kind names a domain event.
type Kind string

const (
	ShelfCreated     Kind = "shelf-created"
	ShelfDestroyed   Kind = "shelf-destroyed"
	ShelfAutoHidden  Kind = "shelf-auto-hidden"
	DragStarted      Kind = "drag-started"
	DragEnded        Kind = "drag-ended"
	ShelfItemAdded   Kind = "shelf-item-added"
	ShelfItemRemoved Kind = "shelf-item-removed"
	ShakeDetected    Kind = "shake-detected"
	NativeError      Kind = "native-error"
)

// AllKinds lists every kind in a stable order.
var AllKinds = []Kind{
	ShelfCreated, ShelfDestroyed, ShelfAutoHidden,
	DragStarted, DragEnded,
	ShelfItemAdded, ShelfItemRemoved,
	ShakeDetected, NativeError,
}

// Event is a domain event. Only the fields relevant to Kind are set.
type Event struct {
	Kind      Kind          `json:"kind"`
	Time      time.Time     `json:"time"`
	ShelfID   string        `json:"shelf_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	ItemID    string        `json:"item_id,omitempty"`
	Item      *pointer.Item `json:"item,omitempty"`
	ItemCount int           `json:"item_count,omitempty"`
	Shake     *shake.Event  `json:"shake,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Handler receives events. Handlers run on the publishing goroutine and must
// not block.
type Handler func(Event)

type subscriber struct {
	id      uint64
	name    string
	kinds   map[Kind]bool // nil means every kind
	handler Handler
}

func (s subscriber) wants(k Kind) bool {
	return s.kinds == nil || s.kinds[k]
}

// SubscriptionInfo describes a registered subscriber.
type SubscriptionInfo struct {
	Name  string `json:"name"`
	Kinds []Kind `json:"kinds,omitempty"`
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	id     uint64
	router *Router
}

// Unsubscribe removes the subscriber. Events already queued are not
// delivered to it.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.router != nil {
		s.router.unsubscribe(s.id)
	}
}

// Router fans events out to subscribers.
type Router struct {
	clock timeutil.Clock

	mu          sync.Mutex
	subs        []subscriber
	nextID      uint64
	queue       []Event
	dispatching bool

	published atomic.Uint64
	delivered atomic.Uint64
}

// NewRouter creates a Router. A nil clock uses the real clock.
func NewRouter(clock timeutil.Clock) *Router {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Router{clock: clock}
}

// Subscribe registers h for kinds (all kinds when none are given).
func (r *Router) Subscribe(name string, h Handler, kinds ...Kind) *Subscription {
	var set map[Kind]bool
	if len(kinds) > 0 {
		set = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			set[k] = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.subs = append(r.subs, subscriber{id: r.nextID, name: name, kinds: set, handler: h})
	return &Subscription{id: r.nextID, router: r}
}

func (r *Router) unsubscribe(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return
		}
	}
}

// Subscriptions enumerates subscribers in delivery order.
func (r *Router) Subscriptions() []SubscriptionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SubscriptionInfo, 0, len(r.subs))
	for _, s := range r.subs {
		info := SubscriptionInfo{Name: s.name}
		for _, k := range AllKinds {
			if s.kinds != nil && s.kinds[k] {
				info.Kinds = append(info.Kinds, k)
			}
		}
		out = append(out, info)
	}
	return out
}

// Publish queues ev and, unless a dispatch is already running, delivers the
// queue until it is empty.
func (r *Router) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = r.clock.Now()
	}
	r.published.Add(1)

	r.mu.Lock()
	r.queue = append(r.queue, ev)
	if r.dispatching {
		r.mu.Unlock()
		return
	}
	r.dispatching = true

	for len(r.queue) > 0 {
		next := r.queue[0]
		r.queue = r.queue[1:]
		subs := append([]subscriber(nil), r.subs...)
		r.mu.Unlock()

		for _, s := range subs {
			if s.wants(next.Kind) {
				s.handler(next)
				r.delivered.Add(1)
			}
		}

		r.mu.Lock()
	}
	r.dispatching = false
	r.mu.Unlock()
}

// Stats returns how many events were published and handler calls made.
func (r *Router) Stats() (published, delivered uint64) {
	return r.published.Load(), r.delivered.Load()
}
