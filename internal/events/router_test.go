package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/shelfd/internal/timeutil"
)

func TestRouter_FiltersByKind(t *testing.T) {
	r := NewRouter(nil)
	var all, shelves []Kind
	r.Subscribe("all", func(ev Event) { all = append(all, ev.Kind) })
	r.Subscribe("shelves", func(ev Event) { shelves = append(shelves, ev.Kind) }, ShelfCreated, ShelfDestroyed)

	r.Publish(Event{Kind: DragStarted})
	r.Publish(Event{Kind: ShelfCreated, ShelfID: "s1"})
	r.Publish(Event{Kind: ShelfDestroyed, ShelfID: "s1"})

	assert.Equal(t, []Kind{DragStarted, ShelfCreated, ShelfDestroyed}, all)
	assert.Equal(t, []Kind{ShelfCreated, ShelfDestroyed}, shelves)
}

func TestRouter_NestedPublishIsQueued(t *testing.T) {
	r := NewRouter(nil)
	var order []string
	depth := 0

	r.Subscribe("first", func(ev Event) {
		depth++
		defer func() { depth-- }()
		assert.Equal(t, 1, depth, "handlers must not be re-entered")
		order = append(order, "first:"+string(ev.Kind))
		if ev.Kind == DragEnded {
			r.Publish(Event{Kind: ShelfAutoHidden})
		}
	})
	r.Subscribe("second", func(ev Event) {
		order = append(order, "second:"+string(ev.Kind))
	})

	r.Publish(Event{Kind: DragEnded})

	assert.Equal(t, []string{
		"first:drag-ended",
		"second:drag-ended",
		"first:shelf-auto-hidden",
		"second:shelf-auto-hidden",
	}, order)
}

func TestRouter_StampsTime(t *testing.T) {
	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	r := NewRouter(timeutil.NewMockClock(at))
	var got Event
	r.Subscribe("t", func(ev Event) { got = ev })

	r.Publish(Event{Kind: DragStarted})
	assert.Equal(t, at, got.Time)

	explicit := at.Add(time.Hour)
	r.Publish(Event{Kind: DragStarted, Time: explicit})
	assert.Equal(t, explicit, got.Time)
}

func TestRouter_Subscriptions(t *testing.T) {
	r := NewRouter(nil)
	r.Subscribe("journal", func(Event) {})
	sub := r.Subscribe("ipc", func(Event) {}, ShelfDestroyed, ShelfCreated)

	infos := r.Subscriptions()
	assert.Equal(t, []SubscriptionInfo{
		{Name: "journal"},
		{Name: "ipc", Kinds: []Kind{ShelfCreated, ShelfDestroyed}},
	}, infos)

	sub.Unsubscribe()
	assert.Equal(t, []SubscriptionInfo{{Name: "journal"}}, r.Subscriptions())

	r.Publish(Event{Kind: ShelfCreated})
	published, delivered := r.Stats()
	assert.Equal(t, uint64(1), published)
	assert.Equal(t, uint64(1), delivered)
}
