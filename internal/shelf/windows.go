package shelf

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/shelfd/internal/pointer"
)

// Position is a screen coordinate in pixels.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Item is a file reference held by a shelf.
type Item struct {
	ID string `json:"id"`
	pointer.Item
	AddedAt time.Time `json:"added_at"`
}

// ShelfConfig is the window layer's view of a shelf.
type ShelfConfig struct {
	ID        string   `json:"id"`
	Position  Position `json:"position"`
	Items     []Item   `json:"items"`
	IsPinned  bool     `json:"is_pinned"`
	IsVisible bool     `json:"is_visible"`
}

// Windows renders shelves. Implementations must return promptly; the
// coordinator calls them while holding its lock.
type Windows interface {
	CreateShelf(pos Position, initial []Item) (string, error)
	ShowShelf(id string) error
	HideShelf(id string) error
	DestroyShelf(id string) bool
	GetShelfConfig(id string) (ShelfConfig, bool)
	AddItemToShelf(id string, item Item) error
	RemoveItemFromShelf(id, itemID string) error
	SetPinned(id string, pinned bool) error
}

// ErrWindowNotFound is returned by HeadlessWindows for unknown ids.
var ErrWindowNotFound = errors.New("window not found")

// HeadlessWindows keeps shelves in memory. The daemon uses it when no
// display process is attached; tests use it to observe window calls.
type HeadlessWindows struct {
	mu       sync.Mutex
	shelves  map[string]*ShelfConfig
	calls    []string
	failNext error
	onAdd    func(id string, item Item)
}

// NewHeadlessWindows returns an empty window set.
func NewHeadlessWindows() *HeadlessWindows {
	return &HeadlessWindows{shelves: make(map[string]*ShelfConfig)}
}

// FailNextCreate makes the next CreateShelf return err.
func (w *HeadlessWindows) FailNextCreate(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failNext = err
}

// OnAdd installs a hook that runs inside AddItemToShelf before the item
// becomes visible.
func (w *HeadlessWindows) OnAdd(fn func(id string, item Item)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onAdd = fn
}

func (w *HeadlessWindows) record(format string, args ...interface{}) {
	w.calls = append(w.calls, fmt.Sprintf(format, args...))
}

// Calls returns the window operations performed, oldest first.
func (w *HeadlessWindows) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

// CountCalls counts recorded calls with the given operation name.
func (w *HeadlessWindows) CountCalls(op string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, c := range w.calls {
		if c == op || (len(c) > len(op) && c[:len(op)+1] == op+":") {
			n++
		}
	}
	return n
}

func (w *HeadlessWindows) CreateShelf(pos Position, initial []Item) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.failNext; err != nil {
		w.failNext = nil
		w.record("create-failed")
		return "", err
	}
	id := fmt.Sprintf("shelf-%s", uuid.NewString())
	w.shelves[id] = &ShelfConfig{
		ID:        id,
		Position:  pos,
		Items:     append([]Item(nil), initial...),
		IsVisible: true,
	}
	w.record("create:%d", len(initial))
	return id, nil
}

func (w *HeadlessWindows) ShowShelf(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sc, ok := w.shelves[id]
	if !ok {
		return ErrWindowNotFound
	}
	sc.IsVisible = true
	w.record("show:%s", id)
	return nil
}

func (w *HeadlessWindows) HideShelf(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sc, ok := w.shelves[id]
	if !ok {
		return ErrWindowNotFound
	}
	sc.IsVisible = false
	w.record("hide:%s", id)
	return nil
}

func (w *HeadlessWindows) DestroyShelf(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.shelves[id]; !ok {
		return false
	}
	delete(w.shelves, id)
	w.record("destroy:%s", id)
	return true
}

func (w *HeadlessWindows) GetShelfConfig(id string) (ShelfConfig, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sc, ok := w.shelves[id]
	if !ok {
		return ShelfConfig{}, false
	}
	out := *sc
	out.Items = append([]Item(nil), sc.Items...)
	return out, true
}

func (w *HeadlessWindows) AddItemToShelf(id string, item Item) error {
	w.mu.Lock()
	sc, ok := w.shelves[id]
	hook := w.onAdd
	w.mu.Unlock()
	if !ok {
		return ErrWindowNotFound
	}
	if hook != nil {
		hook(id, item)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	sc.Items = append(sc.Items, item)
	w.record("add:%s", id)
	return nil
}

func (w *HeadlessWindows) RemoveItemFromShelf(id, itemID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sc, ok := w.shelves[id]
	if !ok {
		return ErrWindowNotFound
	}
	for i, it := range sc.Items {
		if it.ID == itemID {
			sc.Items = append(sc.Items[:i], sc.Items[i+1:]...)
			w.record("remove:%s", id)
			return nil
		}
	}
	return fmt.Errorf("item %s: %w", itemID, ErrWindowNotFound)
}

func (w *HeadlessWindows) SetPinned(id string, pinned bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sc, ok := w.shelves[id]
	if !ok {
		return ErrWindowNotFound
	}
	sc.IsPinned = pinned
	w.record("pin:%s", id)
	return nil
}
