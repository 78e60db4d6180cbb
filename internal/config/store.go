package config

import (
	"fmt"
	"sync"
)

// Observer receives the previous and new settings after an update.
type Observer func(prev, next *Settings)

// Subscription is an entry in the Store's observer list.
type Subscription struct {
	id    uint64
	name  string
	store *Store
}

// Name returns the label the subscriber registered under.
func (s *Subscription) Name() string { return s.name }

// Unsubscribe removes this subscription.
func (s *Subscription) Unsubscribe() {
	if s.store != nil {
		s.store.unsubscribe(s.id)
	}
}

type subscriber struct {
	id       uint64
	name     string
	observer Observer
}

// Store holds the current Settings and an ordered, enumerable list of
// observers. It is constructed once and passed to every component that
// reacts to settings.
type Store struct {
	mu     sync.Mutex
	cur    *Settings
	subs   []subscriber
	nextID uint64
}

// NewStore creates a Store seeded with initial (defaults when nil).
func NewStore(initial *Settings) *Store {
	if initial == nil {
		initial = DefaultSettings()
	}
	return &Store{cur: initial.Clone()}
}

// Current returns a copy of the active settings.
func (s *Store) Current() *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.Clone()
}

// Subscribe registers observer under name. Observers run in registration
// order on the goroutine that calls Update.
func (s *Store) Subscribe(name string, observer Observer) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.subs = append(s.subs, subscriber{id: s.nextID, name: name, observer: observer})
	return &Subscription{id: s.nextID, name: name, store: s}
}

// Subscribers lists the registered observer names in delivery order.
func (s *Store) Subscribers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.subs))
	for i, sub := range s.subs {
		names[i] = sub.name
	}
	return names
}

func (s *Store) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Update validates next, makes it current and notifies every observer.
func (s *Store) Update(next *Settings) error {
	if next == nil {
		return fmt.Errorf("nil settings")
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	s.mu.Lock()
	prev := s.cur
	s.cur = next.Clone()
	cur := s.cur
	subs := append([]subscriber(nil), s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.observer(prev.Clone(), cur.Clone())
	}
	return nil
}

// Patch merges the non-nil fields of patch onto the current settings.
func (s *Store) Patch(patch *Settings) (*Settings, error) {
	next := s.Current().Merge(patch)
	if err := s.Update(next); err != nil {
		return nil, err
	}
	return next, nil
}
