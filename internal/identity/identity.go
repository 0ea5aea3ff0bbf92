// Package identity holds the reactive "current user" value handed over by
// the authentication provider.
package identity

import (
	"sync"

	"freetime/internal/domain"
)

// Source is the current identity plus change notification. A nil identity
// means anonymous.
type Source struct {
	mu      sync.RWMutex
	current *domain.Identity
	next    int
	subs    map[int]func(*domain.Identity)
}

// NewSource starts anonymous.
func NewSource() *Source {
	return &Source{subs: make(map[int]func(*domain.Identity))}
}

// Current returns a copy of the identity, or nil.
func (s *Source) Current() *domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	id := *s.current
	return &id
}

// Set replaces the identity and notifies subscribers when it changed.
// Subscribers run synchronously, in registration order.
func (s *Source) Set(id *domain.Identity) {
	s.mu.Lock()
	if same(s.current, id) {
		s.mu.Unlock()
		return
	}
	if id != nil {
		cp := *id
		id = &cp
	}
	s.current = id
	subs := make([]func(*domain.Identity), 0, len(s.subs))
	for i := 0; i < s.next; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(id)
	}
}

// Subscribe registers fn for later changes.
func (s *Source) Subscribe(fn func(*domain.Identity)) (cancel func()) {
	s.mu.Lock()
	key := s.next
	s.next++
	s.subs[key] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, key)
		s.mu.Unlock()
	}
}

func same(a, b *domain.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
