// Package local keeps typed values in memory and mirrors every change to
// a durable key/value store. Writes by other processes sharing the store
// replace the in-memory value (last writer wins per key).
package local

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"freetime/internal/ports"
)

// saveTimeout bounds a single persist; Set itself never fails.
const saveTimeout = 5 * time.Second

// Store dispatches external change notifications to bound values.
type Store struct {
	kv  ports.KV
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]func([]byte)
}

// NewStore wraps kv.
func NewStore(kv ports.KV, log *slog.Logger) *Store {
	return &Store{kv: kv, log: log, handlers: make(map[string][]func([]byte))}
}

// Run watches the underlying store until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	return s.kv.Watch(ctx, s.dispatch)
}

func (s *Store) dispatch(key string, value []byte) {
	s.mu.RLock()
	hs := append([]func([]byte){}, s.handlers[key]...)
	s.mu.RUnlock()
	for _, h := range hs {
		h(value)
	}
}

func (s *Store) handle(key string, h func([]byte)) {
	s.mu.Lock()
	s.handlers[key] = append(s.handlers[key], h)
	s.mu.Unlock()
}

// Value is a typed cell persisted under one key.
type Value[T any] struct {
	store *Store
	key   string

	mu        sync.RWMutex
	v         T
	listeners []func(T)
}

// Bind loads key from the store, falling back to initial when the key is
// absent or unreadable.
func Bind[T any](ctx context.Context, s *Store, key string, initial T) *Value[T] {
	v := &Value[T]{store: s, key: key, v: initial}
	raw, ok, err := s.kv.Load(ctx, key)
	switch {
	case err != nil:
		s.log.Error("local read failed", slog.String("key", key), slog.String("error", err.Error()))
	case ok:
		var decoded T
		if err := json.Unmarshal(raw, &decoded); err != nil {
			s.log.Error("local value undecodable", slog.String("key", key), slog.String("error", err.Error()))
		} else {
			v.v = decoded
		}
	}
	s.handle(key, v.external)
	return v
}

// Get returns the current in-memory value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.v
}

// Set replaces the value and persists it.
func (v *Value[T]) Set(next T) {
	v.Update(func(T) T { return next })
}

// Update applies fn to the current value, stores the result and persists
// it. A persistence failure is logged; the in-memory value is kept.
func (v *Value[T]) Update(fn func(prev T) T) T {
	v.mu.Lock()
	next := fn(v.v)
	v.v = next
	// Persist under the lock so concurrent updates reach the store in the
	// order they were applied.
	v.persist(next)
	ls := append([]func(T){}, v.listeners...)
	v.mu.Unlock()

	for _, l := range ls {
		l(next)
	}
	return next
}

// OnChange registers fn for every later change, local or external.
func (v *Value[T]) OnChange(fn func(T)) {
	v.mu.Lock()
	v.listeners = append(v.listeners, fn)
	v.mu.Unlock()
}

func (v *Value[T]) persist(next T) {
	b, err := json.Marshal(next)
	if err != nil {
		v.store.log.Error("local value not serialisable", slog.String("key", v.key), slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := v.store.kv.Save(ctx, v.key, b); err != nil {
		v.store.log.Error("local write failed", slog.String("key", v.key), slog.String("error", err.Error()))
	}
}

// external applies a change made by another process. The notification may
// trail a later local write, so the stored bytes are re-read under the
// lock and raw is only used when the key cannot be read back.
func (v *Value[T]) external(raw []byte) {
	v.mu.Lock()
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	stored, ok, err := v.store.kv.Load(ctx, v.key)
	cancel()
	switch {
	case err != nil:
		v.store.log.Warn("external local change not re-read", slog.String("key", v.key), slog.String("error", err.Error()))
	case ok:
		raw = stored
	}
	var decoded T
	if err := json.Unmarshal(raw, &decoded); err != nil {
		v.mu.Unlock()
		v.store.log.Error("external local change undecodable", slog.String("key", v.key), slog.String("error", err.Error()))
		return
	}
	v.v = decoded
	ls := append([]func(T){}, v.listeners...)
	v.mu.Unlock()
	for _, l := range ls {
		l(decoded)
	}
}
