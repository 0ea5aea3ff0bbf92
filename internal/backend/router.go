package backend

import (
	"context"
	"log/slog"
	"sync"

	"freetime/internal/domain"
	"freetime/internal/identity"
	"freetime/internal/ports"
)

// Router owns the single current-backend reference. It changes only when
// the identity changes; operations never choose a backend on their own.
type Router struct {
	local *Local
	store ports.RemoteStore // nil when no remote store is configured
	log   *slog.Logger

	switching sync.Mutex // serialises SetIdentity

	mu      sync.RWMutex
	current Backend
	remote  *Remote
}

// NewRouter starts on the local backend.
func NewRouter(l *Local, store ports.RemoteStore, log *slog.Logger) *Router {
	return &Router{local: l, store: store, log: log, current: l}
}

// Current returns the active backend.
func (r *Router) Current() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Local returns the local backend regardless of identity.
func (r *Router) Local() *Local { return r.local }

// SetIdentity switches backends. Signing in builds a fresh remote backend
// for the user; signing out (or switching user) releases the previous
// one's subscriptions first. The local backend is never modified.
func (r *Router) SetIdentity(ctx context.Context, id *domain.Identity) {
	r.switching.Lock()
	defer r.switching.Unlock()

	r.mu.Lock()
	if id != nil && r.remote != nil && r.remote.UserID() == id.ID {
		r.mu.Unlock()
		return
	}
	old := r.remote
	r.remote = nil
	r.current = r.local
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if id == nil {
		r.log.Info("signed out, using local backend")
		return
	}
	if r.store == nil {
		r.log.Warn("signed in but no remote store configured, staying local", slog.String("user", id.ID))
		return
	}

	remote := NewRemote(ctx, *id, r.store, r.local, r.log)
	r.mu.Lock()
	r.remote = remote
	r.current = remote
	r.mu.Unlock()
	r.log.Info("signed in, using remote backend", slog.String("user", id.ID))
}

// Follow applies every identity change from src, starting with its
// current value. Deliveries re-read src so a late one cannot reinstate a
// superseded identity.
func (r *Router) Follow(ctx context.Context, src *identity.Source) (cancel func()) {
	cancel = src.Subscribe(func(*domain.Identity) { r.SetIdentity(ctx, src.Current()) })
	r.SetIdentity(ctx, src.Current())
	return cancel
}

// Close releases the remote backend, if any.
func (r *Router) Close() {
	r.switching.Lock()
	defer r.switching.Unlock()

	r.mu.Lock()
	old := r.remote
	r.remote = nil
	r.current = r.local
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}
}
