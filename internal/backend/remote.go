package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"freetime/internal/domain"
	"freetime/internal/ports"
)

// Remote serves one signed-in user. Reads come from the last snapshot each
// subscription delivered; writes go to the store and are never applied to
// the snapshots directly. A failed write is repeated on the local backend
// so the user's action is kept; the two stores are not reconciled later.
type Remote struct {
	user     domain.Identity
	store    ports.RemoteStore
	fallback Backend
	log      *slog.Logger

	mu       sync.RWMutex
	sessions []domain.Session
	refs     map[domain.RefKind][]domain.RefEntry
	settings domain.Settings
	cancels  []func()
	closed   bool
}

// NewRemote subscribes to the user's collections. Until the first snapshot
// of a collection arrives, reads return its defaults.
func NewRemote(ctx context.Context, user domain.Identity, store ports.RemoteStore, fallback Backend, log *slog.Logger) *Remote {
	r := &Remote{
		user:     user,
		store:    store,
		fallback: fallback,
		log:      log.With(slog.String("user", user.ID)),
	}
	r.reset()

	if _, err := store.EnsureProfile(ctx, user); err != nil {
		r.log.Error("profile setup failed", slog.String("error", err.Error()))
	}

	r.cancels = append(r.cancels,
		store.SubscribeSessions(user.ID, func(s []domain.Session) {
			r.apply(func() { r.sessions = s })
		}),
		store.SubscribeRefs(user.ID, domain.Clients, func(e []domain.RefEntry) {
			r.apply(func() { r.refs[domain.Clients] = e })
		}),
		store.SubscribeRefs(user.ID, domain.Projects, func(e []domain.RefEntry) {
			r.apply(func() { r.refs[domain.Projects] = e })
		}),
		store.SubscribeSettings(user.ID, func(s domain.Settings) {
			r.apply(func() { r.settings = s })
		}),
	)
	r.log.Info("remote backend active")
	return r
}

// Close cancels every subscription and drops the remote state.
func (r *Remote) Close() {
	r.mu.Lock()
	cancels := r.cancels
	r.cancels = nil
	r.closed = true
	r.reset()
	r.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	r.log.Info("remote backend released")
}

// UserID is the identity this backend serves.
func (r *Remote) UserID() string { return r.user.ID }

func (r *Remote) reset() {
	r.sessions = []domain.Session{}
	r.refs = map[domain.RefKind][]domain.RefEntry{domain.Clients: {}, domain.Projects: {}}
	r.settings = domain.DefaultSettings()
}

func (r *Remote) apply(fn func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	fn()
	r.mu.Unlock()
}

func (r *Remote) Name() string             { return "remote" }
func (r *Remote) Consistency() Consistency { return Eventual }

func (r *Remote) Sessions() []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.sessions)
}

func (r *Remote) Refs(kind domain.RefKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.Names(r.refs[kind])
}

func (r *Remote) DailyGoal() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings.DailyGoal
}

func (r *Remote) InsertSession(ctx context.Context, s domain.Session) error {
	id, err := r.store.InsertSession(ctx, r.user.ID, s)
	if err != nil {
		r.degrade("insert session", err)
		return r.fallback.InsertSession(ctx, s)
	}
	r.log.Debug("remote session accepted", slog.String("id", id))
	return nil
}

func (r *Remote) UpdateSession(ctx context.Context, id string, patch domain.SessionPatch) error {
	err := r.store.UpdateSession(ctx, r.user.ID, id, patch)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ports.ErrNotFound):
		return err
	}
	r.degrade("update session", err)
	// The record only exists remotely; keep the result as a new local one.
	for _, s := range r.Sessions() {
		if s.ID == id {
			return r.fallback.InsertSession(ctx, patch.Apply(s))
		}
	}
	return r.fallback.UpdateSession(ctx, id, patch)
}

func (r *Remote) DeleteSession(ctx context.Context, id string) error {
	err := r.store.DeleteSession(ctx, r.user.ID, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ports.ErrNotFound):
		return err
	}
	r.degrade("delete session", err)
	if ferr := r.fallback.DeleteSession(ctx, id); ferr != nil && !errors.Is(ferr, ports.ErrNotFound) {
		return ferr
	}
	return nil
}

func (r *Remote) AddRef(ctx context.Context, kind domain.RefKind, name string) error {
	if _, err := r.store.AddRef(ctx, r.user.ID, kind, name); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return err
		}
		r.degrade("add "+string(kind), err)
		return r.fallback.AddRef(ctx, kind, name)
	}
	return nil
}

func (r *Remote) RenameRef(ctx context.Context, kind domain.RefKind, oldName, newName string) error {
	id, ok := r.refID(kind, oldName)
	if !ok {
		return fmt.Errorf("remote: %s %q: %w", kind, oldName, ports.ErrNotFound)
	}
	err := r.store.RenameRef(ctx, r.user.ID, kind, id, oldName, newName)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ports.ErrNotFound), errors.Is(err, ports.ErrConflict):
		return err
	}
	r.degrade("rename "+string(kind), err)
	if ferr := r.fallback.AddRef(ctx, kind, oldName); ferr != nil {
		return ferr
	}
	return r.fallback.RenameRef(ctx, kind, oldName, newName)
}

func (r *Remote) DeleteRef(ctx context.Context, kind domain.RefKind, name string) error {
	id, ok := r.refID(kind, name)
	if !ok {
		return fmt.Errorf("remote: %s %q: %w", kind, name, ports.ErrNotFound)
	}
	err := r.store.DeleteRef(ctx, r.user.ID, kind, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ports.ErrNotFound):
		return err
	}
	r.degrade("delete "+string(kind), err)
	if ferr := r.fallback.DeleteRef(ctx, kind, name); ferr != nil && !errors.Is(ferr, ports.ErrNotFound) {
		return ferr
	}
	return nil
}

func (r *Remote) SetDailyGoal(ctx context.Context, hours float64) error {
	if err := r.store.SaveSettings(ctx, r.user.ID, domain.Settings{DailyGoal: hours}); err != nil {
		r.degrade("save settings", err)
		return r.fallback.SetDailyGoal(ctx, hours)
	}
	return nil
}

func (r *Remote) refID(kind domain.RefKind, name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.refs[kind] {
		if e.Name == name {
			return e.ID, true
		}
	}
	return "", false
}

func (r *Remote) degrade(op string, err error) {
	r.log.Error("remote write failed, keeping it locally",
		slog.String("op", op), slog.String("error", err.Error()))
}
