package backend

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"freetime/internal/domain"
	"freetime/internal/local"
	"freetime/internal/ports"
)

// Keys of the local schema.
const (
	KeySessions  = "freetime_sessions"
	KeyClients   = "freetime_clients"
	KeyProjects  = "freetime_projects"
	KeyDailyGoal = "freetime_daily_goal"
)

// Local keeps every collection in a local.Value. Writes are visible
// immediately.
type Local struct {
	log      *slog.Logger
	sessions *local.Value[[]domain.Session]
	clients  *local.Value[[]string]
	projects *local.Value[[]string]
	goal     *local.Value[float64]

	// serialises multi-collection rewrites (rename cascade)
	mu sync.Mutex
}

// NewLocal binds the local schema in store.
func NewLocal(ctx context.Context, store *local.Store, log *slog.Logger) *Local {
	return &Local{
		log:      log,
		sessions: local.Bind(ctx, store, KeySessions, []domain.Session{}),
		clients:  local.Bind(ctx, store, KeyClients, []string{domain.DefaultClient}),
		projects: local.Bind(ctx, store, KeyProjects, []string{domain.DefaultProject}),
		goal:     local.Bind(ctx, store, KeyDailyGoal, domain.DefaultDailyGoal),
	}
}

func (l *Local) Name() string             { return "local" }
func (l *Local) Consistency() Consistency { return Immediate }

func (l *Local) Sessions() []domain.Session { return slices.Clone(l.sessions.Get()) }

func (l *Local) Refs(kind domain.RefKind) []string { return slices.Clone(l.ref(kind).Get()) }

func (l *Local) DailyGoal() float64 { return l.goal.Get() }

// InsertSession prepends s, assigning an id when it has none.
func (l *Local) InsertSession(_ context.Context, s domain.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Date == "" && s.Resolved() {
		s.Date = s.StartTime.Format(domain.DateLayout)
	}
	l.sessions.Update(func(prev []domain.Session) []domain.Session {
		out := make([]domain.Session, 0, len(prev)+1)
		return append(append(out, s), prev...)
	})
	l.log.Debug("local session stored", slog.String("id", s.ID), slog.Int64("duration", s.Duration))
	return nil
}

func (l *Local) UpdateSession(_ context.Context, id string, patch domain.SessionPatch) error {
	found := false
	l.sessions.Update(func(prev []domain.Session) []domain.Session {
		out := slices.Clone(prev)
		for i, s := range out {
			if s.ID == id {
				out[i] = patch.Apply(s)
				found = true
			}
		}
		if !found {
			return prev
		}
		return out
	})
	if !found {
		return fmt.Errorf("local: session %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

func (l *Local) DeleteSession(_ context.Context, id string) error {
	found := false
	l.sessions.Update(func(prev []domain.Session) []domain.Session {
		out := slices.DeleteFunc(slices.Clone(prev), func(s domain.Session) bool { return s.ID == id })
		found = len(out) != len(prev)
		return out
	})
	if !found {
		return fmt.Errorf("local: session %s: %w", id, ports.ErrNotFound)
	}
	return nil
}

// AddRef appends name; an existing name is left as is.
func (l *Local) AddRef(_ context.Context, kind domain.RefKind, name string) error {
	l.ref(kind).Update(func(prev []string) []string {
		if slices.Contains(prev, name) {
			return prev
		}
		return append(slices.Clone(prev), name)
	})
	return nil
}

// RenameRef rewrites the entry and every session label in one pass. When
// newName is already listed the old entry is dropped instead.
func (l *Local) RenameRef(_ context.Context, kind domain.RefKind, oldName, newName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !slices.Contains(l.ref(kind).Get(), oldName) {
		return fmt.Errorf("local: %s %q: %w", kind, oldName, ports.ErrNotFound)
	}
	l.ref(kind).Update(func(prev []string) []string {
		if slices.Contains(prev, newName) {
			return slices.DeleteFunc(slices.Clone(prev), func(n string) bool { return n == oldName })
		}
		out := slices.Clone(prev)
		for i, n := range out {
			if n == oldName {
				out[i] = newName
			}
		}
		return out
	})
	var renamed int
	l.sessions.Update(func(prev []domain.Session) []domain.Session {
		var out []domain.Session
		out, renamed = domain.RenameLabel(prev, kind, oldName, newName)
		return out
	})
	l.log.Debug("local reference renamed",
		slog.String("kind", string(kind)), slog.String("from", oldName), slog.String("to", newName), slog.Int("sessions", renamed))
	return nil
}

func (l *Local) DeleteRef(_ context.Context, kind domain.RefKind, name string) error {
	found := false
	l.ref(kind).Update(func(prev []string) []string {
		out := slices.DeleteFunc(slices.Clone(prev), func(n string) bool { return n == name })
		found = len(out) != len(prev)
		return out
	})
	if !found {
		return fmt.Errorf("local: %s %q: %w", kind, name, ports.ErrNotFound)
	}
	return nil
}

// Clear resets every collection to its default.
func (l *Local) Clear(_ context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions.Set([]domain.Session{})
	l.clients.Set([]string{domain.DefaultClient})
	l.projects.Set([]string{domain.DefaultProject})
	l.goal.Set(domain.DefaultDailyGoal)
	l.log.Info("local data cleared")
}

func (l *Local) SetDailyGoal(_ context.Context, hours float64) error {
	l.goal.Set(hours)
	return nil
}

func (l *Local) ref(kind domain.RefKind) *local.Value[[]string] {
	if kind == domain.Projects {
		return l.projects
	}
	return l.clients
}
