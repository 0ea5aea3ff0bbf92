// Package memory is an in-process ports.RemoteStore. Snapshots are
// delivered asynchronously, so callers observe the same eventual
// consistency as with a networked store.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"freetime/internal/adapter/feed"
	"freetime/internal/domain"
	"freetime/internal/ports"
)

const (
	collSessions = "sessions"
	collSettings = "settings"
)

// Store keeps every user's documents in maps.
type Store struct {
	log *slog.Logger
	hub *feed.Hub
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]map[string]domain.Session
	refs     map[domain.RefKind]map[string]map[string]domain.RefEntry
	profiles map[string]domain.Profile
	failErr  error
}

// New returns an empty store.
func New(log *slog.Logger) *Store {
	return &Store{
		log:      log,
		hub:      feed.NewHub(),
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]map[string]domain.Session),
		refs: map[domain.RefKind]map[string]map[string]domain.RefEntry{
			domain.Clients:  {},
			domain.Projects: {},
		},
		profiles: make(map[string]domain.Profile),
	}
}

// FailWrites makes every mutating call return err until called with nil.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

// Subscriptions reports the number of live subscriptions.
func (s *Store) Subscriptions() int { return s.hub.Len() }

func (s *Store) writable() error {
	if s.failErr != nil {
		return fmt.Errorf("memory: %w", s.failErr)
	}
	return nil
}

func (s *Store) InsertSession(_ context.Context, userID string, in domain.Session) (string, error) {
	s.mu.Lock()
	if err := s.writable(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	now := s.now()
	in.ID = ulid.Make().String()
	in.UserID = userID
	in.CreatedAt, in.UpdatedAt = &now, &now
	if s.sessions[userID] == nil {
		s.sessions[userID] = make(map[string]domain.Session)
	}
	s.sessions[userID][in.ID] = in
	s.mu.Unlock()

	s.log.Debug("memory store inserted session", slog.String("user", userID), slog.String("id", in.ID))

	s.hub.Publish(feed.Topic{UserID: userID, Collection: collSessions})
	return in.ID, nil
}

func (s *Store) UpdateSession(_ context.Context, userID, id string, patch domain.SessionPatch) error {
	s.mu.Lock()
	if err := s.writable(); err != nil {
		s.mu.Unlock()
		return err
	}
	cur, ok := s.sessions[userID][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memory: session %s: %w", id, ports.ErrNotFound)
	}
	now := s.now()
	cur = patch.Apply(cur)
	cur.UpdatedAt = &now
	s.sessions[userID][id] = cur
	s.mu.Unlock()

	s.hub.Publish(feed.Topic{UserID: userID, Collection: collSessions})
	return nil
}

func (s *Store) DeleteSession(_ context.Context, userID, id string) error {
	s.mu.Lock()
	if err := s.writable(); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.sessions[userID][id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("memory: session %s: %w", id, ports.ErrNotFound)
	}
	delete(s.sessions[userID], id)
	s.mu.Unlock()

	s.hub.Publish(feed.Topic{UserID: userID, Collection: collSessions})
	return nil
}

func (s *Store) ListSessions(_ context.Context, userID string) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Session, 0, len(s.sessions[userID]))
	for _, v := range s.sessions[userID] {
		out = append(out, v)
	}
	// map order is random; order by id first so equal start times stay
	// deterministic across deliveries
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	domain.SortSessionsByStart(out)
	return out, nil
}

func (s *Store) AddRef(_ context.Context, userID string, kind domain.RefKind, name string) (string, error) {
	s.mu.Lock()
	if err := s.writable(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	if s.taken(userID, kind, name, "") {
		s.mu.Unlock()
		return "", fmt.Errorf("memory: %s %q: %w", kind, name, ports.ErrConflict)
	}
	now := s.now()
	e := domain.RefEntry{ID: ulid.Make().String(), UserID: userID, Name: name, CreatedAt: now, UpdatedAt: now}
	if s.refs[kind][userID] == nil {
		s.refs[kind][userID] = make(map[string]domain.RefEntry)
	}
	s.refs[kind][userID][e.ID] = e
	s.mu.Unlock()

	s.hub.Publish(feed.Topic{UserID: userID, Collection: string(kind)})
	return e.ID, nil
}

func (s *Store) RenameRef(_ context.Context, userID string, kind domain.RefKind, id, oldName, newName string) error {
	s.mu.Lock()
	if err := s.writable(); err != nil {
		s.mu.Unlock()
		return err
	}
	e, ok := s.refs[kind][userID][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memory: %s %s: %w", kind, id, ports.ErrNotFound)
	}
	if s.taken(userID, kind, newName, id) {
		s.mu.Unlock()
		return fmt.Errorf("memory: %s %q: %w", kind, newName, ports.ErrConflict)
	}
	now := s.now()
	e.Name, e.UpdatedAt = newName, now
	s.refs[kind][userID][id] = e

	renamed := 0
	for sid, sess := range s.sessions[userID] {
		out, n := domain.RenameLabel([]domain.Session{sess}, kind, oldName, newName)
		if n == 0 {
			continue
		}
		out[0].UpdatedAt = &now
		s.sessions[userID][sid] = out[0]
		renamed++
	}
	s.mu.Unlock()

	s.log.Debug("memory store renamed reference",
		slog.String("kind", string(kind)), slog.String("from", oldName), slog.String("to", newName), slog.Int("sessions", renamed))

	s.hub.Publish(feed.Topic{UserID: userID, Collection: string(kind)})
	if renamed > 0 {
		s.hub.Publish(feed.Topic{UserID: userID, Collection: collSessions})
	}
	return nil
}

// taken reports whether another entry of the user already uses name.
// Callers hold s.mu.
func (s *Store) taken(userID string, kind domain.RefKind, name, except string) bool {
	for id, e := range s.refs[kind][userID] {
		if id != except && e.Name == name {
			return true
		}
	}
	return false
}

func (s *Store) DeleteRef(_ context.Context, userID string, kind domain.RefKind, id string) error {
	s.mu.Lock()
	if err := s.writable(); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.refs[kind][userID][id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("memory: %s %s: %w", kind, id, ports.ErrNotFound)
	}
	delete(s.refs[kind][userID], id)
	s.mu.Unlock()

	s.hub.Publish(feed.Topic{UserID: userID, Collection: string(kind)})
	return nil
}

func (s *Store) ListRefs(_ context.Context, userID string, kind domain.RefKind) ([]domain.RefEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RefEntry, 0, len(s.refs[kind][userID]))
	for _, e := range s.refs[kind][userID] {
		out = append(out, e)
	}
	// ULIDs sort by creation time
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) EnsureProfile(_ context.Context, id domain.Identity) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[id.ID]; ok {
		return p, nil
	}
	if err := s.writable(); err != nil {
		return domain.Profile{}, err
	}
	now := s.now()
	p := domain.Profile{
		UserID:      id.ID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Settings:    domain.DefaultSettings(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.profiles[id.ID] = p
	return p, nil
}

func (s *Store) SaveSettings(_ context.Context, userID string, settings domain.Settings) error {
	s.mu.Lock()
	if err := s.writable(); err != nil {
		s.mu.Unlock()
		return err
	}
	p, ok := s.profiles[userID]
	if !ok {
		p = domain.Profile{UserID: userID, CreatedAt: s.now()}
	}
	p.Settings, p.UpdatedAt = settings, s.now()
	s.profiles[userID] = p
	s.mu.Unlock()

	s.hub.Publish(feed.Topic{UserID: userID, Collection: collSettings})
	return nil
}

func (s *Store) SubscribeSessions(userID string, fn func([]domain.Session)) func() {
	return s.hub.Subscribe(feed.Topic{UserID: userID, Collection: collSessions}, func() {
		out, _ := s.ListSessions(context.Background(), userID)
		fn(out)
	})
}

func (s *Store) SubscribeRefs(userID string, kind domain.RefKind, fn func([]domain.RefEntry)) func() {
	return s.hub.Subscribe(feed.Topic{UserID: userID, Collection: string(kind)}, func() {
		out, _ := s.ListRefs(context.Background(), userID, kind)
		fn(out)
	})
}

func (s *Store) SubscribeSettings(userID string, fn func(domain.Settings)) func() {
	return s.hub.Subscribe(feed.Topic{UserID: userID, Collection: collSettings}, func() {
		s.mu.RLock()
		p, ok := s.profiles[userID]
		s.mu.RUnlock()
		if !ok {
			fn(domain.DefaultSettings())
			return
		}
		fn(p.Settings)
	})
}

var _ ports.RemoteStore = (*Store)(nil)
