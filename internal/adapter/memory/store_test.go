package memory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freetime/internal/domain"
	"freetime/internal/ports"
)

func newStore() *Store {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStore_SessionsScopedAndSorted(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.InsertSession(ctx, "alice", domain.Session{Task: "old", StartTime: base})
	require.NoError(t, err)
	_, err = s.InsertSession(ctx, "alice", domain.Session{Task: "new", StartTime: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.InsertSession(ctx, "bob", domain.Session{Task: "bob's", StartTime: base})
	require.NoError(t, err)

	got, err := s.ListSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Task)
	assert.Equal(t, "old", got[1].Task)
	assert.Equal(t, "alice", got[0].UserID)
	assert.NotEmpty(t, got[0].ID)
	assert.NotNil(t, got[0].CreatedAt)
}

func TestStore_UpdateAndDeleteUnknown(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	err := s.UpdateSession(ctx, "alice", "nope", domain.SessionPatch{Duration: 1})
	assert.True(t, errors.Is(err, ports.ErrNotFound))

	id, err := s.InsertSession(ctx, "alice", domain.Session{Task: "t", StartTime: time.Now()})
	require.NoError(t, err)
	assert.True(t, errors.Is(s.DeleteSession(ctx, "bob", id), ports.ErrNotFound), "other users cannot delete")
	require.NoError(t, s.DeleteSession(ctx, "alice", id))
}

func TestStore_RenameRefCascades(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	id, err := s.AddRef(ctx, "alice", domain.Clients, "Acme")
	require.NoError(t, err)
	_, err = s.InsertSession(ctx, "alice", domain.Session{Client: "Acme", StartTime: time.Now()})
	require.NoError(t, err)
	_, err = s.InsertSession(ctx, "bob", domain.Session{Client: "Acme", StartTime: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.RenameRef(ctx, "alice", domain.Clients, id, "Acme", "Acme Inc"))

	refs, _ := s.ListRefs(ctx, "alice", domain.Clients)
	assert.Equal(t, []string{"Acme Inc"}, domain.Names(refs))
	mine, _ := s.ListSessions(ctx, "alice")
	assert.Equal(t, "Acme Inc", mine[0].Client)
	theirs, _ := s.ListSessions(ctx, "bob")
	assert.Equal(t, "Acme", theirs[0].Client)
}

func TestStore_RefNamesUniquePerUser(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	_, err := s.AddRef(ctx, "alice", domain.Projects, "Web")
	require.NoError(t, err)
	_, err = s.AddRef(ctx, "alice", domain.Projects, "Web")
	assert.ErrorIs(t, err, ports.ErrConflict)
	_, err = s.AddRef(ctx, "bob", domain.Projects, "Web")
	require.NoError(t, err, "names are scoped per user")

	id, err := s.AddRef(ctx, "alice", domain.Projects, "Mobile")
	require.NoError(t, err)
	assert.ErrorIs(t, s.RenameRef(ctx, "alice", domain.Projects, id, "Mobile", "Web"), ports.ErrConflict)

	refs, _ := s.ListRefs(ctx, "alice", domain.Projects)
	assert.Equal(t, []string{"Web", "Mobile"}, domain.Names(refs))
}

func TestStore_SubscriptionDeliversLatest(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	var mu sync.Mutex
	var last []domain.Session
	deliveries := 0
	cancel := s.SubscribeSessions("alice", func(ss []domain.Session) {
		mu.Lock()
		last, deliveries = ss, deliveries+1
		mu.Unlock()
	})

	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return deliveries >= 1 }, time.Second, 5*time.Millisecond)

	_, err := s.InsertSession(ctx, "alice", domain.Session{Task: "t", StartTime: time.Now()})
	require.NoError(t, err)
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(last) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.Zero(t, s.Subscriptions())
}

func TestStore_FailWrites(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	boom := errors.New("permission denied")
	s.FailWrites(boom)

	_, err := s.InsertSession(ctx, "alice", domain.Session{})
	assert.ErrorIs(t, err, boom)
	_, err = s.AddRef(ctx, "alice", domain.Projects, "x")
	assert.ErrorIs(t, err, boom)

	s.FailWrites(nil)
	_, err = s.AddRef(ctx, "alice", domain.Projects, "x")
	assert.NoError(t, err)
}

func TestStore_ProfileDefaults(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	p, err := s.EnsureProfile(ctx, domain.Identity{ID: "alice", Email: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultDailyGoal, p.Settings.DailyGoal)

	require.NoError(t, s.SaveSettings(ctx, "alice", domain.Settings{DailyGoal: 6}))
	p, err = s.EnsureProfile(ctx, domain.Identity{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 6.0, p.Settings.DailyGoal, "existing profile is kept")
}
