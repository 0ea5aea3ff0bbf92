package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freetime/internal/adapter/memory"
	"freetime/internal/adapter/sqlite"
	"freetime/internal/domain"
	"freetime/internal/identity"
	"freetime/internal/local"
	"freetime/internal/ports"
)

const eventually = 2 * time.Second

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newLocal(t *testing.T) *Local {
	t.Helper()
	ctx := context.Background()
	kv, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "local.db"), 0, discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return NewLocal(ctx, local.NewStore(kv, discard()), discard())
}

func session(task, client, project string, start time.Time, dur int64) domain.Session {
	return domain.Session{Task: task, Client: client, Project: project, StartTime: start, Duration: dur}
}

func TestLocal_Defaults(t *testing.T) {
	l := newLocal(t)
	assert.Empty(t, l.Sessions())
	assert.Equal(t, []string{domain.DefaultClient}, l.Refs(domain.Clients))
	assert.Equal(t, []string{domain.DefaultProject}, l.Refs(domain.Projects))
	assert.Equal(t, domain.DefaultDailyGoal, l.DailyGoal())
	assert.Equal(t, Immediate, l.Consistency())
}

func TestLocal_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)
	start := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, l.InsertSession(ctx, session("first", "c", "p", start, 60)))
	require.NoError(t, l.InsertSession(ctx, session("second", "c", "p", start.Add(time.Hour), 30)))

	got := l.Sessions()
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Task, "new sessions are prepended")
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, "2025-04-01", got[1].Date)

	end := start.Add(2 * time.Hour)
	require.NoError(t, l.UpdateSession(ctx, got[1].ID, domain.SessionPatch{EndTime: end, Duration: 120}))
	assert.Equal(t, int64(120), l.Sessions()[1].Duration)

	err := l.UpdateSession(ctx, "missing", domain.SessionPatch{})
	assert.True(t, errors.Is(err, ports.ErrNotFound))

	require.NoError(t, l.DeleteSession(ctx, got[0].ID))
	assert.Len(t, l.Sessions(), 1)
	assert.True(t, errors.Is(l.DeleteSession(ctx, got[0].ID), ports.ErrNotFound))
}

func TestLocal_RenameCascades(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)
	now := time.Now()

	require.NoError(t, l.AddRef(ctx, domain.Clients, "Acme"))
	require.NoError(t, l.InsertSession(ctx, session("a", "Acme", "p", now, 1)))
	require.NoError(t, l.InsertSession(ctx, session("b", "Other", "p", now, 1)))

	require.NoError(t, l.RenameRef(ctx, domain.Clients, "Acme", "Acme Inc"))

	assert.Equal(t, []string{domain.DefaultClient, "Acme Inc"}, l.Refs(domain.Clients))
	for _, s := range l.Sessions() {
		assert.NotEqual(t, "Acme", s.Client)
	}
	assert.True(t, errors.Is(l.RenameRef(ctx, domain.Clients, "Nope", "X"), ports.ErrNotFound))
}

func TestLocal_DeleteRefKeepsSessionLabels(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)
	require.NoError(t, l.InsertSession(ctx, session("a", "c", domain.DefaultProject, time.Now(), 1)))

	require.NoError(t, l.DeleteRef(ctx, domain.Projects, domain.DefaultProject))
	assert.Empty(t, l.Refs(domain.Projects))
	assert.Equal(t, domain.DefaultProject, l.Sessions()[0].Project)
}

func TestRemote_WritesVisibleThroughSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.New(discard())
	r := NewRemote(ctx, domain.Identity{ID: "alice"}, store, newLocal(t), discard())
	defer r.Close()

	assert.Equal(t, Eventual, r.Consistency())
	require.NoError(t, r.InsertSession(ctx, session("t", "c", "p", time.Now(), 10)))

	require.Eventually(t, func() bool { return len(r.Sessions()) == 1 }, eventually, 5*time.Millisecond)
	assert.NotEmpty(t, r.Sessions()[0].ID)
	assert.Equal(t, "alice", r.Sessions()[0].UserID)
}

func TestRemote_RenameCascadesRemotely(t *testing.T) {
	ctx := context.Background()
	store := memory.New(discard())
	r := NewRemote(ctx, domain.Identity{ID: "alice"}, store, newLocal(t), discard())
	defer r.Close()

	require.NoError(t, r.AddRef(ctx, domain.Projects, "Web"))
	require.NoError(t, r.InsertSession(ctx, session("t", "c", "Web", time.Now(), 10)))
	require.Eventually(t, func() bool {
		return len(r.Refs(domain.Projects)) == 1 && len(r.Sessions()) == 1
	}, eventually, 5*time.Millisecond)

	require.NoError(t, r.RenameRef(ctx, domain.Projects, "Web", "Website"))
	require.Eventually(t, func() bool {
		s := r.Sessions()
		return len(s) == 1 && s[0].Project == "Website"
	}, eventually, 5*time.Millisecond)
	assert.Equal(t, []string{"Website"}, r.Refs(domain.Projects))
}

func TestRemote_DeleteSession(t *testing.T) {
	ctx := context.Background()
	store := memory.New(discard())
	r := NewRemote(ctx, domain.Identity{ID: "alice"}, store, newLocal(t), discard())
	defer r.Close()

	require.NoError(t, r.InsertSession(ctx, session("t", "c", "p", time.Now(), 10)))
	require.Eventually(t, func() bool { return len(r.Sessions()) == 1 }, eventually, 5*time.Millisecond)

	require.NoError(t, r.DeleteSession(ctx, r.Sessions()[0].ID))
	require.Eventually(t, func() bool { return len(r.Sessions()) == 0 }, eventually, 5*time.Millisecond)
}

func TestRemote_FailedWriteFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	store := memory.New(discard())
	l := newLocal(t)
	r := NewRemote(ctx, domain.Identity{ID: "alice"}, store, l, discard())
	defer r.Close()

	store.FailWrites(errors.New("network unreachable"))
	require.NoError(t, r.InsertSession(ctx, session("offline", "c", "p", time.Now(), 42)))
	require.NoError(t, r.AddRef(ctx, domain.Clients, "Offline Co"))
	require.NoError(t, r.SetDailyGoal(ctx, 5))

	require.Len(t, l.Sessions(), 1)
	assert.Equal(t, "offline", l.Sessions()[0].Task)
	assert.Contains(t, l.Refs(domain.Clients), "Offline Co")
	assert.Equal(t, 5.0, l.DailyGoal())

	remote, err := store.ListSessions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, remote, "the inconsistency is not reconciled")
}

func TestRouter_IdentitySwitching(t *testing.T) {
	ctx := context.Background()
	store := memory.New(discard())
	l := newLocal(t)
	require.NoError(t, l.InsertSession(ctx, session("local work", "c", "p", time.Now(), 5)))

	router := NewRouter(l, store, discard())
	src := identity.NewSource()
	cancel := router.Follow(ctx, src)
	defer cancel()
	assert.Same(t, l, router.Current())

	src.Set(&domain.Identity{ID: "alice"})
	remote, ok := router.Current().(*Remote)
	require.True(t, ok)
	assert.Empty(t, remote.Sessions(), "remote state starts from defaults")
	assert.Equal(t, domain.DefaultDailyGoal, remote.DailyGoal())
	require.Eventually(t, func() bool { return store.Subscriptions() == 4 }, eventually, 5*time.Millisecond)

	src.Set(nil)
	assert.Same(t, l, router.Current())
	assert.Zero(t, store.Subscriptions(), "logout releases every subscription")
	assert.Empty(t, remote.Sessions())
	require.Len(t, l.Sessions(), 1, "local state is untouched by identity changes")
	assert.Equal(t, "local work", l.Sessions()[0].Task)
}

func TestRouter_SwitchUserReleasesPrevious(t *testing.T) {
	ctx := context.Background()
	store := memory.New(discard())
	router := NewRouter(newLocal(t), store, discard())

	router.SetIdentity(ctx, &domain.Identity{ID: "alice"})
	first := router.Current()
	router.SetIdentity(ctx, &domain.Identity{ID: "alice"})
	assert.Same(t, first, router.Current(), "same user keeps the backend")

	router.SetIdentity(ctx, &domain.Identity{ID: "bob"})
	assert.NotSame(t, first, router.Current())
	assert.Equal(t, 4, store.Subscriptions())

	router.Close()
	assert.Zero(t, store.Subscriptions())
}

func TestRouter_NoRemoteStoreStaysLocal(t *testing.T) {
	l := newLocal(t)
	router := NewRouter(l, nil, discard())
	router.SetIdentity(context.Background(), &domain.Identity{ID: "alice"})
	assert.Same(t, l, router.Current())
}

func TestLocal_RenameOntoExistingNameMerges(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)
	require.NoError(t, l.AddRef(ctx, domain.Clients, "Acme"))
	require.NoError(t, l.AddRef(ctx, domain.Clients, "Acme Inc"))
	require.NoError(t, l.InsertSession(ctx, session("t", "Acme", "p", time.Now(), 5)))

	require.NoError(t, l.RenameRef(ctx, domain.Clients, "Acme", "Acme Inc"))
	assert.Equal(t, []string{domain.DefaultClient, "Acme Inc"}, l.Refs(domain.Clients))
	assert.Equal(t, "Acme Inc", l.Sessions()[0].Client)
}

func TestLocal_Clear(t *testing.T) {
	ctx := context.Background()
	l := newLocal(t)
	require.NoError(t, l.InsertSession(ctx, session("t", "c", "p", time.Now(), 5)))
	require.NoError(t, l.AddRef(ctx, domain.Clients, "Acme"))
	require.NoError(t, l.RenameRef(ctx, domain.Projects, domain.DefaultProject, "Web"))
	require.NoError(t, l.SetDailyGoal(ctx, 3))

	l.Clear(ctx)
	assert.Empty(t, l.Sessions())
	assert.Equal(t, []string{domain.DefaultClient}, l.Refs(domain.Clients))
	assert.Equal(t, []string{domain.DefaultProject}, l.Refs(domain.Projects))
	assert.Equal(t, domain.DefaultDailyGoal, l.DailyGoal())
}

func TestRemote_FailedEditsFallBackToLocal(t *testing.T) {
	start := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		// seed runs while remote writes still succeed
		seed  func(t *testing.T, r *Remote, l *Local)
		op    func(r *Remote) error
		check func(t *testing.T, l *Local)
	}{
		{
			name: "update of a remote-only session is kept as a new local one",
			seed: func(t *testing.T, r *Remote, _ *Local) {
				require.NoError(t, r.InsertSession(context.Background(), session("resumed", "c", "p", start, 60)))
				require.Eventually(t, func() bool { return len(r.Sessions()) == 1 }, eventually, 5*time.Millisecond)
			},
			op: func(r *Remote) error {
				return r.UpdateSession(context.Background(), r.Sessions()[0].ID,
					domain.SessionPatch{EndTime: start.Add(99 * time.Second), Duration: 99})
			},
			check: func(t *testing.T, l *Local) {
				require.Len(t, l.Sessions(), 1)
				got := l.Sessions()[0]
				assert.Equal(t, "resumed", got.Task)
				assert.Equal(t, int64(99), got.Duration)
				require.NotNil(t, got.EndTime)
				assert.True(t, got.EndTime.Equal(start.Add(99*time.Second)))
			},
		},
		{
			name: "rename recreates the entry locally and cascades",
			seed: func(t *testing.T, r *Remote, l *Local) {
				require.NoError(t, r.AddRef(context.Background(), domain.Projects, "Web"))
				require.NoError(t, l.InsertSession(context.Background(), session("t", "c", "Web", start, 5)))
				require.Eventually(t, func() bool { return len(r.Refs(domain.Projects)) == 1 }, eventually, 5*time.Millisecond)
			},
			op: func(r *Remote) error {
				return r.RenameRef(context.Background(), domain.Projects, "Web", "Website")
			},
			check: func(t *testing.T, l *Local) {
				assert.Equal(t, []string{domain.DefaultProject, "Website"}, l.Refs(domain.Projects))
				assert.Equal(t, "Website", l.Sessions()[0].Project)
			},
		},
		{
			name: "rename onto a name already kept locally leaves one entry",
			seed: func(t *testing.T, r *Remote, l *Local) {
				require.NoError(t, l.AddRef(context.Background(), domain.Clients, "Acme Inc"))
				require.NoError(t, r.AddRef(context.Background(), domain.Clients, "Acme"))
				require.Eventually(t, func() bool { return len(r.Refs(domain.Clients)) == 1 }, eventually, 5*time.Millisecond)
			},
			op: func(r *Remote) error {
				return r.RenameRef(context.Background(), domain.Clients, "Acme", "Acme Inc")
			},
			check: func(t *testing.T, l *Local) {
				assert.Equal(t, []string{domain.DefaultClient, "Acme Inc"}, l.Refs(domain.Clients))
			},
		},
		{
			name: "delete ref removes the local copy",
			seed: func(t *testing.T, r *Remote, l *Local) {
				require.NoError(t, l.AddRef(context.Background(), domain.Clients, "Acme"))
				require.NoError(t, r.AddRef(context.Background(), domain.Clients, "Acme"))
				require.Eventually(t, func() bool { return len(r.Refs(domain.Clients)) == 1 }, eventually, 5*time.Millisecond)
			},
			op: func(r *Remote) error {
				return r.DeleteRef(context.Background(), domain.Clients, "Acme")
			},
			check: func(t *testing.T, l *Local) {
				assert.Equal(t, []string{domain.DefaultClient}, l.Refs(domain.Clients))
			},
		},
		{
			name: "delete of a remote-only session succeeds without local change",
			seed: func(t *testing.T, r *Remote, l *Local) {
				require.NoError(t, l.InsertSession(context.Background(), session("local", "c", "p", start, 5)))
				require.NoError(t, r.InsertSession(context.Background(), session("remote", "c", "p", start, 5)))
				require.Eventually(t, func() bool { return len(r.Sessions()) == 1 }, eventually, 5*time.Millisecond)
			},
			op: func(r *Remote) error {
				return r.DeleteSession(context.Background(), r.Sessions()[0].ID)
			},
			check: func(t *testing.T, l *Local) {
				require.Len(t, l.Sessions(), 1)
				assert.Equal(t, "local", l.Sessions()[0].Task)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New(discard())
			l := newLocal(t)
			r := NewRemote(context.Background(), domain.Identity{ID: "alice"}, store, l, discard())
			defer r.Close()

			tt.seed(t, r, l)
			store.FailWrites(errors.New("network unreachable"))
			require.NoError(t, tt.op(r))
			tt.check(t, l)
		})
	}
}

func TestRemote_ConflictIsNotKeptLocally(t *testing.T) {
	ctx := context.Background()
	store := memory.New(discard())
	l := newLocal(t)
	r := NewRemote(ctx, domain.Identity{ID: "alice"}, store, l, discard())
	defer r.Close()

	require.NoError(t, r.AddRef(ctx, domain.Clients, "Acme"))
	err := r.AddRef(ctx, domain.Clients, "Acme")
	require.ErrorIs(t, err, ports.ErrConflict)
	assert.Equal(t, []string{domain.DefaultClient}, l.Refs(domain.Clients))

	require.NoError(t, r.AddRef(ctx, domain.Clients, "Beta"))
	require.Eventually(t, func() bool { return len(r.Refs(domain.Clients)) == 2 }, eventually, 5*time.Millisecond)
	err = r.RenameRef(ctx, domain.Clients, "Beta", "Acme")
	require.ErrorIs(t, err, ports.ErrConflict)
	assert.Equal(t, []string{domain.DefaultClient}, l.Refs(domain.Clients))
}

func TestRouter_LateSignInDeliveryDoesNotOverrideSignOut(t *testing.T) {
	ctx := context.Background()
	store := memory.New(discard())
	l := newLocal(t)
	router := NewRouter(l, store, discard())
	src := identity.NewSource()

	// Registered ahead of the router, so it delays the router's view of
	// the sign-in until the sign-out has been fully applied.
	entered := make(chan struct{})
	release := make(chan struct{})
	src.Subscribe(func(id *domain.Identity) {
		if id != nil {
			close(entered)
			<-release
		}
	})
	cancel := router.Follow(ctx, src)
	defer cancel()

	signedIn := make(chan struct{})
	go func() {
		src.Set(&domain.Identity{ID: "alice"})
		close(signedIn)
	}()
	<-entered
	src.Set(nil)
	close(release)
	<-signedIn

	assert.Same(t, l, router.Current())
	assert.Zero(t, store.Subscriptions())
}
