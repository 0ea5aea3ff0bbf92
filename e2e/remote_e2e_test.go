//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	msql "freetime/internal/adapter/mysql"
	"freetime/internal/adapter/sqlite"
	"freetime/internal/backend"
	"freetime/internal/clock"
	"freetime/internal/domain"
	"freetime/internal/local"
	"freetime/internal/migrate"
	"freetime/internal/ports"
	"freetime/internal/usecase"
)

func startMySQL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	ctx := context.Background()

	// Start MySQL container
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_DATABASE":      "freetime",
			"MYSQL_ROOT_PASSWORD": "secret",
			"MYSQL_USER":          "test",
			"MYSQL_PASSWORD":      "pass",
		},
		WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(90 * time.Second),
	}
	mysqlC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start mysql container: %v", err)
	}
	t.Cleanup(func() { _ = mysqlC.Terminate(context.Background()) })

	host, err := mysqlC.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := mysqlC.MappedPort(ctx, "3306/tcp")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true", "test", "pass", host, port.Port(), "freetime")

	if err := migrate.Run(ctx, dsn, logger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return dsn
}

func logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newClient(t *testing.T, dsn string) *msql.Client {
	t.Helper()
	c, err := msql.NewClient(context.Background(), dsn, logger(), msql.WithPollInterval(100*time.Millisecond))
	if err != nil {
		t.Fatalf("mysql client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestRemoteStore_DocumentsAndRenameCascade(t *testing.T) {
	dsn := startMySQL(t)
	ctx := context.Background()
	c := newClient(t, dsn)

	profile, err := c.EnsureProfile(ctx, domain.Identity{ID: "alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("ensure profile: %v", err)
	}
	if profile.Settings.DailyGoal != domain.DefaultDailyGoal {
		t.Fatalf("expected default goal, got %v", profile.Settings.DailyGoal)
	}

	start := time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	clientID, err := c.AddRef(ctx, "alice", domain.Clients, "Acme")
	if err != nil {
		t.Fatalf("add client: %v", err)
	}
	for i, task := range []string{"Dev work", "Meeting"} {
		_, err := c.InsertSession(ctx, "alice", domain.Session{
			Task: task, Client: "Acme", Project: "Web", StartTime: start.Add(time.Duration(i) * time.Hour), Duration: 1800,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := c.InsertSession(ctx, "bob", domain.Session{Task: "Bob", Client: "Acme", StartTime: start, Duration: 60}); err != nil {
		t.Fatalf("insert bob: %v", err)
	}

	if err := c.RenameRef(ctx, "alice", domain.Clients, clientID, "Acme", "Acme Inc"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := c.AddRef(ctx, "alice", domain.Clients, "Acme Inc"); !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("expected conflict adding a taken name, got %v", err)
	}
	if _, err := c.AddRef(ctx, "bob", domain.Clients, "Acme Inc"); err != nil {
		t.Fatalf("names are per user: %v", err)
	}

	sessions, err := c.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions for alice, got %d", len(sessions))
	}
	if sessions[0].Task != "Meeting" {
		t.Fatalf("expected newest first, got %q", sessions[0].Task)
	}
	for _, s := range sessions {
		if s.Client != "Acme Inc" {
			t.Fatalf("session %s not relabelled: %q", s.ID, s.Client)
		}
	}
	bobs, err := c.ListSessions(ctx, "bob")
	if err != nil {
		t.Fatalf("list bob: %v", err)
	}
	if len(bobs) != 1 || bobs[0].Client != "Acme" {
		t.Fatalf("another user's sessions were touched: %+v", bobs)
	}

	end := start.Add(2 * time.Hour)
	if err := c.UpdateSession(ctx, "alice", sessions[0].ID, domain.SessionPatch{EndTime: end, Duration: 3600}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.DeleteSession(ctx, "alice", sessions[1].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := c.DeleteSession(ctx, "bob", sessions[0].ID); err == nil {
		t.Fatalf("expected not found deleting another user's session")
	}

	sessions, err = c.ListSessions(ctx, "alice")
	if err != nil {
		t.Fatalf("list 2: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Duration != 3600 || sessions[0].EndTime == nil {
		t.Fatalf("unexpected sessions after update/delete: %+v", sessions)
	}

	if err := c.SaveSettings(ctx, "alice", domain.Settings{DailyGoal: 6}); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	profile, err = c.EnsureProfile(ctx, domain.Identity{ID: "alice"})
	if err != nil {
		t.Fatalf("ensure profile 2: %v", err)
	}
	if profile.Settings.DailyGoal != 6 {
		t.Fatalf("existing profile was reset: %v", profile.Settings.DailyGoal)
	}
}

func TestRemoteStore_SubscriptionSeesOtherProcess(t *testing.T) {
	dsn := startMySQL(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := newClient(t, dsn)
	writer := newClient(t, dsn)
	go func() { _ = reader.Run(ctx) }()

	var (
		mu   sync.Mutex
		last []domain.Session
	)
	stop := reader.SubscribeSessions("alice", func(s []domain.Session) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	defer stop()

	if _, err := writer.InsertSession(ctx, "alice", domain.Session{Task: "elsewhere", StartTime: time.Now().UTC(), Duration: 5}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	waitFor(t, "poller to deliver the foreign insert", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1 && last[0].Task == "elsewhere"
	})
}

func TestTimer_PersistsToRemoteWhenSignedIn(t *testing.T) {
	dsn := startMySQL(t)
	ctx := context.Background()
	store := newClient(t, dsn)
	log := logger()

	kv, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "local.db"), 0, log)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })

	router := backend.NewRouter(backend.NewLocal(ctx, local.NewStore(kv, log), log), store, log)
	t.Cleanup(router.Close)
	router.SetIdentity(ctx, &domain.Identity{ID: "carol"})

	clk := clock.NewFake(time.Date(2025, 8, 2, 14, 0, 0, 0, time.UTC))
	timer := usecase.NewTimer(clk, router, log)
	defer timer.Close()

	if !timer.Start("Remote task", "Acme", "Web") {
		t.Fatalf("start refused")
	}
	clk.Advance(42 * time.Second)
	if _, ok := timer.Stop(ctx); !ok {
		t.Fatalf("stop refused")
	}

	waitFor(t, "remote snapshot to contain the session", func() bool {
		s := router.Current().Sessions()
		return len(s) == 1 && s[0].Duration == 42
	})
	if n := len(router.Local().Sessions()); n != 0 {
		t.Fatalf("local backend written while signed in: %d sessions", n)
	}

	catalog := usecase.NewCatalog(router, log)
	if !catalog.AddProject(ctx, "Web") {
		t.Fatalf("add project refused")
	}
	waitFor(t, "project snapshot", func() bool { return len(router.Current().Refs(domain.Projects)) == 1 })
	if !catalog.RenameProject(ctx, "Web", "Website") {
		t.Fatalf("rename refused")
	}
	waitFor(t, "renamed session label", func() bool {
		s := router.Current().Sessions()
		return len(s) == 1 && s[0].Project == "Website"
	})
}
