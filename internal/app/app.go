package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"freetime/internal/adapter/memory"
	msql "freetime/internal/adapter/mysql"
	"freetime/internal/adapter/sqlite"
	"freetime/internal/backend"
	"freetime/internal/clock"
	"freetime/internal/config"
	"freetime/internal/domain"
	"freetime/internal/identity"
	"freetime/internal/local"
	"freetime/internal/migrate"
	"freetime/internal/ports"
	"freetime/internal/usecase"
)

// App wires adapters and use cases.
type App struct {
	log   *slog.Logger
	clock clock.Clock

	kv     *sqlite.KV
	local  *local.Store
	mysql  *msql.Client // nil unless the remote mode is mysql
	router *backend.Router

	Identity *identity.Source
	Timer    *usecase.Timer
	Catalog  *usecase.Catalog
	Reports  *usecase.Reports

	unfollow func()
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func New(ctx context.Context, log *slog.Logger, cfg config.Config) (*App, error) {
	return newApp(ctx, log, cfg, clock.System{})
}

func newApp(ctx context.Context, log *slog.Logger, cfg config.Config, clk clock.Clock) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	kv, err := sqlite.Open(ctx, cfg.Local.Path, sqlite.DefaultPollInterval, log)
	if err != nil {
		return nil, err
	}
	a := &App{log: log, clock: clk, kv: kv, local: local.NewStore(kv, log)}

	var remote ports.RemoteStore
	switch cfg.Remote.Mode {
	case config.RemoteMySQL:
		// Run migrations before opening the store for use
		if err := migrate.Run(ctx, cfg.MySQL.DSN, log); err != nil {
			_ = kv.Close()
			return nil, err
		}
		client, err := msql.NewClient(ctx, cfg.MySQL.DSN, log,
			msql.WithPollInterval(cfg.Remote.PollInterval),
			msql.WithRetries(cfg.Remote.WriteRetries))
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
		a.mysql = client
		remote = client
	case config.RemoteMemory:
		remote = memory.New(log)
	}

	a.router = backend.NewRouter(backend.NewLocal(ctx, a.local, log), remote, log)
	a.Identity = identity.NewSource()
	a.unfollow = a.router.Follow(ctx, a.Identity)
	a.Timer = usecase.NewTimer(clk, a.router, log)
	a.Catalog = usecase.NewCatalog(a.router, log)
	a.Reports = usecase.NewReports(a.router, loc)

	log.Info("app configured",
		slog.String("local", cfg.Local.Path),
		slog.String("remote", cfg.Remote.Mode),
		slog.String("tz", loc.String()))
	return a, nil
}

// Start runs the background watchers: other-process changes to the local
// store and, for mysql, external remote writes. They stop on Close.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.background(ctx, "local watcher", a.local.Run)
	if a.mysql != nil {
		a.background(ctx, "remote poller", a.mysql.Run)
	}
}

func (a *App) background(ctx context.Context, name string, run func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error(name+" stopped", slog.String("error", err.Error()))
		}
	}()
}

// Backend returns the backend currently in use.
func (a *App) Backend() backend.Backend { return a.router.Current() }

// SignIn hands an authenticated identity over from the auth provider.
func (a *App) SignIn(id domain.Identity) { a.Identity.Set(&id) }

// SignOut returns to anonymous, local use.
func (a *App) SignOut() { a.Identity.Set(nil) }

// Export snapshots the current backend.
func (a *App) Export() usecase.Snapshot {
	return usecase.TakeSnapshot(a.router, a.clock.Now())
}

// ClearLocal resets the local store to its defaults. The remote store is
// never touched.
func (a *App) ClearLocal(ctx context.Context) {
	a.router.Local().Clear(ctx)
}

// Now is the app clock.
func (a *App) Now() time.Time { return a.clock.Now() }

// Close stops the timer without persisting, releases subscriptions and
// closes the stores.
func (a *App) Close() error {
	a.Timer.Close()
	a.unfollow()
	a.router.Close()
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var firstErr error
	if a.mysql != nil {
		if err := a.mysql.Close(); err != nil {
			firstErr = fmt.Errorf("close remote store: %w", err)
		}
	}
	if err := a.kv.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close local store: %w", err)
	}
	return firstErr
}
