package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

// DefaultPollInterval is how often Watch checks for commits made by other
// connections.
const DefaultPollInterval = 500 * time.Millisecond

// KV implements ports.KV on a single SQLite file. Several processes may
// open the same file; each sees the others' writes through Watch.
type KV struct {
	db   *sql.DB
	log  *slog.Logger
	poll time.Duration

	mu   sync.Mutex
	seen map[string]string // last value written or observed per key
}

// Open creates or opens the store at path.
func Open(ctx context.Context, path string, poll time.Duration, log *slog.Logger) (*KV, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// data_version is tracked per connection, so the pool must stay at one
	// connection for Watch to see only foreign commits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	log.Debug("local store opened", slog.String("path", path))
	return &KV{db: db, log: log, poll: poll, seen: make(map[string]string)}, nil
}

// Load returns the stored value of key; ok is false when absent.
func (k *KV) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := k.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: load %q: %w", key, err)
	}
	k.remember(key, v)
	return v, true, nil
}

// Save upserts key.
func (k *KV) Save(ctx context.Context, key string, value []byte) error {
	const q = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := k.db.ExecContext(ctx, q, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("sqlite: save %q: %w", key, err)
	}
	k.remember(key, value)
	return nil
}

// Watch polls for commits by other connections and calls fn for every key
// whose value differs from what this process last wrote or saw. It returns
// when ctx is done.
func (k *KV) Watch(ctx context.Context, fn func(key string, value []byte)) error {
	version, err := k.dataVersion(ctx)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(k.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v, err := k.dataVersion(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				k.log.Error("local store poll failed", slog.String("error", err.Error()))
				continue
			}
			if v == version {
				continue
			}
			version = v
			if err := k.diff(ctx, fn); err != nil && ctx.Err() == nil {
				k.log.Error("local store refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close closes the underlying database.
func (k *KV) Close() error { return k.db.Close() }

func (k *KV) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := k.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("sqlite: data_version: %w", err)
	}
	return v, nil
}

func (k *KV) diff(ctx context.Context, fn func(string, []byte)) error {
	rows, err := k.db.QueryContext(ctx, "SELECT key, value FROM kv")
	if err != nil {
		return err
	}
	defer rows.Close()

	type change struct {
		key   string
		value []byte
	}
	var changes []change
	k.mu.Lock()
	for rows.Next() {
		var key string
		var v []byte
		if err := rows.Scan(&key, &v); err != nil {
			k.mu.Unlock()
			return err
		}
		if prev, ok := k.seen[key]; ok && prev == string(v) {
			continue
		}
		k.seen[key] = string(v)
		changes = append(changes, change{key, v})
	}
	k.mu.Unlock()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, c := range changes {
		k.log.Debug("local key changed externally", slog.String("key", c.key))
		fn(c.key, c.value)
	}
	return nil
}

func (k *KV) remember(key string, v []byte) {
	k.mu.Lock()
	k.seen[key] = string(v)
	k.mu.Unlock()
}
