package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"freetime/internal/adapter/feed"
	"freetime/internal/domain"
	"freetime/internal/ports"
)

const (
	collSessions = "sessions"
	collSettings = "settings"

	// DefaultPollInterval is how often subscribed collections are checked
	// for writes made by other processes.
	DefaultPollInterval = 2 * time.Second

	queryTimeout = 10 * time.Second
)

// Client implements ports.RemoteStore on MySQL tables, one per collection,
// every row stamped with its owning user.
type Client struct {
	db      *sql.DB
	log     *slog.Logger
	hub     *feed.Hub
	poll    time.Duration
	retries uint64
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithPollInterval sets the change poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithRetries sets how many times a transient write failure is retried.
func WithRetries(n uint64) Option {
	return func(c *Client) { c.retries = n }
}

// NewClient opens a MySQL connection using the provided DSN.
// Example DSN: user:pass@tcp(host:3306)/dbname?parseTime=true&multiStatements=true
func NewClient(ctx context.Context, dsn string, log *slog.Logger, opts ...Option) (*Client, error) {
	if dsn == "" {
		return nil, errors.New("mysql: DSN is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(c); err != nil {
		db.Close()
		return nil, err
	}
	client := &Client{
		db:      db,
		log:     log,
		hub:     feed.NewHub(),
		poll:    DefaultPollInterval,
		retries: 3,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(client)
	}
	return client, nil
}

// Close closes the underlying DB. Not wired via interface to keep ports minimal.
func (c *Client) Close() error { return c.db.Close() }

// write runs fn, retrying transient connection errors with exponential
// backoff. Server-side errors (permissions, constraint violations) are not
// retried.
// ER_DUP_ENTRY
const errDupEntry = 1062

func (c *Client) write(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	err := backoff.RetryNotify(func() error {
		err := fn()
		if err == nil || transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		c.log.Warn("mysql write retry", slog.String("op", op), slog.Duration("wait", wait), slog.String("error", err.Error()))
	})
	if err != nil {
		return fmt.Errorf("mysql: %s: %w", op, err)
	}
	return nil
}

// duplicateKey maps a unique-index violation to ports.ErrConflict.
func duplicateKey(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == errDupEntry {
		return fmt.Errorf("%w: %s", ports.ErrConflict, me.Message)
	}
	return err
}

func transient(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn)
}

func (c *Client) publish(userID, collection string) {
	c.hub.Publish(feed.Topic{UserID: userID, Collection: collection})
}

// refTable maps a reference kind to its table; kinds are a closed set so
// the names are safe to interpolate.
func refTable(kind domain.RefKind) (table, sessionColumn string, err error) {
	switch kind {
	case domain.Clients:
		return "clients", "client", nil
	case domain.Projects:
		return "projects", "project", nil
	}
	return "", "", fmt.Errorf("mysql: unknown reference kind %q", kind)
}

var _ ports.RemoteStore = (*Client)(nil)
