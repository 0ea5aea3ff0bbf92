package mysql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"freetime/internal/adapter/feed"
	"freetime/internal/domain"
	"freetime/internal/ports"
)

// SubscribeSessions delivers the user's sessions now and after each change.
// A failed read is logged and delivered as an empty collection.
func (c *Client) SubscribeSessions(userID string, fn func([]domain.Session)) func() {
	return c.hub.Subscribe(feed.Topic{UserID: userID, Collection: collSessions}, func() {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		out, err := c.ListSessions(ctx, userID)
		if err != nil {
			c.log.Error("sessions listener failed", slog.String("user", userID), slog.String("error", err.Error()))
			out = []domain.Session{}
		}
		c.log.Debug("sessions snapshot", slog.String("user", userID), slog.Int("count", len(out)))
		fn(out)
	})
}

// SubscribeRefs delivers the user's clients or projects.
func (c *Client) SubscribeRefs(userID string, kind domain.RefKind, fn func([]domain.RefEntry)) func() {
	return c.hub.Subscribe(feed.Topic{UserID: userID, Collection: string(kind)}, func() {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		out, err := c.ListRefs(ctx, userID, kind)
		if err != nil {
			c.log.Error("reference listener failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
			out = []domain.RefEntry{}
		}
		fn(out)
	})
}

// SubscribeSettings delivers the user's settings, defaults when the user
// record does not exist yet.
func (c *Client) SubscribeSettings(userID string, fn func(domain.Settings)) func() {
	return c.hub.Subscribe(feed.Topic{UserID: userID, Collection: collSettings}, func() {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()
		p, err := c.getProfile(ctx, userID)
		if err != nil {
			if !errors.Is(err, ports.ErrNotFound) {
				c.log.Error("settings listener failed", slog.String("user", userID), slog.String("error", err.Error()))
			}
			fn(domain.DefaultSettings())
			return
		}
		fn(p.Settings)
	})
}

// Run polls subscribed collections for writes made outside this process
// and republishes those that changed. It returns when ctx is done.
func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	seen := make(map[feed.Topic]string)
	c.log.Info("remote change poller started", slog.Duration("interval", c.poll))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			live := make(map[feed.Topic]bool)
			for _, t := range c.hub.Topics() {
				live[t] = true
				fp, err := c.fingerprint(ctx, t)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					c.log.Warn("remote poll failed", slog.String("collection", t.Collection), slog.String("error", err.Error()))
					continue
				}
				prev, ok := seen[t]
				seen[t] = fp
				if ok && prev != fp {
					c.hub.Publish(t)
				}
			}
			for t := range seen {
				if !live[t] {
					delete(seen, t)
				}
			}
		}
	}
}

// fingerprint summarises a collection so that inserts, deletes and updates
// all change it.
func (c *Client) fingerprint(ctx context.Context, t feed.Topic) (string, error) {
	var table string
	switch t.Collection {
	case collSessions:
		table = "sessions"
	case collSettings:
		table = "users"
	default:
		var err error
		if table, _, err = refTable(domain.RefKind(t.Collection)); err != nil {
			return "", err
		}
	}
	q := fmt.Sprintf("SELECT COUNT(*), COALESCE(MAX(updated_at), '1970-01-01') FROM %s WHERE user_id = ?;", table)
	var (
		n    int64
		last string
	)
	if err := c.db.QueryRowContext(ctx, q, t.UserID).Scan(&n, &last); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d/%s", n, last), nil
}
