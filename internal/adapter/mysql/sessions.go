package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"freetime/internal/domain"
	"freetime/internal/ports"
)

// InsertSession stores a new session and returns its generated id.
func (c *Client) InsertSession(ctx context.Context, userID string, s domain.Session) (string, error) {
	const q = `
INSERT INTO sessions
  (id, user_id, task, client, project, start_time, end_time, duration_sec, day, created_at, updated_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	id := ulid.Make().String()
	now := c.now()
	var end interface{}
	if s.EndTime != nil {
		end = s.EndTime.UTC()
	}
	day := s.Date
	if day == "" {
		day = s.StartTime.Format(domain.DateLayout)
	}
	err := c.write(ctx, "insert session", func() error {
		_, err := c.db.ExecContext(ctx, q,
			id, userID, s.Task, s.Client, s.Project,
			s.StartTime.UTC(), end, s.Duration, day, now, now)
		return err
	})
	if err != nil {
		return "", err
	}
	c.log.Info("mysql stored session", slog.String("user", userID), slog.String("id", id))
	c.publish(userID, collSessions)
	return id, nil
}

// UpdateSession rewrites end time and duration of an existing session.
func (c *Client) UpdateSession(ctx context.Context, userID, id string, patch domain.SessionPatch) error {
	const q = `UPDATE sessions SET end_time = ?, duration_sec = ?, updated_at = ? WHERE id = ? AND user_id = ?;`
	var affected int64
	err := c.write(ctx, "update session", func() error {
		res, err := c.db.ExecContext(ctx, q, patch.EndTime.UTC(), patch.Duration, c.now(), id, userID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("mysql: session %s: %w", id, ports.ErrNotFound)
	}
	c.publish(userID, collSessions)
	return nil
}

// DeleteSession removes a session of the user.
func (c *Client) DeleteSession(ctx context.Context, userID, id string) error {
	const q = `DELETE FROM sessions WHERE id = ? AND user_id = ?;`
	var affected int64
	err := c.write(ctx, "delete session", func() error {
		res, err := c.db.ExecContext(ctx, q, id, userID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("mysql: session %s: %w", id, ports.ErrNotFound)
	}
	c.publish(userID, collSessions)
	return nil
}

// ListSessions returns the user's sessions, newest start first. Ordering
// is applied in Go rather than in SQL so it does not depend on an index.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	const q = `
SELECT id, task, client, project, start_time, end_time, duration_sec, day, created_at, updated_at
FROM sessions WHERE user_id = ? ORDER BY id;
`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("mysql: list sessions: %w", err)
	}
	defer rows.Close()

	out := []domain.Session{}
	for rows.Next() {
		var (
			s                domain.Session
			end              sql.NullTime
			created, updated sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.Task, &s.Client, &s.Project, &s.StartTime, &end,
			&s.Duration, &s.Date, &created, &updated); err != nil {
			return nil, fmt.Errorf("mysql: scan session: %w", err)
		}
		s.UserID = userID
		if end.Valid {
			t := end.Time
			s.EndTime = &t
		}
		if created.Valid {
			t := created.Time
			s.CreatedAt = &t
		}
		if updated.Valid {
			t := updated.Time
			s.UpdatedAt = &t
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	domain.SortSessionsByStart(out)
	return out, nil
}
