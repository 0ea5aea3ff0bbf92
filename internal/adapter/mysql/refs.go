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

// AddRef stores a new client or project and returns its id.
func (c *Client) AddRef(ctx context.Context, userID string, kind domain.RefKind, name string) (string, error) {
	table, _, err := refTable(kind)
	if err != nil {
		return "", err
	}
	q := fmt.Sprintf("INSERT INTO %s (id, user_id, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?);", table)
	id := ulid.Make().String()
	now := c.now()
	if err := c.write(ctx, "add "+table, func() error {
		_, err := c.db.ExecContext(ctx, q, id, userID, name, now, now)
		return duplicateKey(err)
	}); err != nil {
		return "", err
	}
	c.publish(userID, string(kind))
	return id, nil
}

// RenameRef renames the entry and rewrites the label on every session of
// the user that carried the old name, in one transaction.
func (c *Client) RenameRef(ctx context.Context, userID string, kind domain.RefKind, id, oldName, newName string) error {
	table, column, err := refTable(kind)
	if err != nil {
		return err
	}
	renameQ := fmt.Sprintf("UPDATE %s SET name = ?, updated_at = ? WHERE id = ? AND user_id = ?;", table)
	cascadeQ := fmt.Sprintf("UPDATE sessions SET %s = ?, updated_at = ? WHERE user_id = ? AND %s = ?;", column, column)

	var cascaded int64
	notFound := false
	err = c.write(ctx, "rename "+table, func() error {
		notFound = false
		tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
		if err != nil {
			return err
		}
		now := c.now()
		res, err := tx.ExecContext(ctx, renameQ, newName, now, id, userID)
		if err != nil {
			tx.Rollback()
			return duplicateKey(err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			tx.Rollback()
			if err != nil {
				return err
			}
			notFound = true
			return nil
		}
		res, err = tx.ExecContext(ctx, cascadeQ, newName, now, userID, oldName)
		if err != nil {
			tx.Rollback()
			return err
		}
		if cascaded, err = res.RowsAffected(); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	if notFound {
		return fmt.Errorf("mysql: %s %s: %w", kind, id, ports.ErrNotFound)
	}
	c.log.Info("mysql renamed reference",
		slog.String("kind", string(kind)), slog.String("to", newName), slog.Int64("sessions", cascaded))
	c.publish(userID, string(kind))
	if cascaded > 0 {
		c.publish(userID, collSessions)
	}
	return nil
}

// DeleteRef removes an entry. Sessions keep their label.
func (c *Client) DeleteRef(ctx context.Context, userID string, kind domain.RefKind, id string) error {
	table, _, err := refTable(kind)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE id = ? AND user_id = ?;", table)
	var affected int64
	if err := c.write(ctx, "delete "+table, func() error {
		res, err := c.db.ExecContext(ctx, q, id, userID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	}); err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("mysql: %s %s: %w", kind, id, ports.ErrNotFound)
	}
	c.publish(userID, string(kind))
	return nil
}

// ListRefs returns the user's entries in creation order.
func (c *Client) ListRefs(ctx context.Context, userID string, kind domain.RefKind) ([]domain.RefEntry, error) {
	table, _, err := refTable(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT id, name, created_at, updated_at FROM %s WHERE user_id = ? ORDER BY id;", table)
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("mysql: list %s: %w", table, err)
	}
	defer rows.Close()

	out := []domain.RefEntry{}
	for rows.Next() {
		e := domain.RefEntry{UserID: userID}
		if err := rows.Scan(&e.ID, &e.Name, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("mysql: scan %s: %w", table, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
