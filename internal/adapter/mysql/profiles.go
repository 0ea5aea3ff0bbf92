package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"freetime/internal/domain"
	"freetime/internal/ports"
)

// EnsureProfile creates the user record with default settings on first
// sign-in and returns the stored profile.
func (c *Client) EnsureProfile(ctx context.Context, id domain.Identity) (domain.Profile, error) {
	settings, err := json.Marshal(domain.DefaultSettings())
	if err != nil {
		return domain.Profile{}, err
	}
	const q = `
INSERT IGNORE INTO users (user_id, email, display_name, settings, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?);
`
	now := c.now()
	if err := c.write(ctx, "ensure profile", func() error {
		_, err := c.db.ExecContext(ctx, q, id.ID, id.Email, id.DisplayName, string(settings), now, now)
		return err
	}); err != nil {
		return domain.Profile{}, err
	}
	return c.getProfile(ctx, id.ID)
}

// SaveSettings replaces the settings embedded in the user record.
func (c *Client) SaveSettings(ctx context.Context, userID string, s domain.Settings) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO users (user_id, email, display_name, settings, created_at, updated_at)
VALUES (?, '', '', ?, ?, ?)
ON DUPLICATE KEY UPDATE
  settings=VALUES(settings),
  updated_at=VALUES(updated_at);
`
	now := c.now()
	if err := c.write(ctx, "save settings", func() error {
		_, err := c.db.ExecContext(ctx, q, userID, string(b), now, now)
		return err
	}); err != nil {
		return err
	}
	c.publish(userID, collSettings)
	return nil
}

func (c *Client) getProfile(ctx context.Context, userID string) (domain.Profile, error) {
	const q = `SELECT email, display_name, settings, created_at, updated_at FROM users WHERE user_id = ?;`
	p := domain.Profile{UserID: userID}
	var raw []byte
	err := c.db.QueryRowContext(ctx, q, userID).Scan(&p.Email, &p.DisplayName, &raw, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("mysql: profile %s: %w", userID, ports.ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("mysql: get profile: %w", err)
	}
	p.Settings = domain.DefaultSettings()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Settings); err != nil {
			return p, fmt.Errorf("mysql: decode settings: %w", err)
		}
	}
	return p, nil
}
