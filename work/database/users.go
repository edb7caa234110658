package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"kptv-timeshift/work/types"
)

// SaveUser inserts or updates a user keyed by username. The catch-up secret is
// stored as custom_properties.xc_password next to any extra properties.
func (db *DB) SaveUser(ctx context.Context, u *types.User, extra map[string]any) (int64, error) {
	props := map[string]any{}
	for k, v := range extra {
		props[k] = v
	}
	if u.CatchupSecret != "" {
		props["xc_password"] = u.CatchupSecret
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal user properties: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO users (username, user_level, custom_properties) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			user_level = excluded.user_level,
			custom_properties = excluded.custom_properties
	`, u.Username, u.UserLevel, string(propsJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to save user %s: %w", u.Username, err)
	}

	var id int64
	if err := db.QueryRowContext(ctx, "SELECT id FROM users WHERE username = ?", u.Username).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get user ID: %w", err)
	}

	return id, nil
}

// UserByUsername retrieves a user and its catch-up secret. Returns nil when the
// user does not exist.
func (db *DB) UserByUsername(ctx context.Context, username string) (*types.User, error) {
	query := `
		SELECT id, username, user_level,
		       COALESCE(CAST(json_extract(custom_properties, '$.xc_password') AS TEXT), '')
		FROM users
		WHERE username = ?
	`

	var u types.User
	err := db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.UserLevel, &u.CatchupSecret)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &u, nil
}
