package database

import (
	"context"
	"encoding/json"
	"fmt"

	"kptv-timeshift/work/types"
)

// PluginSettings loads the live plugin settings. Values are stored JSON-encoded
// per key. A missing "enabled" key means enabled; missing timezone or language
// are returned empty for the caller to default.
func (db *DB) PluginSettings(ctx context.Context) (*types.PluginSettings, error) {
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM plugin_config")
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin settings: %w", err)
	}
	defer rows.Close()

	configMap := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan plugin setting: %w", err)
		}
		configMap[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load plugin settings: %w", err)
	}

	settings := &types.PluginSettings{Enabled: true}

	if val, ok := configMap["enabled"]; ok {
		if err := json.Unmarshal([]byte(val), &settings.Enabled); err != nil {
			return nil, fmt.Errorf("invalid enabled setting %q: %w", val, err)
		}
	}
	if val, ok := configMap["timezone"]; ok {
		if err := json.Unmarshal([]byte(val), &settings.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone setting %q: %w", val, err)
		}
	}
	if val, ok := configMap["language"]; ok {
		if err := json.Unmarshal([]byte(val), &settings.Language); err != nil {
			return nil, fmt.Errorf("invalid language setting %q: %w", val, err)
		}
	}

	return settings, nil
}

// SavePluginSettings persists every plugin setting in one transaction.
func (db *DB) SavePluginSettings(ctx context.Context, settings *types.PluginSettings) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO plugin_config (key, value, updated_at) VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	save := func(key string, value interface{}) error {
		jsonValue, err := json.Marshal(value)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx, key, string(jsonValue))
		return err
	}

	if err := save("enabled", settings.Enabled); err != nil {
		return fmt.Errorf("failed to save enabled: %w", err)
	}
	if err := save("timezone", settings.Timezone); err != nil {
		return fmt.Errorf("failed to save timezone: %w", err)
	}
	if err := save("language", settings.Language); err != nil {
		return fmt.Errorf("failed to save language: %w", err)
	}

	return tx.Commit()
}
