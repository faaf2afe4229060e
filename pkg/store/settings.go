package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Well-known settings keys.
const (
	SettingNickname = "nickname"
)

// GetSetting returns the value for key, "" when unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	query := s.rebind(`SELECT value FROM app_settings WHERE name = ?`)
	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a settings key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	var query string
	switch s.dialect {
	case "mysql":
		query = `INSERT INTO app_settings (name, value, updated_at)
            VALUES (?, ?, ?)
            ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
	case "postgres":
		query = s.rebind(`INSERT INTO app_settings (name, value, updated_at)
            VALUES (?, ?, ?)
            ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	default: // sqlite3
		query = `INSERT INTO app_settings (name, value, updated_at)
            VALUES (?, ?, ?)
            ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}
