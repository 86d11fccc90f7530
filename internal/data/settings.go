package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/technosupport/vms-watch/internal/config"
	"github.com/technosupport/vms-watch/internal/crypto"
)

// GetSetting returns key's persisted value. Sensitive keys (API
// credentials) are sealed at rest when the store has a keyring, and
// are transparently unsealed here; callers that need to show a value
// externally still mask it themselves with config.MaskSecret.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("data: get setting %s: %w", key, err)
	}
	if s.Keyring != nil && config.SensitiveKeys[key] {
		value, err = crypto.OpenString(s.Keyring, value, []byte(key))
		if err != nil {
			return "", false, fmt.Errorf("data: unseal setting %s: %w", key, err)
		}
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	stored := value
	if s.Keyring != nil && config.SensitiveKeys[key] {
		var err error
		if stored, err = crypto.SealString(s.Keyring, value, []byte(key)); err != nil {
			return fmt.Errorf("data: seal setting %s: %w", key, err)
		}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, stored,
	)
	if err != nil {
		return fmt.Errorf("data: set setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("data: delete setting %s: %w", key, err)
	}
	return nil
}

// LoadSettingsToEnv copies every persisted setting into the process
// environment, so a ModelProvider reading os.Getenv("OPENAI_API_KEY") sees
// the DB-backed value without each caller threading the store through.
// Settings are persisted; the environment is only the fallback for keys
// with no row, so a persisted value always overwrites one already in
// the environment.
func (s *Store) LoadSettingsToEnv(ctx context.Context) error {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return fmt.Errorf("data: load settings to env: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if s.Keyring != nil && config.SensitiveKeys[key] {
			unsealed, err := crypto.OpenString(s.Keyring, value, []byte(key))
			if err != nil {
				return fmt.Errorf("data: unseal setting %s: %w", key, err)
			}
			value = unsealed
		}
		os.Setenv(key, value)
	}
	return nil
}
