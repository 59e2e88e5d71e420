// Package settings persists operator-tunable runtime settings as key→JSON
// pairs, so values like the polling interval survive restarts and can change
// without a config file edit.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/HerbHall/netatlas/pkg/plugin"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("setting not found")

// Well-known setting keys.
const (
	KeyPollingInterval  = "polling_interval"   // seconds
	KeyPingInterval     = "ping_interval"      // seconds
	KeyPingProbeCount   = "ping_probe_count"   // 1..100
	KeyGlobalAlarmMute  = "global_alarm_mute"  // models.GlobalMute
	KeyDetailedInterval = "detailed_interval"  // cycles between detailed probes
)

// Store reads and writes settings rows.
type Store struct {
	store plugin.Store
}

// NewStore creates the settings store and applies its schema.
func NewStore(ctx context.Context, st plugin.Store) (*Store, error) {
	s := &Store{store: st}
	if err := st.Migrate(ctx, "settings", migrations()); err != nil {
		return nil, fmt.Errorf("settings migrations: %w", err)
	}
	return s, nil
}

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "settings key/value table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS settings (
						key        TEXT PRIMARY KEY,
						value      TEXT NOT NULL,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)
				`)
				return err
			},
		},
	}
}

// Get unmarshals the stored JSON value for key into target.
func (s *Store) Get(ctx context.Context, key string, target any) error {
	var raw string
	err := s.store.DB().QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get setting %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("decode setting %q: %w", key, err)
	}
	return nil
}

// Set stores value as JSON under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %q: %w", key, err)
	}
	_, err = s.store.DB().ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, string(raw))
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// GetInt returns the integer stored under key, or def when unset.
func (s *Store) GetInt(ctx context.Context, key string, def int) (int, error) {
	var v int
	err := s.Get(ctx, key, &v)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

// GetBool returns the boolean stored under key, or def when unset.
func (s *Store) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	var v bool
	err := s.Get(ctx, key, &v)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return false, err
	}
	return v, nil
}
