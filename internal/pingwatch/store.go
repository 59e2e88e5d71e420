// Package pingwatch runs the batch ICMP prober: every cycle it hands all
// enabled targets to fping in one invocation and records per-target loss
// and latency statistics.
package pingwatch

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"github.com/google/uuid"
)

// Store manages ping targets.
type Store struct {
	store plugin.Store
}

// NewStore creates the target store and applies its schema.
func NewStore(ctx context.Context, st plugin.Store) (*Store, error) {
	s := &Store{store: st}
	if err := st.Migrate(ctx, "pingwatch", migrations()); err != nil {
		return nil, fmt.Errorf("pingwatch migrations: %w", err)
	}
	return s, nil
}

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "ping targets",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS ping_targets (
					id          TEXT PRIMARY KEY,
					device_id   TEXT REFERENCES devices(id) ON DELETE SET NULL,
					ip_address  TEXT NOT NULL,
					label       TEXT,
					enabled     INTEGER NOT NULL DEFAULT 1,
					probe_count INTEGER NOT NULL DEFAULT 20,
					created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
				)`)
				return err
			},
		},
	}
}

// CreateTarget inserts a target, clamping the probe count into [1, 100].
func (s *Store) CreateTarget(ctx context.Context, t *models.PingTarget) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.ProbeCount = clampCount(t.ProbeCount)
	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO ping_targets (id, device_id, ip_address, label, enabled, probe_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, nullStr(t.DeviceID), t.IPAddress, nullStr(t.Label), boolInt(t.Enabled), t.ProbeCount)
	if err != nil {
		return fmt.Errorf("insert ping target: %w", err)
	}
	return nil
}

// UpdateTarget rewrites a target row.
func (s *Store) UpdateTarget(ctx context.Context, t *models.PingTarget) error {
	t.ProbeCount = clampCount(t.ProbeCount)
	_, err := s.store.DB().ExecContext(ctx, `
		UPDATE ping_targets SET device_id = ?, ip_address = ?, label = ?, enabled = ?, probe_count = ?
		WHERE id = ?
	`, nullStr(t.DeviceID), t.IPAddress, nullStr(t.Label), boolInt(t.Enabled), t.ProbeCount, t.ID)
	if err != nil {
		return fmt.Errorf("update ping target: %w", err)
	}
	return nil
}

// DeleteTarget removes a target.
func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	_, err := s.store.DB().ExecContext(ctx, "DELETE FROM ping_targets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete ping target: %w", err)
	}
	return nil
}

// ListTargets returns all targets; with enabledOnly set, only active ones.
func (s *Store) ListTargets(ctx context.Context, enabledOnly bool) ([]*models.PingTarget, error) {
	q := `SELECT id, COALESCE(device_id, ''), ip_address, COALESCE(label, ''),
		enabled, probe_count, created_at FROM ping_targets`
	if enabledOnly {
		q += " WHERE enabled = 1"
	}
	q += " ORDER BY created_at, id"

	rows, err := s.store.DB().QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query ping targets: %w", err)
	}
	defer rows.Close()

	var out []*models.PingTarget
	for rows.Next() {
		var t models.PingTarget
		var enabled int
		if err := rows.Scan(&t.ID, &t.DeviceID, &t.IPAddress, &t.Label, &enabled,
			&t.ProbeCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ping target: %w", err)
		}
		t.Enabled = enabled != 0
		out = append(out, &t)
	}
	return out, rows.Err()
}

func clampCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
