package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"github.com/google/uuid"
)

func watchMigrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     2,
			Description: "prometheus metric watches",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS metric_watches (
					id          TEXT PRIMARY KEY,
					device_id   TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
					metric_name TEXT NOT NULL,
					labels      TEXT,
					created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (device_id, metric_name, labels)
				)`)
				return err
			},
		},
	}
}

// CreateWatch registers a metric to sample on detailed Prometheus polls.
func (s *Store) CreateWatch(ctx context.Context, w *models.MetricWatch) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	labels, err := json.Marshal(w.Labels)
	if err != nil {
		return fmt.Errorf("marshal watch labels: %w", err)
	}
	_, err = s.store.DB().ExecContext(ctx, `
		INSERT INTO metric_watches (id, device_id, metric_name, labels) VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, metric_name, labels) DO NOTHING
	`, w.ID, w.DeviceID, w.MetricName, string(labels))
	if err != nil {
		return fmt.Errorf("insert metric watch: %w", err)
	}
	return nil
}

// ListWatchesByDevice returns the watches registered for one device.
func (s *Store) ListWatchesByDevice(ctx context.Context, deviceID string) ([]models.MetricWatch, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, device_id, metric_name, COALESCE(labels, '{}')
		FROM metric_watches WHERE device_id = ? ORDER BY metric_name
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query metric watches: %w", err)
	}
	defer rows.Close()

	var out []models.MetricWatch
	for rows.Next() {
		var w models.MetricWatch
		var labels string
		if err := rows.Scan(&w.ID, &w.DeviceID, &w.MetricName, &labels); err != nil {
			return nil, fmt.Errorf("scan metric watch: %w", err)
		}
		if err := json.Unmarshal([]byte(labels), &w.Labels); err != nil {
			w.Labels = nil
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWatch removes a watch.
func (s *Store) DeleteWatch(ctx context.Context, id string) error {
	_, err := s.store.DB().ExecContext(ctx, "DELETE FROM metric_watches WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete metric watch: %w", err)
	}
	return nil
}
