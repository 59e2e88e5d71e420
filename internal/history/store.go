// Package history owns the time-series tables: device metrics, connection
// bandwidth, watched Prometheus samples, and ping samples. Writes are
// batched per cycle; a retention sweep ages everything out.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"go.uber.org/zap"
)

// Store provides batched writes and range queries over the history tables.
type Store struct {
	store  plugin.Store
	logger *zap.Logger
}

// NewStore creates the history store and applies its schema.
func NewStore(ctx context.Context, st plugin.Store, logger *zap.Logger) (*Store, error) {
	s := &Store{store: st, logger: logger}
	if err := st.Migrate(ctx, "history", migrations()); err != nil {
		return nil, fmt.Errorf("history migrations: %w", err)
	}
	return s, nil
}

func migrations() []plugin.Migration {
	return append([]plugin.Migration{
		{
			Version:     1,
			Description: "device metrics, bandwidth, prometheus samples, ping samples",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS history_device_metrics (
						device_id        TEXT NOT NULL,
						cpu_usage_pct    REAL,
						memory_usage_pct REAL,
						disk_usage_pct   REAL,
						ping_rtt_ms      REAL,
						uptime_seconds   INTEGER,
						recorded_at      DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_hist_metrics_device_time
						ON history_device_metrics(device_id, recorded_at)`,
					`CREATE TABLE IF NOT EXISTS history_bandwidth (
						connection_id  TEXT NOT NULL,
						device_id      TEXT NOT NULL,
						interface_name TEXT NOT NULL,
						rx_bps         REAL NOT NULL,
						tx_bps         REAL NOT NULL,
						recorded_at    DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_hist_bw_conn_time
						ON history_bandwidth(connection_id, recorded_at)`,
					`CREATE TABLE IF NOT EXISTS history_prom_samples (
						device_id   TEXT NOT NULL,
						metric_name TEXT NOT NULL,
						labels      TEXT,
						value       REAL NOT NULL,
						recorded_at DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_hist_prom_device_metric_time
						ON history_prom_samples(device_id, metric_name, recorded_at)`,
					`CREATE TABLE IF NOT EXISTS history_ping_samples (
						target_id   TEXT NOT NULL,
						sent        INTEGER NOT NULL,
						received    INTEGER NOT NULL,
						loss_pct    REAL NOT NULL,
						min_ms      REAL,
						max_ms      REAL,
						mean_ms     REAL,
						mdev_ms     REAL,
						p10_ms      REAL,
						p25_ms      REAL,
						p50_ms      REAL,
						p75_ms      REAL,
						p90_ms      REAL,
						p95_ms      REAL,
						recorded_at DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_hist_ping_target_time
						ON history_ping_samples(target_id, recorded_at)`,
				}
				for _, s := range stmts {
					if _, err := tx.Exec(s); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}, watchMigrations()...)
}

// InsertDeviceMetrics batch-inserts one cycle's device metric rows in a
// single statement. Rows with no metrics at all are dropped, as are rows
// whose floats are non-finite.
func (s *Store) InsertDeviceMetrics(ctx context.Context, rows []models.DeviceMetricRow) (int, error) {
	var values []string
	var args []any
	for _, r := range rows {
		r.CPUUsagePct = finite(r.CPUUsagePct)
		r.MemoryUsagePct = finite(r.MemoryUsagePct)
		r.DiskUsagePct = finite(r.DiskUsagePct)
		r.PingRTTMs = finite(r.PingRTTMs)
		if r.AllNil() {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, r.DeviceID, f64arg(r.CPUUsagePct), f64arg(r.MemoryUsagePct),
			f64arg(r.DiskUsagePct), f64arg(r.PingRTTMs), i64arg(r.UptimeSeconds), r.RecordedAt.UTC())
	}
	if len(values) == 0 {
		return 0, nil
	}

	q := `INSERT INTO history_device_metrics
		(device_id, cpu_usage_pct, memory_usage_pct, disk_usage_pct, ping_rtt_ms, uptime_seconds, recorded_at)
		VALUES ` + strings.Join(values, ", ")
	if _, err := s.store.DB().ExecContext(ctx, q, args...); err != nil {
		return 0, fmt.Errorf("insert device metrics: %w", err)
	}
	return len(values), nil
}

// InsertBandwidth batch-inserts one cycle's bandwidth rows.
func (s *Store) InsertBandwidth(ctx context.Context, rows []models.BandwidthRow) error {
	if len(rows) == 0 {
		return nil
	}
	var values []string
	var args []any
	for _, r := range rows {
		if !isFinite(r.RxBps) || !isFinite(r.TxBps) {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?)")
		args = append(args, r.ConnectionID, r.DeviceID, r.InterfaceName, r.RxBps, r.TxBps, r.RecordedAt.UTC())
	}
	if len(values) == 0 {
		return nil
	}
	q := `INSERT INTO history_bandwidth
		(connection_id, device_id, interface_name, rx_bps, tx_bps, recorded_at)
		VALUES ` + strings.Join(values, ", ")
	if _, err := s.store.DB().ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert bandwidth: %w", err)
	}
	return nil
}

// InsertPromSamples batch-inserts watched Prometheus samples.
func (s *Store) InsertPromSamples(ctx context.Context, rows []models.PromSample) error {
	if len(rows) == 0 {
		return nil
	}
	var values []string
	var args []any
	for _, r := range rows {
		if !isFinite(r.Value) {
			continue
		}
		labels, err := json.Marshal(r.Labels)
		if err != nil {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?)")
		args = append(args, r.DeviceID, r.MetricName, string(labels), r.Value, r.RecordedAt.UTC())
	}
	if len(values) == 0 {
		return nil
	}
	q := `INSERT INTO history_prom_samples (device_id, metric_name, labels, value, recorded_at)
		VALUES ` + strings.Join(values, ", ")
	if _, err := s.store.DB().ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert prom samples: %w", err)
	}
	return nil
}

// InsertPingSamples batch-inserts one ping cycle's rows.
func (s *Store) InsertPingSamples(ctx context.Context, rows []models.PingSampleRow) error {
	if len(rows) == 0 {
		return nil
	}
	var values []string
	var args []any
	for _, r := range rows {
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, r.TargetID, r.Sent, r.Received, r.LossPct,
			f64arg(r.MinMs), f64arg(r.MaxMs), f64arg(r.MeanMs), f64arg(r.MdevMs),
			f64arg(r.P10Ms), f64arg(r.P25Ms), f64arg(r.P50Ms), f64arg(r.P75Ms),
			f64arg(r.P90Ms), f64arg(r.P95Ms), r.RecordedAt.UTC())
	}
	q := `INSERT INTO history_ping_samples
		(target_id, sent, received, loss_pct, min_ms, max_ms, mean_ms, mdev_ms,
		 p10_ms, p25_ms, p50_ms, p75_ms, p90_ms, p95_ms, recorded_at)
		VALUES ` + strings.Join(values, ", ")
	if _, err := s.store.DB().ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert ping samples: %w", err)
	}
	return nil
}

// DeviceMetricsRange returns a device's metric rows in [from, to].
func (s *Store) DeviceMetricsRange(ctx context.Context, deviceID string, from, to time.Time) ([]models.DeviceMetricRow, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT device_id, cpu_usage_pct, memory_usage_pct, disk_usage_pct, ping_rtt_ms, uptime_seconds, recorded_at
		FROM history_device_metrics
		WHERE device_id = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at
	`, deviceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query device metrics: %w", err)
	}
	defer rows.Close()

	var out []models.DeviceMetricRow
	for rows.Next() {
		var r models.DeviceMetricRow
		var cpu, mem, disk, rtt sql.NullFloat64
		var up sql.NullInt64
		if err := rows.Scan(&r.DeviceID, &cpu, &mem, &disk, &rtt, &up, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan device metrics: %w", err)
		}
		r.CPUUsagePct = nullF64(cpu)
		r.MemoryUsagePct = nullF64(mem)
		r.DiskUsagePct = nullF64(disk)
		r.PingRTTMs = nullF64(rtt)
		if up.Valid {
			v := up.Int64
			r.UptimeSeconds = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BandwidthRange returns a connection's bandwidth rows in [from, to].
func (s *Store) BandwidthRange(ctx context.Context, connectionID string, from, to time.Time) ([]models.BandwidthRow, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT connection_id, device_id, interface_name, rx_bps, tx_bps, recorded_at
		FROM history_bandwidth
		WHERE connection_id = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at
	`, connectionID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query bandwidth: %w", err)
	}
	defer rows.Close()

	var out []models.BandwidthRow
	for rows.Next() {
		var r models.BandwidthRow
		if err := rows.Scan(&r.ConnectionID, &r.DeviceID, &r.InterfaceName, &r.RxBps, &r.TxBps, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan bandwidth: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// prune deletes rows older than the horizon in one table.
func (s *Store) prune(ctx context.Context, table string, olderThan time.Time) (int64, error) {
	res, err := s.store.DB().ExecContext(ctx,
		"DELETE FROM "+table+" WHERE recorded_at < ?", olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", table, err)
	}
	return res.RowsAffected()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finite(v *float64) *float64 {
	if v == nil || !isFinite(*v) {
		return nil
	}
	return v
}

func f64arg(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func i64arg(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullF64(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
