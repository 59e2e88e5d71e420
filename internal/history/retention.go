package history

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetentionConfig sets per-table retention horizons in hours. Zero disables
// pruning for that table.
type RetentionConfig struct {
	DeviceMetricsHours int           `mapstructure:"device_metrics_hours"`
	BandwidthHours     int           `mapstructure:"bandwidth_hours"`
	PromSamplesHours   int           `mapstructure:"prom_samples_hours"`
	PingSamplesHours   int           `mapstructure:"ping_samples_hours"`
	StatusEventsHours  int           `mapstructure:"status_events_hours"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

// DefaultRetention keeps device metrics and ping samples for a week,
// bandwidth for two days, Prometheus samples for a month, and the
// status-change journal for a quarter.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		DeviceMetricsHours: 7 * 24,
		BandwidthHours:     2 * 24,
		PromSamplesHours:   30 * 24,
		PingSamplesHours:   7 * 24,
		StatusEventsHours:  90 * 24,
		SweepInterval:      time.Hour,
	}
}

// StatusEventPruner deletes status-change journal rows older than a cutoff.
// The journal lives in the inventory module, so the sweep reaches it through
// this interface rather than a table name.
type StatusEventPruner interface {
	PruneStatusEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// RunRetention prunes aged rows on the configured interval until the context
// is cancelled. A failed prune on one table is logged and does not stop the
// sweep. events may be nil when no status-event journal is attached.
func (s *Store) RunRetention(ctx context.Context, cfg RetentionConfig, events StatusEventPruner) {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, cfg, events)
		}
	}
}

// Sweep runs one retention pass over all history tables and the status-event
// journal.
func (s *Store) Sweep(ctx context.Context, cfg RetentionConfig, events StatusEventPruner) {
	now := time.Now().UTC()
	tables := []struct {
		name  string
		hours int
	}{
		{"history_device_metrics", cfg.DeviceMetricsHours},
		{"history_bandwidth", cfg.BandwidthHours},
		{"history_prom_samples", cfg.PromSamplesHours},
		{"history_ping_samples", cfg.PingSamplesHours},
	}
	for _, t := range tables {
		if t.hours <= 0 {
			continue
		}
		horizon := now.Add(-time.Duration(t.hours) * time.Hour)
		n, err := s.prune(ctx, t.name, horizon)
		if err != nil {
			s.logger.Warn("retention prune failed", zap.String("table", t.name), zap.Error(err))
			continue
		}
		if n > 0 {
			s.logger.Debug("retention pruned rows", zap.String("table", t.name), zap.Int64("rows", n))
		}
	}

	if events != nil && cfg.StatusEventsHours > 0 {
		horizon := now.Add(-time.Duration(cfg.StatusEventsHours) * time.Hour)
		n, err := events.PruneStatusEvents(ctx, horizon)
		if err != nil {
			s.logger.Warn("status event prune failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Debug("retention pruned rows",
				zap.String("table", "device_status_events"), zap.Int64("rows", n))
		}
	}
}
