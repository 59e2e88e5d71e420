package pingwatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/HerbHall/netatlas/internal/history"
	"github.com/HerbHall/netatlas/internal/settings"
	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"go.uber.org/zap"
)

// Config tunes the ping prober.
type Config struct {
	Interval  time.Duration `mapstructure:"interval"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	PeriodMs  int           `mapstructure:"period_ms"`
	FpingPath string        `mapstructure:"fping_path"`
}

// DefaultConfig returns a 30 second cadence with a 1 second per-packet
// timeout.
func DefaultConfig() Config {
	return Config{
		Interval:  30 * time.Second,
		TimeoutMs: 1000,
		PeriodMs:  100,
	}
}

// Module is the batch ping scheduler. Independent of the main polling
// engine and single-flight at the cycle level.
type Module struct {
	cfg     Config
	logger  *zap.Logger
	store   *Store
	history *history.Store
	setting *settings.Store
	pinger  BatchPinger

	// running is the cycle-overlap guard.
	running atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewModule wires the ping prober.
func NewModule(store *Store, historyStore *history.Store, settingsStore *settings.Store) *Module {
	return &Module{store: store, history: historyStore, setting: settingsStore}
}

// Info implements plugin.Plugin.
func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "pingwatch",
		Version:     "1.0.0",
		Description: "Batch ICMP probing of ping targets with loss and latency stats",
		Roles:       []string{"monitoring"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init implements plugin.Plugin.
func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return err
		}
	}
	if m.cfg.Interval <= 0 {
		m.cfg.Interval = 30 * time.Second
	}
	if m.cfg.TimeoutMs <= 0 {
		m.cfg.TimeoutMs = 1000
	}
	if m.cfg.PeriodMs <= 0 {
		m.cfg.PeriodMs = 100
	}
	m.logger = deps.Logger
	if m.pinger == nil {
		m.pinger = &FpingRunner{Path: m.cfg.FpingPath}
	}
	return nil
}

// Start implements plugin.Plugin.
func (m *Module) Start(ctx context.Context) error {
	interval := m.cfg.Interval
	if secs, err := m.setting.GetInt(ctx, settings.KeyPingInterval, 0); err == nil && secs > 0 {
		interval = time.Duration(secs) * time.Second
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.runCycle(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.runCycle(runCtx)
			}
		}
	}()

	m.logger.Info("ping prober started", zap.Duration("interval", interval))
	return nil
}

// Stop implements plugin.Plugin.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCycle pings every enabled target in one fping invocation and writes
// one history row per target.
func (m *Module) runCycle(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Warn("previous ping cycle still running, tick skipped")
		return
	}
	defer m.running.Store(false)

	targets, err := m.store.ListTargets(ctx, true)
	if err != nil {
		m.logger.Error("loading ping targets failed", zap.Error(err))
		return
	}
	if len(targets) == 0 {
		return
	}

	maxCount := 0
	addrs := make([]string, 0, len(targets))
	byAddr := make(map[string][]*models.PingTarget, len(targets))
	for _, t := range targets {
		if t.ProbeCount > maxCount {
			maxCount = t.ProbeCount
		}
		if _, dup := byAddr[t.IPAddress]; !dup {
			addrs = append(addrs, t.IPAddress)
		}
		byAddr[t.IPAddress] = append(byAddr[t.IPAddress], t)
	}

	// Budget: per-packet timeout plus spacing per packet, with headroom.
	budget := time.Duration(maxCount*(m.cfg.TimeoutMs+m.cfg.PeriodMs))*time.Millisecond + 10*time.Second
	pingCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	results, err := m.pinger.Ping(pingCtx, addrs, maxCount, m.cfg.TimeoutMs, m.cfg.PeriodMs)
	if err != nil {
		m.logger.Error("batch ping failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	rows := make([]models.PingSampleRow, 0, len(targets))
	for addr, res := range results {
		for _, t := range byAddr[addr] {
			rows = append(rows, buildSample(t, res, now))
		}
	}
	if err := m.history.InsertPingSamples(ctx, rows); err != nil {
		m.logger.Error("ping sample write failed", zap.Error(err))
		return
	}
	m.logger.Debug("ping cycle complete",
		zap.Int("targets", len(targets)), zap.Int("rows", len(rows)))
}
