// Package monitor is the polling engine: a fixed-pool scheduler that probes
// every device each cycle, derives status, and feeds the history, IPAM, and
// virtualization pipelines.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/netatlas/internal/atlas"
	"github.com/HerbHall/netatlas/internal/history"
	"github.com/HerbHall/netatlas/internal/inventory"
	"github.com/HerbHall/netatlas/internal/ipam"
	"github.com/HerbHall/netatlas/internal/probe"
	"github.com/HerbHall/netatlas/internal/settings"
	"github.com/HerbHall/netatlas/internal/virt"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"go.uber.org/zap"
)

// Engine drives the probe cycles. One instance per process.
type Engine struct {
	cfg    Config
	logger *zap.Logger
	bus    plugin.EventBus

	devices  *inventory.Store
	atlas    *atlas.Store
	history  *history.Store
	tracker  *history.BandwidthTracker
	ipam     *ipam.Reconciler
	virt     *virt.Resolver
	settings *settings.Store

	ros     *probe.RouterOSProber
	snmp    *probe.SNMPProber
	prom    *probe.PrometheusProber
	pve     *probe.ProxmoxProber
	icmp    *probe.ICMPProber
	traffic *probe.TrafficProber

	// isProbing guards against cycle overlap; a tick that fires while the
	// previous cycle is draining is skipped, not queued.
	isProbing    atomic.Bool
	cycleCounter atomic.Uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine wires the engine to its collaborators. Probers are built in
// Init once the module config is known.
func NewEngine(
	devices *inventory.Store,
	atlasStore *atlas.Store,
	historyStore *history.Store,
	tracker *history.BandwidthTracker,
	reconciler *ipam.Reconciler,
	resolver *virt.Resolver,
	settingsStore *settings.Store,
) *Engine {
	return &Engine{
		devices:  devices,
		atlas:    atlasStore,
		history:  historyStore,
		tracker:  tracker,
		ipam:     reconciler,
		virt:     resolver,
		settings: settingsStore,
	}
}

// Info implements plugin.Plugin.
func (e *Engine) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "monitor",
		Version:     "1.0.0",
		Description: "Periodic device polling, status derivation, and history capture",
		Required:    true,
		Roles:       []string{"monitoring"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

// Init implements plugin.Plugin.
func (e *Engine) Init(ctx context.Context, deps plugin.Dependencies) error {
	e.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&e.cfg); err != nil {
			return err
		}
	}
	e.cfg.normalize()
	e.logger = deps.Logger
	e.bus = deps.Bus

	e.ros = probe.NewRouterOSProber(e.logger.Named("routeros"))
	e.snmp = probe.NewSNMPProber(e.logger.Named("snmp"))
	e.prom = probe.NewPrometheusProber(e.logger.Named("prometheus"))
	e.pve = probe.NewProxmoxProber(e.logger.Named("proxmox"))
	e.icmp = probe.NewICMPProber(e.cfg.PingCount, e.cfg.PingTimeout, e.logger.Named("icmp"))
	e.traffic = probe.NewTrafficProber(e.snmp, e.logger.Named("traffic"))
	return nil
}

// Start implements plugin.Plugin. Operators can override the poll interval
// through settings without a restart taking effect mid-flight; the override
// is read once at startup.
func (e *Engine) Start(ctx context.Context) error {
	interval := e.cfg.PollInterval
	if secs, err := e.settings.GetInt(ctx, settings.KeyPollingInterval, 0); err == nil && secs > 0 {
		interval = time.Duration(secs) * time.Second
	}
	if n, err := e.settings.GetInt(ctx, settings.KeyDetailedInterval, 0); err == nil && n > 0 {
		e.cfg.DetailedEvery = n
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		e.runCycle(runCtx)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				e.runCycle(runCtx)
			}
		}
	}()

	e.logger.Info("monitor started",
		zap.Duration("interval", interval),
		zap.Int("workers", e.cfg.Workers),
		zap.Duration("deadline", e.cfg.ProbeDeadline),
	)
	return nil
}

// Stop implements plugin.Plugin.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCycle probes every device once through the bounded worker pool, then
// samples traffic counters for monitored connections.
func (e *Engine) runCycle(ctx context.Context) {
	if !e.isProbing.CompareAndSwap(false, true) {
		cyclesSkipped.Inc()
		e.logger.Warn("previous cycle still running, tick skipped")
		return
	}
	defer e.isProbing.Store(false)

	n := e.cycleCounter.Add(1)
	detailed := n%uint64(e.cfg.DetailedEvery) == 0
	start := time.Now()

	devices, err := e.devices.GetAllDevices(ctx)
	if err != nil {
		e.logger.Error("loading devices failed", zap.Error(err))
		return
	}

	var total, success, timeout, errored atomic.Int64
	sem := make(chan struct{}, e.cfg.Workers)
	var wg sync.WaitGroup

	for _, d := range devices {
		if d.IPAddress == "" {
			continue
		}
		total.Add(1)
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			switch e.probeDevice(ctx, d, detailed) {
			case outcomeSuccess:
				success.Add(1)
			case outcomeTimeout:
				timeout.Add(1)
			default:
				errored.Add(1)
			}
		}()
	}
	wg.Wait()

	e.sampleTraffic(ctx)

	elapsed := time.Since(start)
	cycleDuration.Observe(elapsed.Seconds())
	e.logger.Info("cycle complete",
		zap.Uint64("cycle", n),
		zap.Bool("detailed", detailed),
		zap.Int64("total", total.Load()),
		zap.Int64("success", success.Load()),
		zap.Int64("timeout", timeout.Load()),
		zap.Int64("error", errored.Load()),
		zap.Duration("elapsed", elapsed),
	)
}
