package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/HerbHall/netatlas/internal/event"
	"github.com/HerbHall/netatlas/internal/probe"
	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"go.uber.org/zap"
)

// probeDevice runs one device's probe under the hard deadline and performs
// the write-back sequence. Returns the outcome label for the cycle summary.
func (e *Engine) probeDevice(ctx context.Context, d *models.Device, detailed bool) string {
	taskCtx, cancel := context.WithTimeout(ctx, e.cfg.ProbeDeadline)
	defer cancel()

	creds, err := e.devices.ResolveCredentials(ctx, d)
	if err != nil && d.Type != models.DeviceTypeGenericPing {
		e.logger.Warn("credential resolution failed",
			zap.String("device", d.ID), zap.Error(err))
		return e.writeBack(ctx, d, &probe.Result{Success: false}, outcomeError)
	}

	prober := e.proberFor(d, creds)
	target := probe.Target{Device: d, Credentials: creds, Detailed: detailed}
	if _, ok := prober.(*probe.PrometheusProber); ok && detailed {
		if watches, err := e.history.ListWatchesByDevice(ctx, d.ID); err == nil {
			target.Watches = watches
		}
	}

	res, err := runProbe(taskCtx, prober, target)
	if err != nil {
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			return e.writeBack(ctx, d, &probe.Result{Success: false}, outcomeTimeout)
		}
		e.logger.Warn("probe misuse", zap.String("device", d.ID), zap.Error(err))
		return e.writeBack(ctx, d, &probe.Result{Success: false}, outcomeError)
	}
	if !res.Success && errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		return e.writeBack(ctx, d, res, outcomeTimeout)
	}

	// Link-state trigger: on a normal cycle a Mikrotik port coming back up
	// promotes this probe to detailed so the fresh link speed gets sampled.
	if !detailed && d.Type.IsMikrotik() && res.Success && portCameUp(d.DeviceData, res.Data) {
		target.Detailed = true
		if promoted, err := runProbe(taskCtx, prober, target); err == nil && promoted.Success {
			res = promoted
		}
	}

	outcome := outcomeError
	if res.Success {
		outcome = outcomeSuccess
	}
	return e.writeBack(ctx, d, res, outcome)
}

// runProbe executes the probe on its own goroutine so the hard deadline
// holds even when an adapter blocks in protocol I/O. An overrunning probe is
// abandoned as failed; it unblocks on its own once its connection dies, and
// the cycle must not wait for that.
func runProbe(ctx context.Context, p probe.Prober, target probe.Target) (*probe.Result, error) {
	type outcome struct {
		res *probe.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := p.Probe(ctx, target)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case out := <-ch:
		return out.res, out.err
	case <-ctx.Done():
		return &probe.Result{Success: false}, nil
	}
}

// proberFor picks the adapter for a device. Servers choose between SNMP and
// Prometheus based on which credential shape they carry.
func (e *Engine) proberFor(d *models.Device, creds *models.Credentials) probe.Prober {
	switch d.Type {
	case models.DeviceTypeMikrotikRouter, models.DeviceTypeMikrotikSwitch:
		return e.ros
	case models.DeviceTypeGenericSNMP, models.DeviceTypeAccessPoint:
		return e.snmp
	case models.DeviceTypeProxmox:
		return e.pve
	case models.DeviceTypeServer:
		if creds != nil && creds.Type == models.CredentialTypePrometheus {
			return e.prom
		}
		return e.snmp
	default:
		return e.icmp
	}
}

// portCameUp reports whether any port that was down in the cached snapshot
// is up in the new one. Ports match on defaultName, falling back to name.
func portCameUp(prev *models.DeviceData, cur *models.DeviceData) bool {
	if prev == nil || cur == nil {
		return false
	}
	for i := range cur.Ports {
		p := &cur.Ports[i]
		if p.Status != "up" {
			continue
		}
		if old := prev.PortByDefaultName(p.DefaultName, p.Name); old != nil && old.Status == "down" {
			return true
		}
	}
	return false
}

// writeBack persists one probe outcome in the required order: device data,
// status, history, status event, then notification dispatch via the bus.
// A failed probe derives offline but keeps the last known device data.
func (e *Engine) writeBack(ctx context.Context, d *models.Device, res *probe.Result, outcome string) string {
	now := time.Now().UTC()
	probeOutcomes.WithLabelValues(outcome).Inc()

	if res.Success && res.Data != nil {
		if err := e.devices.UpdateDeviceData(ctx, d.ID, res.Data); err != nil {
			e.logger.Error("device data write failed", zap.String("device", d.ID), zap.Error(err))
			return outcomeError
		}
	}

	next := deriveStatus(res)
	changed := next != d.Status
	if changed {
		if err := e.devices.UpdateDeviceStatus(ctx, d.ID, next); err != nil {
			e.logger.Error("status write failed", zap.String("device", d.ID), zap.Error(err))
			return outcomeError
		}
	}

	if res.Success && res.Data != nil {
		row := models.DeviceMetricRow{
			DeviceID:       d.ID,
			CPUUsagePct:    res.Data.CPUUsagePct,
			MemoryUsagePct: res.Data.MemoryUsagePct,
			DiskUsagePct:   res.Data.DiskUsagePct,
			PingRTTMs:      res.Data.PingRTTMs,
			UptimeSeconds:  res.Data.UptimeSeconds,
			RecordedAt:     now,
		}
		if _, err := e.history.InsertDeviceMetrics(ctx, []models.DeviceMetricRow{row}); err != nil {
			e.logger.Error("history write failed", zap.String("device", d.ID), zap.Error(err))
		}
	}
	if len(res.Samples) > 0 {
		if err := e.history.InsertPromSamples(ctx, res.Samples); err != nil {
			e.logger.Error("sample write failed", zap.String("device", d.ID), zap.Error(err))
		}
	}

	if changed {
		ev, err := e.devices.AppendStatusEvent(ctx, d.ID, d.Status, next)
		if err != nil {
			e.logger.Error("status event append failed", zap.String("device", d.ID), zap.Error(err))
			return outcomeError
		}
		e.logger.Info("device status changed",
			zap.String("device", d.ID),
			zap.String("name", d.Name),
			zap.String("from", string(d.Status)),
			zap.String("to", string(next)),
		)
		e.bus.PublishAsync(ctx, plugin.Event{
			Topic:     event.TopicDeviceStatusChanged,
			Source:    "monitor",
			Timestamp: now,
			Payload: &models.DeviceStatusEvent{
				ID:             ev.ID,
				DeviceID:       d.ID,
				PreviousStatus: d.Status,
				NewStatus:      next,
				CreatedAt:      ev.CreatedAt,
			},
		})
	}

	if len(res.Interfaces) > 0 {
		if err := e.devices.UpsertInterfaces(ctx, d.ID, res.Interfaces); err != nil {
			e.logger.Warn("interface sync failed", zap.String("device", d.ID), zap.Error(err))
		}
	}
	if len(res.Addresses) > 0 {
		if _, err := e.ipam.Sync(ctx, d.ID, res.Addresses); err != nil {
			e.logger.Warn("ipam sync failed", zap.String("device", d.ID), zap.Error(err))
		}
	}
	if res.Proxmox != nil {
		if err := e.virt.Ingest(ctx, d.ID, res.Proxmox); err != nil {
			e.logger.Warn("proxmox ingest failed", zap.String("device", d.ID), zap.Error(err))
		}
	}
	return outcome
}
