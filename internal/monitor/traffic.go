package monitor

import (
	"context"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	"go.uber.org/zap"
)

// sampleTraffic reads octet counters for every connection with a monitor
// interface and converts consecutive samples into bandwidth rows. The
// counters are read from whichever endpoint device has SNMP credentials,
// preferring the source side.
func (e *Engine) sampleTraffic(ctx context.Context) {
	conns, err := e.atlas.ListMonitored(ctx)
	if err != nil {
		e.logger.Error("loading monitored connections failed", zap.Error(err))
		return
	}
	if len(conns) == 0 {
		return
	}

	placements := make(map[string]map[string]*models.Placement) // mapID -> placementID
	lookup := func(mapID, placementID string) *models.Placement {
		byID, ok := placements[mapID]
		if !ok {
			list, err := e.atlas.ListPlacements(ctx, mapID)
			if err != nil {
				return nil
			}
			byID = make(map[string]*models.Placement, len(list))
			for _, p := range list {
				byID[p.ID] = p
			}
			placements[mapID] = byID
		}
		return byID[placementID]
	}

	var rows []models.BandwidthRow
	for _, conn := range conns {
		device, cred := e.snmpEndpoint(ctx,
			lookup(conn.MapID, conn.FromID), lookup(conn.MapID, conn.ToID))
		if device == nil {
			e.logger.Debug("no snmp-capable endpoint for monitored connection",
				zap.String("connection", conn.ID))
			continue
		}

		sampleCtx, cancel := context.WithTimeout(ctx, e.cfg.ProbeDeadline)
		sample, err := e.traffic.Sample(sampleCtx, device.IPAddress, cred, conn.MonitorInterface)
		cancel()
		if err != nil {
			e.logger.Debug("traffic sample failed",
				zap.String("connection", conn.ID), zap.Error(err))
			continue
		}

		rx, tx, ok := e.tracker.Rate(conn.ID, *sample)
		if !ok {
			continue // first sample or counter reset, nothing to record
		}
		rows = append(rows, models.BandwidthRow{
			ConnectionID:  conn.ID,
			DeviceID:      device.ID,
			InterfaceName: conn.MonitorInterface,
			RxBps:         rx,
			TxBps:         tx,
			RecordedAt:    time.Now().UTC(),
		})
	}

	if err := e.history.InsertBandwidth(ctx, rows); err != nil {
		e.logger.Error("bandwidth write failed", zap.Error(err))
	}
}

// snmpEndpoint returns the first endpoint device that resolves to SNMP
// credentials, with those credentials.
func (e *Engine) snmpEndpoint(ctx context.Context, ends ...*models.Placement) (*models.Device, *models.SNMPCredentials) {
	for _, p := range ends {
		if p == nil {
			continue
		}
		device, err := e.devices.GetDevice(ctx, p.DeviceID)
		if err != nil || device.IPAddress == "" {
			continue
		}
		creds, err := e.devices.ResolveCredentials(ctx, device)
		if err != nil || creds == nil || creds.SNMP == nil {
			continue
		}
		return device, creds.SNMP
	}
	return nil, nil
}
