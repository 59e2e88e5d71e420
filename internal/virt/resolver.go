package virt

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/HerbHall/netatlas/internal/atlas"
	"github.com/HerbHall/netatlas/internal/event"
	"github.com/HerbHall/netatlas/internal/probe"
	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"go.uber.org/zap"
)

// DeviceResolver is the slice of the inventory the matcher needs.
type DeviceResolver interface {
	GetDeviceByAnyIP(ctx context.Context, ip string) (*models.Device, error)
}

// Resolver ingests Proxmox probe results: it syncs nodes and guests,
// auto-matches guests to inventory devices, and retargets dynamic
// VM-to-host connections after migrations.
type Resolver struct {
	store   *Store
	atlas   *atlas.Store
	devices DeviceResolver
	bus     plugin.EventBus
	logger  *zap.Logger
}

// NewResolver wires the resolver.
func NewResolver(store *Store, atlasStore *atlas.Store, devices DeviceResolver, bus plugin.EventBus, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, atlas: atlasStore, devices: devices, bus: bus, logger: logger}
}

// Ingest processes one Proxmox inventory sweep from a host device.
func (r *Resolver) Ingest(ctx context.Context, hostDeviceID string, inv *probe.ProxmoxInventory) error {
	sweepStart := time.Now().UTC()

	for _, node := range inv.Nodes {
		if err := r.store.UpsertNode(ctx, hostDeviceID, inv.ClusterName, node.Name, node.Online); err != nil {
			return err
		}
	}

	seen := make([]int, 0, len(inv.Guests))
	for _, guest := range inv.Guests {
		vm := &models.ProxmoxVm{
			HostDeviceID:  hostDeviceID,
			VMID:          guest.VMID,
			Name:          guest.Name,
			Type:          guest.Type,
			Node:          guest.Node,
			Status:        guest.Status,
			CPUs:          guest.CPUs,
			MaxMemBytes:   guest.MaxMemBytes,
			MaxDiskBytes:  guest.MaxDiskBytes,
			UptimeSeconds: guest.UptimeSeconds,
			IPAddresses:   guest.IPAddresses,
			MACAddresses:  guest.MACAddresses,
		}
		vm.MatchedDeviceID = r.matchDevice(ctx, guest.IPAddresses)
		if err := r.store.UpsertVM(ctx, vm); err != nil {
			return err
		}
		seen = append(seen, guest.VMID)

		if vm.MatchedDeviceID != "" {
			if err := r.resolveConnections(ctx, inv.ClusterName, vm); err != nil {
				r.logger.Warn("dynamic connection resolution failed",
					zap.Int("vmid", vm.VMID), zap.Error(err))
			}
		}
	}

	if err := r.store.MarkUnseenOffline(ctx, hostDeviceID, seen, sweepStart); err != nil {
		r.logger.Warn("marking unseen guests failed", zap.Error(err))
	}
	return nil
}

// matchDevice finds the first inventory device whose primary IP or any IPAM
// address equals one of the guest's usable addresses.
func (r *Resolver) matchDevice(ctx context.Context, ips []string) string {
	for _, raw := range ips {
		ip := net.ParseIP(raw)
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			continue
		}
		device, err := r.devices.GetDeviceByAnyIP(ctx, raw)
		if err != nil || device == nil {
			continue
		}
		return device.ID
	}
	return ""
}

// resolveConnections retargets every dynamic VM-to-host connection whose VM
// endpoint is the matched device and whose host endpoint no longer points
// at the node currently running the guest. The VM endpoint is never touched.
func (r *Resolver) resolveConnections(ctx context.Context, clusterName string, vm *models.ProxmoxVm) error {
	newHostID, err := r.store.NodeHostDevice(ctx, clusterName, vm.Node)
	if err != nil {
		return err
	}
	if newHostID == "" {
		return nil
	}

	conns, err := r.atlas.ListDynamic(ctx, models.DynamicTypeVMHost)
	if err != nil {
		return err
	}

	for _, conn := range conns {
		placements, err := r.atlas.ListPlacements(ctx, conn.MapID)
		if err != nil {
			return err
		}
		byID := make(map[string]*models.Placement, len(placements))
		for _, p := range placements {
			byID[p.ID] = p
		}

		vmSide, hostSide := byID[conn.FromID], byID[conn.ToID]
		if conn.VMEnd() == models.VMEndTarget {
			vmSide, hostSide = hostSide, vmSide
		}
		if vmSide == nil || hostSide == nil || vmSide.DeviceID != vm.MatchedDeviceID {
			continue
		}
		if hostSide.DeviceID == newHostID {
			continue // already pointing at the right host
		}

		hostPlacement, err := r.atlas.PlacementForDevice(ctx, conn.MapID, newHostID)
		if err != nil {
			return err
		}
		if hostPlacement == nil {
			// New host is not on this map; leave the link alone.
			continue
		}

		if err := r.atlas.RetargetDynamicHost(ctx, conn.ID, hostPlacement.ID, newHostID, vm.Node); err != nil {
			return err
		}
		r.logger.Info("vm connection retargeted",
			zap.Int("vmid", vm.VMID),
			zap.String("node", vm.Node),
			zap.String("newHost", newHostID),
		)
		r.bus.PublishAsync(ctx, plugin.Event{
			Topic:     event.TopicVMMigrated,
			Source:    "virt",
			Timestamp: time.Now().UTC(),
			Payload: map[string]string{
				"vmid":       strconv.Itoa(vm.VMID),
				"node":       vm.Node,
				"hostDevice": newHostID,
				"connection": conn.ID,
			},
		})
	}
	return nil
}
