// Package virt tracks the virtualization layer discovered through Proxmox
// host devices: cluster nodes, guests, guest-to-device matching, and the
// resolver that keeps VM-to-host map links pointing at the right host.
package virt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store provides access to Proxmox node and guest tables.
type Store struct {
	store  plugin.Store
	logger *zap.Logger
}

// NewStore creates the virt store and applies its schema.
func NewStore(ctx context.Context, st plugin.Store, logger *zap.Logger) (*Store, error) {
	s := &Store{store: st, logger: logger}
	if err := st.Migrate(ctx, "virt", migrations()); err != nil {
		return nil, fmt.Errorf("virt migrations: %w", err)
	}
	return s, nil
}

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "proxmox nodes and guests",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS proxmox_nodes (
						id             TEXT PRIMARY KEY,
						host_device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
						cluster_name   TEXT NOT NULL,
						node_name      TEXT NOT NULL,
						online         INTEGER NOT NULL DEFAULT 0,
						last_seen_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (cluster_name, node_name)
					)`,
					`CREATE TABLE IF NOT EXISTS proxmox_vms (
						id                TEXT PRIMARY KEY,
						host_device_id    TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
						vmid              INTEGER NOT NULL,
						name              TEXT NOT NULL,
						type              TEXT NOT NULL,
						node              TEXT NOT NULL,
						status            TEXT NOT NULL,
						cpus              INTEGER,
						max_mem_bytes     INTEGER,
						max_disk_bytes    INTEGER,
						uptime_seconds    INTEGER,
						ip_addresses      TEXT,
						mac_addresses     TEXT,
						matched_device_id TEXT,
						last_seen_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_vms_matched ON proxmox_vms(matched_device_id)`,
				}
				for _, s := range stmts {
					if _, err := tx.Exec(s); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version:     2,
			Description: "dedup proxmox_vms and enforce (host_device_id, vmid) uniqueness",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec(`
					DELETE FROM proxmox_vms
					WHERE id NOT IN (
						SELECT id FROM (
							SELECT id,
								ROW_NUMBER() OVER (
									PARTITION BY host_device_id, vmid
									ORDER BY last_seen_at DESC, id DESC
								) AS rn
							FROM proxmox_vms
						) WHERE rn = 1
					)
				`); err != nil {
					return err
				}
				_, err := tx.Exec(`
					CREATE UNIQUE INDEX IF NOT EXISTS ux_vms_host_vmid
						ON proxmox_vms(host_device_id, vmid)
				`)
				return err
			},
		},
	}
}

// UpsertNode records a cluster node keyed on (cluster, node name).
func (s *Store) UpsertNode(ctx context.Context, hostDeviceID, clusterName, nodeName string, online bool) error {
	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO proxmox_nodes (id, host_device_id, cluster_name, node_name, online, last_seen_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(cluster_name, node_name) DO UPDATE SET
			host_device_id = excluded.host_device_id,
			online         = excluded.online,
			last_seen_at   = CURRENT_TIMESTAMP
	`, uuid.NewString(), hostDeviceID, clusterName, nodeName, boolInt(online))
	if err != nil {
		return fmt.Errorf("upsert node %s/%s: %w", clusterName, nodeName, err)
	}
	return nil
}

// UpsertVM records a guest keyed on (host device, vmid). The matched device
// link is only overwritten when the new value is non-empty.
func (s *Store) UpsertVM(ctx context.Context, vm *models.ProxmoxVm) error {
	ips, err := json.Marshal(vm.IPAddresses)
	if err != nil {
		return fmt.Errorf("encode VM addresses: %w", err)
	}
	macs, err := json.Marshal(vm.MACAddresses)
	if err != nil {
		return fmt.Errorf("encode VM MACs: %w", err)
	}

	_, err = s.store.DB().ExecContext(ctx, `
		INSERT INTO proxmox_vms
			(id, host_device_id, vmid, name, type, node, status, cpus, max_mem_bytes,
			 max_disk_bytes, uptime_seconds, ip_addresses, mac_addresses, matched_device_id, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(host_device_id, vmid) DO UPDATE SET
			name              = excluded.name,
			type              = excluded.type,
			node              = excluded.node,
			status            = excluded.status,
			cpus              = excluded.cpus,
			max_mem_bytes     = excluded.max_mem_bytes,
			max_disk_bytes    = excluded.max_disk_bytes,
			uptime_seconds    = excluded.uptime_seconds,
			ip_addresses      = excluded.ip_addresses,
			mac_addresses     = excluded.mac_addresses,
			matched_device_id = COALESCE(NULLIF(excluded.matched_device_id, ''), proxmox_vms.matched_device_id),
			last_seen_at      = CURRENT_TIMESTAMP
	`, uuid.NewString(), vm.HostDeviceID, vm.VMID, vm.Name, string(vm.Type), vm.Node,
		vm.Status, vm.CPUs, vm.MaxMemBytes, vm.MaxDiskBytes, vm.UptimeSeconds,
		string(ips), string(macs), vm.MatchedDeviceID)
	if err != nil {
		return fmt.Errorf("upsert VM %s/%d: %w", vm.HostDeviceID, vm.VMID, err)
	}
	return nil
}

// ListVMsByHost returns all guests recorded for a host device.
func (s *Store) ListVMsByHost(ctx context.Context, hostDeviceID string) ([]*models.ProxmoxVm, error) {
	return s.queryVMs(ctx, vmSelect+" WHERE host_device_id = ? ORDER BY vmid", hostDeviceID)
}

// ListMatchedVMs returns all guests linked to an inventory device.
func (s *Store) ListMatchedVMs(ctx context.Context) ([]*models.ProxmoxVm, error) {
	return s.queryVMs(ctx,
		vmSelect+" WHERE matched_device_id IS NOT NULL AND matched_device_id != ''")
}

// NodeHostDevice returns the host device ID serving the named node in a
// cluster, or empty when unknown.
func (s *Store) NodeHostDevice(ctx context.Context, clusterName, nodeName string) (string, error) {
	var hostID string
	err := s.store.DB().QueryRowContext(ctx,
		"SELECT host_device_id FROM proxmox_nodes WHERE cluster_name = ? AND node_name = ?",
		clusterName, nodeName,
	).Scan(&hostID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query node host: %w", err)
	}
	return hostID, nil
}

// MarkUnseenOffline flags guests on a host that a sweep did not observe.
func (s *Store) MarkUnseenOffline(ctx context.Context, hostDeviceID string, seenVMIDs []int, before time.Time) error {
	if len(seenVMIDs) == 0 {
		_, err := s.store.DB().ExecContext(ctx,
			"UPDATE proxmox_vms SET status = 'unknown' WHERE host_device_id = ? AND last_seen_at < ?",
			hostDeviceID, before.UTC())
		return err
	}

	args := make([]any, 0, len(seenVMIDs)+2)
	args = append(args, hostDeviceID)
	placeholders := make([]string, len(seenVMIDs))
	for i, id := range seenVMIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, before.UTC())

	q := "UPDATE proxmox_vms SET status = 'unknown' WHERE host_device_id = ? AND vmid NOT IN (" +
		strings.Join(placeholders, ",") + ") AND last_seen_at < ?"
	_, err := s.store.DB().ExecContext(ctx, q, args...)
	return err
}

const vmSelect = `SELECT id, host_device_id, vmid, name, type, node, status,
	COALESCE(cpus, 0), COALESCE(max_mem_bytes, 0), COALESCE(max_disk_bytes, 0),
	COALESCE(uptime_seconds, 0), COALESCE(ip_addresses, '[]'),
	COALESCE(mac_addresses, '[]'), COALESCE(matched_device_id, ''), last_seen_at
	FROM proxmox_vms`

func (s *Store) queryVMs(ctx context.Context, q string, args ...any) ([]*models.ProxmoxVm, error) {
	rows, err := s.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query VMs: %w", err)
	}
	defer rows.Close()

	var out []*models.ProxmoxVm
	for rows.Next() {
		var (
			vm        models.ProxmoxVm
			typ       string
			ips, macs string
		)
		if err := rows.Scan(&vm.ID, &vm.HostDeviceID, &vm.VMID, &vm.Name, &typ, &vm.Node,
			&vm.Status, &vm.CPUs, &vm.MaxMemBytes, &vm.MaxDiskBytes, &vm.UptimeSeconds,
			&ips, &macs, &vm.MatchedDeviceID, &vm.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan VM: %w", err)
		}
		vm.Type = models.ProxmoxGuestType(typ)
		if err := json.Unmarshal([]byte(ips), &vm.IPAddresses); err != nil {
			return nil, fmt.Errorf("decode VM addresses: %w", err)
		}
		if err := json.Unmarshal([]byte(macs), &vm.MACAddresses); err != nil {
			return nil, fmt.Errorf("decode VM MACs: %w", err)
		}
		out = append(out, &vm)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
