package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/google/uuid"
)

// UpsertInterfaces records what a probe saw for a device this cycle.
// Existing rows (matched on device + name) are updated in place; only
// fields the observation actually carries overwrite stored values.
func (s *Store) UpsertInterfaces(ctx context.Context, deviceID string, obs []models.InterfaceObservation) error {
	now := time.Now().UTC()
	for _, o := range obs {
		_, err := s.store.DB().ExecContext(ctx, `
			INSERT INTO device_interfaces
				(id, device_id, name, type, oper_status, admin_status, speed, mac_address, discovery_source, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(device_id, name) DO UPDATE SET
				type         = COALESCE(NULLIF(excluded.type, ''), device_interfaces.type),
				oper_status  = COALESCE(NULLIF(excluded.oper_status, ''), device_interfaces.oper_status),
				admin_status = COALESCE(NULLIF(excluded.admin_status, ''), device_interfaces.admin_status),
				speed        = COALESCE(NULLIF(excluded.speed, ''), device_interfaces.speed),
				mac_address  = COALESCE(NULLIF(excluded.mac_address, ''), device_interfaces.mac_address),
				discovery_source = excluded.discovery_source,
				last_seen_at = excluded.last_seen_at
		`, uuid.NewString(), deviceID, o.Name, o.Type, o.OperStatus, o.AdminStatus,
			o.Speed, o.MACAddress, o.Source, now)
		if err != nil {
			return fmt.Errorf("upsert interface %s/%s: %w", deviceID, o.Name, err)
		}
	}
	return nil
}

// ListInterfaces returns the interfaces recorded for a device.
func (s *Store) ListInterfaces(ctx context.Context, deviceID string) ([]*models.DeviceInterface, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, device_id, name, COALESCE(type, ''), COALESCE(oper_status, ''),
			COALESCE(admin_status, ''), COALESCE(speed, ''), COALESCE(mac_address, ''),
			COALESCE(parent_interface_id, ''), discovery_source, last_seen_at
		FROM device_interfaces WHERE device_id = ? ORDER BY name
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query interfaces: %w", err)
	}
	defer rows.Close()

	var out []*models.DeviceInterface
	for rows.Next() {
		var di models.DeviceInterface
		if err := rows.Scan(&di.ID, &di.DeviceID, &di.Name, &di.Type, &di.OperStatus,
			&di.AdminStatus, &di.Speed, &di.MACAddress, &di.ParentInterfaceID,
			&di.DiscoverySource, &di.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan interface: %w", err)
		}
		out = append(out, &di)
	}
	return out, rows.Err()
}
