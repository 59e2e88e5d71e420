package inventory

import (
	"database/sql"

	"github.com/HerbHall/netatlas/pkg/plugin"
)

// Migrations returns the inventory module's schema in ascending version order.
func Migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "devices, credential profiles, interfaces, status events",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS devices (
						id                    TEXT PRIMARY KEY,
						name                  TEXT NOT NULL,
						type                  TEXT NOT NULL,
						ip_address            TEXT,
						status                TEXT NOT NULL DEFAULT 'unknown',
						credential_profile_id TEXT,
						custom_credentials    TEXT,
						device_data           TEXT,
						created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_devices_ip ON devices(ip_address)`,
					`CREATE TABLE IF NOT EXISTS credential_profiles (
						id         TEXT PRIMARY KEY,
						name       TEXT NOT NULL UNIQUE,
						type       TEXT NOT NULL,
						secret     BLOB NOT NULL,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE IF NOT EXISTS device_interfaces (
						id                  TEXT PRIMARY KEY,
						device_id           TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
						name                TEXT NOT NULL,
						type                TEXT,
						oper_status         TEXT,
						admin_status        TEXT,
						speed               TEXT,
						mac_address         TEXT,
						parent_interface_id TEXT,
						discovery_source    TEXT NOT NULL,
						last_seen_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_interfaces_device ON device_interfaces(device_id)`,
					`CREATE TABLE IF NOT EXISTS device_status_events (
						id              TEXT PRIMARY KEY,
						device_id       TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
						previous_status TEXT,
						new_status      TEXT NOT NULL,
						created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_status_events_device_time
						ON device_status_events(device_id, created_at)`,
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
			Description: "dedup device_interfaces and enforce (device_id, name) uniqueness",
			Up: func(tx *sql.Tx) error {
				// Earlier versions could record the same interface twice.
				// Keep the most recently seen row per (device, name), then
				// lock the invariant in with a unique index.
				if _, err := tx.Exec(`
					DELETE FROM device_interfaces
					WHERE id NOT IN (
						SELECT id FROM (
							SELECT id,
								ROW_NUMBER() OVER (
									PARTITION BY device_id, name
									ORDER BY last_seen_at DESC, id DESC
								) AS rn
							FROM device_interfaces
						) WHERE rn = 1
					)
				`); err != nil {
					return err
				}
				_, err := tx.Exec(`
					CREATE UNIQUE INDEX IF NOT EXISTS ux_interfaces_device_name
						ON device_interfaces(device_id, name)
				`)
				return err
			},
		},
	}
}
