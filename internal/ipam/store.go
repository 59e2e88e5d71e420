// Package ipam maintains the IP address inventory: pools of address space,
// tracked addresses, and their assignment to devices, reconciled against
// what probes actually observe on interfaces.
package ipam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPoolNotFound is returned for unknown pool IDs.
var ErrPoolNotFound = errors.New("ipam pool not found")

// Store provides access to IPAM tables.
type Store struct {
	store  plugin.Store
	logger *zap.Logger
}

// NewStore creates the IPAM store and applies its schema.
func NewStore(ctx context.Context, st plugin.Store, logger *zap.Logger) (*Store, error) {
	s := &Store{store: st, logger: logger}
	if err := st.Migrate(ctx, "ipam", migrations()); err != nil {
		return nil, fmt.Errorf("ipam migrations: %w", err)
	}
	return s, nil
}

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "pools, addresses, assignments",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS ipam_pools (
						id          TEXT PRIMARY KEY,
						name        TEXT NOT NULL,
						entry_type  TEXT NOT NULL,
						cidr        TEXT,
						range_start TEXT,
						range_end   TEXT,
						single_ip   TEXT,
						description TEXT,
						created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE IF NOT EXISTS ipam_addresses (
						id             TEXT PRIMARY KEY,
						ip_address     TEXT NOT NULL UNIQUE,
						pool_id        TEXT REFERENCES ipam_pools(id) ON DELETE SET NULL,
						status         TEXT NOT NULL DEFAULT 'available',
						source         TEXT NOT NULL DEFAULT 'manual',
						hostname       TEXT,
						mac_address    TEXT,
						interface_name TEXT,
						description    TEXT,
						last_seen_at   DATETIME,
						created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE IF NOT EXISTS ipam_assignments (
						id         TEXT PRIMARY KEY,
						address_id TEXT NOT NULL REFERENCES ipam_addresses(id) ON DELETE CASCADE,
						device_id  TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (address_id, device_id)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_ipam_assignments_device ON ipam_assignments(device_id)`,
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
			Description: "observed subnet prefix on addresses",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(
					`ALTER TABLE ipam_addresses ADD COLUMN prefix_len INTEGER NOT NULL DEFAULT 0`)
				return err
			},
		},
	}
}

// CreatePool inserts a new pool.
func (s *Store) CreatePool(ctx context.Context, p *models.IpamPool) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO ipam_pools (id, name, entry_type, cidr, range_start, range_end, single_ip, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, string(p.EntryType), p.CIDR, p.RangeStart, p.RangeEnd, p.SingleIP, p.Description)
	if err != nil {
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

// ListPools returns all pools in creation order. The deterministic order
// matters: the reconciler assigns an address to the first matching pool.
func (s *Store) ListPools(ctx context.Context) ([]*models.IpamPool, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, name, entry_type, COALESCE(cidr, ''), COALESCE(range_start, ''),
			COALESCE(range_end, ''), COALESCE(single_ip, ''), COALESCE(description, ''), created_at
		FROM ipam_pools ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query pools: %w", err)
	}
	defer rows.Close()

	var out []*models.IpamPool
	for rows.Next() {
		var p models.IpamPool
		var typ string
		if err := rows.Scan(&p.ID, &p.Name, &typ, &p.CIDR, &p.RangeStart, &p.RangeEnd,
			&p.SingleIP, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		p.EntryType = models.IpamEntryType(typ)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeletePool removes a pool; its addresses stay but lose the pool link.
func (s *Store) DeletePool(ctx context.Context, id string) error {
	_, err := s.store.DB().ExecContext(ctx, "DELETE FROM ipam_pools WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete pool: %w", err)
	}
	return nil
}

// PoolStats summarizes address usage for one pool.
type PoolStats struct {
	PoolID    string `json:"pool_id"`
	Total     int    `json:"total"`
	Assigned  int    `json:"assigned"`
	Reserved  int    `json:"reserved"`
	Offline   int    `json:"offline"`
	Available int    `json:"available"`
}

// GetPoolStats counts tracked addresses per status for one pool.
func (s *Store) GetPoolStats(ctx context.Context, poolID string) (*PoolStats, error) {
	rows, err := s.store.DB().QueryContext(ctx,
		"SELECT status, COUNT(*) FROM ipam_addresses WHERE pool_id = ? GROUP BY status", poolID)
	if err != nil {
		return nil, fmt.Errorf("query pool stats: %w", err)
	}
	defer rows.Close()

	stats := &PoolStats{PoolID: poolID}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan pool stats: %w", err)
		}
		stats.Total += n
		switch models.IpamAddressStatus(status) {
		case models.IpamStatusAssigned:
			stats.Assigned = n
		case models.IpamStatusReserved:
			stats.Reserved = n
		case models.IpamStatusOffline:
			stats.Offline = n
		case models.IpamStatusAvailable:
			stats.Available = n
		}
	}
	return stats, rows.Err()
}

// GetAddress returns a tracked address by its IP string, or nil when the IP
// is not tracked.
func (s *Store) GetAddress(ctx context.Context, ip string) (*models.IpamAddress, error) {
	row := s.store.DB().QueryRowContext(ctx, addrSelect+" WHERE ip_address = ?", ip)
	a, err := scanAddress(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListAddressesByDevice returns the addresses assigned to a device.
func (s *Store) ListAddressesByDevice(ctx context.Context, deviceID string) ([]*models.IpamAddress, error) {
	rows, err := s.store.DB().QueryContext(ctx, addrSelect+` WHERE id IN (
		SELECT address_id FROM ipam_assignments WHERE device_id = ?
	) ORDER BY ip_address`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query device addresses: %w", err)
	}
	defer rows.Close()

	var out []*models.IpamAddress
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertObserved records one observed address. Only fields present in the
// observation overwrite stored values; a manual row never loses its source
// marker. Returns the address row ID and whether the row was created.
func (s *Store) UpsertObserved(ctx context.Context, ip string, prefix int, poolID, ifaceName, comment string, seenAt time.Time) (string, bool, error) {
	existing, err := s.GetAddress(ctx, ip)
	if err != nil {
		return "", false, err
	}

	if existing == nil {
		id := uuid.NewString()
		_, err := s.store.DB().ExecContext(ctx, `
			INSERT INTO ipam_addresses
				(id, ip_address, prefix_len, pool_id, status, source, interface_name, description, last_seen_at)
			VALUES (?, ?, ?, ?, 'assigned', 'discovered', ?, ?, ?)
		`, id, ip, prefix, nullStr(poolID), nullStr(ifaceName), nullStr(comment), seenAt.UTC())
		if err != nil {
			return "", false, fmt.Errorf("insert address %s: %w", ip, err)
		}
		return id, true, nil
	}

	// Rediscovery: refresh what was observed, preserve everything else.
	// Source stays as-is; manual entries must survive probe sync untouched.
	// A zero prefix means the observation carried none, so the stored one
	// stands.
	_, err = s.store.DB().ExecContext(ctx, `
		UPDATE ipam_addresses SET
			prefix_len     = CASE WHEN ? > 0 THEN ? ELSE prefix_len END,
			pool_id        = COALESCE(NULLIF(?, ''), pool_id),
			status         = CASE WHEN status = 'offline' THEN 'assigned' ELSE status END,
			interface_name = COALESCE(NULLIF(?, ''), interface_name),
			description    = COALESCE(NULLIF(?, ''), description),
			last_seen_at   = ?,
			updated_at     = CURRENT_TIMESTAMP
		WHERE id = ?
	`, prefix, prefix, poolID, ifaceName, comment, seenAt.UTC(), existing.ID)
	if err != nil {
		return "", false, fmt.Errorf("update address %s: %w", ip, err)
	}
	return existing.ID, false, nil
}

// EnsureAssignment guarantees exactly one assignment row per (address, device).
func (s *Store) EnsureAssignment(ctx context.Context, addressID, deviceID string) error {
	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO ipam_assignments (id, address_id, device_id) VALUES (?, ?, ?)
		ON CONFLICT(address_id, device_id) DO NOTHING
	`, uuid.NewString(), addressID, deviceID)
	if err != nil {
		return fmt.Errorf("ensure assignment %s/%s: %w", addressID, deviceID, err)
	}
	return nil
}

// MarkStaleOffline flips discovered addresses of a device that were not
// seen in the current sync to offline. Returns the number affected.
func (s *Store) MarkStaleOffline(ctx context.Context, deviceID string, syncStart time.Time) (int64, error) {
	res, err := s.store.DB().ExecContext(ctx, `
		UPDATE ipam_addresses SET status = 'offline', updated_at = CURRENT_TIMESTAMP
		WHERE source = 'discovered'
			AND (last_seen_at IS NULL OR last_seen_at < ?)
			AND id IN (SELECT address_id FROM ipam_assignments WHERE device_id = ?)
	`, syncStart.UTC(), deviceID)
	if err != nil {
		return 0, fmt.Errorf("mark stale offline: %w", err)
	}
	return res.RowsAffected()
}

const addrSelect = `SELECT id, ip_address, prefix_len, COALESCE(pool_id, ''), status, source,
	COALESCE(hostname, ''), COALESCE(mac_address, ''), COALESCE(interface_name, ''),
	COALESCE(description, ''), last_seen_at, created_at, updated_at FROM ipam_addresses`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddress(row rowScanner) (*models.IpamAddress, error) {
	var (
		a              models.IpamAddress
		status, source string
		lastSeen       sql.NullTime
	)
	err := row.Scan(&a.ID, &a.IPAddress, &a.PrefixLen, &a.PoolID, &status, &source, &a.Hostname,
		&a.MACAddress, &a.InterfaceName, &a.Description, &lastSeen, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.IpamAddressStatus(status)
	a.Source = models.IpamAddressSource(source)
	if lastSeen.Valid {
		t := lastSeen.Time
		a.LastSeenAt = &t
	}
	return &a, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
