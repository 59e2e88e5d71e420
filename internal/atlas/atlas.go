// Package atlas owns the topology surface: maps, device placements, and the
// connections drawn between them (static and dynamically resolved).
package atlas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/HerbHall/netatlas/pkg/plugin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrMapNotFound is returned for unknown map IDs.
	ErrMapNotFound = errors.New("map not found")
	// ErrConnectionNotFound is returned for unknown connection IDs.
	ErrConnectionNotFound = errors.New("connection not found")
)

// Store provides access to atlas tables.
type Store struct {
	store  plugin.Store
	logger *zap.Logger
}

// NewStore creates the atlas store and applies its schema.
func NewStore(ctx context.Context, st plugin.Store, logger *zap.Logger) (*Store, error) {
	s := &Store{store: st, logger: logger}
	if err := st.Migrate(ctx, "atlas", migrations()); err != nil {
		return nil, fmt.Errorf("atlas migrations: %w", err)
	}
	return s, nil
}

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "maps, placements, connections",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS maps (
						id          TEXT PRIMARY KEY,
						name        TEXT NOT NULL,
						description TEXT,
						created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE IF NOT EXISTS placements (
						id        TEXT PRIMARY KEY,
						map_id    TEXT NOT NULL REFERENCES maps(id) ON DELETE CASCADE,
						device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
						x         REAL NOT NULL DEFAULT 0,
						y         REAL NOT NULL DEFAULT 0,
						UNIQUE (map_id, device_id)
					)`,
					`CREATE TABLE IF NOT EXISTS connections (
						id                TEXT PRIMARY KEY,
						map_id            TEXT NOT NULL REFERENCES maps(id) ON DELETE CASCADE,
						from_id           TEXT NOT NULL REFERENCES placements(id) ON DELETE CASCADE,
						to_id             TEXT NOT NULL REFERENCES placements(id) ON DELETE CASCADE,
						from_port         TEXT,
						to_port           TEXT,
						monitor_interface TEXT,
						is_dynamic        INTEGER NOT NULL DEFAULT 0,
						dynamic_type      TEXT,
						dynamic_metadata  TEXT,
						created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_connections_map ON connections(map_id)`,
					`CREATE INDEX IF NOT EXISTS idx_placements_device ON placements(device_id)`,
				}
				for _, s := range stmts {
					if _, err := tx.Exec(s); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

// CreateMap inserts a new map.
func (s *Store) CreateMap(ctx context.Context, m *models.Map) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.store.DB().ExecContext(ctx,
		"INSERT INTO maps (id, name, description) VALUES (?, ?, ?)",
		m.ID, m.Name, m.Description,
	)
	if err != nil {
		return fmt.Errorf("insert map: %w", err)
	}
	return nil
}

// GetMap returns one map by ID.
func (s *Store) GetMap(ctx context.Context, id string) (*models.Map, error) {
	var m models.Map
	var desc sql.NullString
	err := s.store.DB().QueryRowContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM maps WHERE id = ?", id,
	).Scan(&m.ID, &m.Name, &desc, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query map: %w", err)
	}
	m.Description = desc.String
	return &m, nil
}

// ListMaps returns all maps ordered by name.
func (s *Store) ListMaps(ctx context.Context) ([]*models.Map, error) {
	rows, err := s.store.DB().QueryContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM maps ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query maps: %w", err)
	}
	defer rows.Close()

	var out []*models.Map
	for rows.Next() {
		var m models.Map
		var desc sql.NullString
		if err := rows.Scan(&m.ID, &m.Name, &desc, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan map: %w", err)
		}
		m.Description = desc.String
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteMap removes a map; placements and connections cascade.
func (s *Store) DeleteMap(ctx context.Context, id string) error {
	_, err := s.store.DB().ExecContext(ctx, "DELETE FROM maps WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete map: %w", err)
	}
	return nil
}

// PlaceDevice puts a device on a map. A device appears at most once per map.
func (s *Store) PlaceDevice(ctx context.Context, p *models.Placement) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.store.DB().ExecContext(ctx,
		"INSERT INTO placements (id, map_id, device_id, x, y) VALUES (?, ?, ?, ?, ?)",
		p.ID, p.MapID, p.DeviceID, p.X, p.Y,
	)
	if err != nil {
		return fmt.Errorf("insert placement: %w", err)
	}
	return nil
}

// MovePlacement updates a placement's position.
func (s *Store) MovePlacement(ctx context.Context, id string, x, y float64) error {
	_, err := s.store.DB().ExecContext(ctx,
		"UPDATE placements SET x = ?, y = ? WHERE id = ?", x, y, id)
	if err != nil {
		return fmt.Errorf("move placement: %w", err)
	}
	return nil
}

// RemovePlacement deletes a placement; connections touching it cascade away.
func (s *Store) RemovePlacement(ctx context.Context, id string) error {
	_, err := s.store.DB().ExecContext(ctx, "DELETE FROM placements WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete placement: %w", err)
	}
	return nil
}

// ListPlacements returns a map's placements.
func (s *Store) ListPlacements(ctx context.Context, mapID string) ([]*models.Placement, error) {
	rows, err := s.store.DB().QueryContext(ctx,
		"SELECT id, map_id, device_id, x, y FROM placements WHERE map_id = ?", mapID)
	if err != nil {
		return nil, fmt.Errorf("query placements: %w", err)
	}
	defer rows.Close()

	var out []*models.Placement
	for rows.Next() {
		var p models.Placement
		if err := rows.Scan(&p.ID, &p.MapID, &p.DeviceID, &p.X, &p.Y); err != nil {
			return nil, fmt.Errorf("scan placement: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// PlacementForDevice finds the placement of a device on a specific map.
// Returns nil when the device is not placed there.
func (s *Store) PlacementForDevice(ctx context.Context, mapID, deviceID string) (*models.Placement, error) {
	var p models.Placement
	err := s.store.DB().QueryRowContext(ctx,
		"SELECT id, map_id, device_id, x, y FROM placements WHERE map_id = ? AND device_id = ?",
		mapID, deviceID,
	).Scan(&p.ID, &p.MapID, &p.DeviceID, &p.X, &p.Y)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query placement: %w", err)
	}
	return &p, nil
}
