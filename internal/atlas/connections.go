package atlas

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/HerbHall/netatlas/pkg/models"
	"github.com/google/uuid"
)

// CreateConnection inserts a new edge between two placements.
func (s *Store) CreateConnection(ctx context.Context, c *models.Connection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	meta, err := marshalMeta(c.DynamicMetadata)
	if err != nil {
		return fmt.Errorf("encode dynamic metadata: %w", err)
	}
	_, err = s.store.DB().ExecContext(ctx, `
		INSERT INTO connections
			(id, map_id, from_id, to_id, from_port, to_port, monitor_interface,
			 is_dynamic, dynamic_type, dynamic_metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.MapID, c.FromID, c.ToID, c.FromPort, c.ToPort, c.MonitorInterface,
		boolInt(c.IsDynamic), string(c.DynamicType), meta)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// GetConnection returns one connection by ID.
func (s *Store) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	row := s.store.DB().QueryRowContext(ctx, connSelect+" WHERE id = ?", id)
	return scanConnection(row)
}

// ListConnections returns a map's connections.
func (s *Store) ListConnections(ctx context.Context, mapID string) ([]*models.Connection, error) {
	return s.queryConnections(ctx, connSelect+" WHERE map_id = ?", mapID)
}

// ListMonitored returns every connection with a monitor interface set,
// across all maps. These get a traffic sample each poll cycle.
func (s *Store) ListMonitored(ctx context.Context) ([]*models.Connection, error) {
	return s.queryConnections(ctx,
		connSelect+" WHERE monitor_interface IS NOT NULL AND monitor_interface != ''")
}

// ListDynamic returns every dynamic connection of the given type.
func (s *Store) ListDynamic(ctx context.Context, dt models.DynamicType) ([]*models.Connection, error) {
	return s.queryConnections(ctx,
		connSelect+" WHERE is_dynamic = 1 AND dynamic_type = ?", string(dt))
}

// DeleteConnection removes one connection.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	_, err := s.store.DB().ExecContext(ctx, "DELETE FROM connections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// RetargetDynamicHost rewrites the host-side endpoint of a dynamic VM link
// to a new placement, clears the stale host port label, and stamps the
// resolution metadata. The VM-side endpoint is never touched; which side is
// the host follows from the connection's vmEnd metadata.
func (s *Store) RetargetDynamicHost(ctx context.Context, connID, newPlacementID, hostDeviceID, nodeName string) error {
	c, err := s.GetConnection(ctx, connID)
	if err != nil {
		return err
	}
	if !c.IsDynamic {
		return fmt.Errorf("connection %s is not dynamic", connID)
	}

	merged := make(map[string]string, len(c.DynamicMetadata)+3)
	for k, v := range c.DynamicMetadata {
		merged[k] = v
	}
	merged[models.DynMetaLastResolvedHost] = hostDeviceID
	merged[models.DynMetaLastResolvedNode] = nodeName
	merged[models.DynMetaState] = "resolved"
	raw, err := marshalMeta(merged)
	if err != nil {
		return fmt.Errorf("encode dynamic metadata: %w", err)
	}

	// The old port name means nothing on the new host.
	set := "to_id = ?, to_port = ''"
	if c.VMEnd() == models.VMEndTarget {
		set = "from_id = ?, from_port = ''"
	}
	_, err = s.store.DB().ExecContext(ctx, `
		UPDATE connections SET `+set+`, dynamic_metadata = ?,
			updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, newPlacementID, raw, connID)
	if err != nil {
		return fmt.Errorf("retarget connection %s: %w", connID, err)
	}
	return nil
}

const connSelect = `SELECT id, map_id, from_id, to_id, COALESCE(from_port, ''),
	COALESCE(to_port, ''), COALESCE(monitor_interface, ''), is_dynamic,
	COALESCE(dynamic_type, ''), dynamic_metadata, created_at, updated_at
	FROM connections`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*models.Connection, error) {
	var (
		c       models.Connection
		dyn     int
		dynType string
		meta    sql.NullString
	)
	err := row.Scan(&c.ID, &c.MapID, &c.FromID, &c.ToID, &c.FromPort, &c.ToPort,
		&c.MonitorInterface, &dyn, &dynType, &meta, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	c.IsDynamic = dyn != 0
	c.DynamicType = models.DynamicType(dynType)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &c.DynamicMetadata); err != nil {
			return nil, fmt.Errorf("decode dynamic metadata for %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func (s *Store) queryConnections(ctx context.Context, q string, args ...any) ([]*models.Connection, error) {
	rows, err := s.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var out []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func marshalMeta(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
