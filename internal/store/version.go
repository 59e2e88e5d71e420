package store

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/mod/semver"
)

// CheckVersion refuses to open a database written by a newer release, which
// could carry schema this binary does not understand. The stored version
// moves forward on upgrade and never back. "dev" on either side always
// passes, so local builds can open any database.
func (s *SQLiteStore) CheckVersion(ctx context.Context, currentVersion string) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _schema_meta (
			id           INTEGER  PRIMARY KEY CHECK (id = 1),
			app_version  TEXT     NOT NULL,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema meta table: %w", err)
	}

	var stored string
	err = s.db.QueryRowContext(ctx,
		"SELECT app_version FROM _schema_meta WHERE id = 1",
	).Scan(&stored)
	if err == sql.ErrNoRows {
		_, err = s.db.ExecContext(ctx,
			"INSERT INTO _schema_meta (id, app_version, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)",
			currentVersion)
		if err != nil {
			return fmt.Errorf("insert schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	if stored != "dev" && currentVersion != "dev" &&
		semver.Compare(vPrefixed(currentVersion), vPrefixed(stored)) < 0 {
		return fmt.Errorf("%w: database=%s, binary=%s", ErrNewerSchema, stored, currentVersion)
	}

	if stored != currentVersion {
		_, err = s.db.ExecContext(ctx,
			"UPDATE _schema_meta SET app_version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1",
			currentVersion)
		if err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
	}
	return nil
}

// vPrefixed makes a bare version comparable with the semver package, which
// insists on the "v" prefix.
func vPrefixed(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}
