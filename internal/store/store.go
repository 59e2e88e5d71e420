// Package store provides the shared SQLite database: one file, one write
// connection, with every module owning its own schema through versioned
// migrations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/HerbHall/netatlas/pkg/plugin"
	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

// ErrNewerSchema is returned when the database on disk was written by a newer
// NetAtlas release than the running binary.
var ErrNewerSchema = fmt.Errorf("database was created by a newer version of NetAtlas")

var _ plugin.Store = (*SQLiteStore)(nil)

// startupPragmas are applied on open. WAL gives concurrent readers alongside
// the single writer; modernc.org/sqlite wants these as statements, not DSN
// parameters.
var startupPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA cache_size=-20000",
}

// SQLiteStore implements plugin.Store.
type SQLiteStore struct {
	db *sql.DB

	mu     sync.Mutex // serializes Migrate across modules
	ledger sync.Once  // _migrations table creation
}

// New opens (or creates) the database at path and applies the startup
// pragmas. SQLite performs best with exactly one write connection, so the
// pool is capped at one.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	for _, pragma := range startupPragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying connection for module queries.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Tx runs fn in a transaction, committing on nil and rolling back otherwise.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// Migrate applies the module's pending migrations in the order given.
// Applied versions are ledgered in the shared _migrations table and skipped
// on later runs; each pending migration runs in its own transaction together
// with its ledger row, so a failure leaves no half-applied schema.
func (s *SQLiteStore) Migrate(ctx context.Context, moduleName string, migrations []plugin.Migration) error {
	if err := s.ensureLedger(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	applied, err := s.appliedVersions(ctx, moduleName)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO _migrations (module_name, version, description) VALUES (?, ?, ?)",
				moduleName, m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", moduleName, m.Version, m.Description, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ensureLedger(ctx context.Context) error {
	var err error
	s.ledger.Do(func() {
		_, err = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS _migrations (
				module_name TEXT    NOT NULL,
				version     INTEGER NOT NULL,
				description TEXT    NOT NULL,
				applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (module_name, version)
			)
		`)
	})
	return err
}

func (s *SQLiteStore) appliedVersions(ctx context.Context, moduleName string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT version FROM _migrations WHERE module_name = ?", moduleName)
	if err != nil {
		return nil, fmt.Errorf("read migration ledger for %s: %w", moduleName, err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration ledger: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
