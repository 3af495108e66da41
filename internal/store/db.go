// Package store persists handoff sessions over SQLite or PostgreSQL.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/logging"
)

// DB wraps a database connection with migration support.
type DB struct {
	x      *sqlx.DB
	driver string
	log    *logging.Logger
}

// Open connects to the configured database and runs migrations. For sqlite
// an empty DSN falls back to defaultPath; ":memory:" gives a private
// in-memory database.
func Open(ctx context.Context, cfg config.StoreConfig, defaultPath string, log *logging.Logger) (*DB, error) {
	if log == nil {
		log = logging.Nop()
	}
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.DSN
		if path == "" {
			path = defaultPath
		}
		return openSQLite(ctx, path, log)
	case "postgres":
		return openPostgres(ctx, cfg.DSN, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(ctx context.Context, path string, log *logging.Logger) (*DB, error) {
	if log == nil {
		log = logging.Nop()
	}
	return openSQLite(ctx, path, log)
}

func openSQLite(ctx context.Context, path string, log *logging.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	x, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		x.SetMaxOpenConns(1)
	}

	if _, err := x.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		x.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := x.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		x.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return finishOpen(ctx, x, "sqlite", path, log)
}

func openPostgres(ctx context.Context, dsn string, log *logging.Logger) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store requires a dsn")
	}
	x, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := x.PingContext(ctx); err != nil {
		x.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return finishOpen(ctx, x, "postgres", redactDSN(dsn), log)
}

func finishOpen(ctx context.Context, x *sqlx.DB, driver, location string, log *logging.Logger) (*DB, error) {
	db := &DB{x: x, driver: driver, log: log.Sub("store")}
	if err := db.migrate(ctx); err != nil {
		x.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	db.log.Info().Str("driver", driver).Str("location", location).Msg("database opened")
	return db, nil
}

// Driver returns "sqlite" or "postgres".
func (db *DB) Driver() string { return db.driver }

// Close closes the database connection.
func (db *DB) Close() error {
	db.log.Info().Msg("closing database")
	return db.x.Close()
}

// migrate runs all pending migrations.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.x.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := db.isMigrationApplied(ctx, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := db.x.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO schema_migrations (version) VALUES (?)"), m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (db *DB) isMigrationApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := db.x.GetContext(ctx, &count, db.x.Rebind("SELECT COUNT(*) FROM schema_migrations WHERE version = ?"), version)
	if err != nil {
		return false, fmt.Errorf("checking migration %d: %w", version, err)
	}
	return count > 0, nil
}

// redactDSN drops credentials from a postgres URL for logging.
func redactDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	return dsn
}
