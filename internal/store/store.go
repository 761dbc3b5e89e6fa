// Package store persists events in SQLite or PostgreSQL.
//
// Create is idempotent per event id: inserting an id that already exists
// affects zero rows, which the acceptance strategy reads as a duplicate.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/brianly1003/nrelay/internal/config"
	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store implements the event repository on database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open connects to the configured database and applies pending migrations.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	if _, err := dialectFor(cfg.Driver); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := configure(db, cfg.Driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(db, cfg.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info().Str("driver", cfg.Driver).Msg("event store ready")

	return New(db, cfg.Driver)
}

// New wraps an open database for driver. Migrations are not applied.
func New(db *sql.DB, driver string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d, now: time.Now}, nil
}

func configure(db *sql.DB, driver string) error {
	switch driver {
	case DriverSQLite:
		// A single writer avoids SQLITE_BUSY under concurrent inserts.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			return fmt.Errorf("set busy timeout: %w", err)
		}
	case DriverPostgres:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
	}
	return nil
}

func runMigrations(db *sql.DB, driver string) error {
	sub, err := fs.Sub(migrationsFS, "migrations/"+driver)
	if err != nil {
		return fmt.Errorf("locate migrations: %w", err)
	}

	sourceDriver, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	var dbDriver database.Driver
	switch driver {
	case DriverSQLite:
		dbDriver, err = sqlite.WithInstance(db, &sqlite.Config{})
	case DriverPostgres:
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{})
	}
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts ev and returns the number of rows inserted: 1 for a new
// event, 0 when the id is already stored.
func (s *Store) Create(ctx context.Context, ev *domain.Event) (int64, error) {
	tags, err := json.Marshal(ev.Tags)
	if err != nil {
		return 0, fmt.Errorf("encode tags: %w", err)
	}

	query := fmt.Sprintf(
		`INSERT INTO events (id, pubkey, created_at, kind, tags, content, sig, received_at)
		VALUES (%s) ON CONFLICT (id) DO NOTHING`,
		s.dialect.placeholders(1, 8),
	)

	res, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.PubKey, int64(ev.CreatedAt), ev.Kind, string(tags), ev.Content, ev.Sig, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", ev.ID, err)
	}

	return res.RowsAffected()
}
