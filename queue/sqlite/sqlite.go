// Package sqlite implements queue.DataQueue on an embedded SQLite table,
// giving hits ordered durability across process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/groblegark/pulse/queue"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Queue implements queue.DataQueue backed by a SQLite database file.
type Queue struct {
	db *sql.DB
}

// Compile-time check that Queue implements queue.DataQueue.
var _ queue.DataQueue = (*Queue)(nil)

// New opens (or creates) the SQLite database at path and runs any pending
// migrations. One database per hit queue.
func New(path string) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids lock
	// contention errors from the driver.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Queue{db: db}, nil
}

// NewWithDB wraps an existing database handle without running migrations.
// Used by tests and by callers that manage the schema themselves.
func NewWithDB(db *sql.DB) *Queue {
	return &Queue{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

func (q *Queue) Add(e queue.Entry) error {
	return queryAdd(context.Background(), q.db, e)
}

func (q *Queue) Peek() (*queue.Entry, error) {
	return queryPeek(context.Background(), q.db)
}

func (q *Queue) PeekN(n int) ([]queue.Entry, error) {
	return queryPeekN(context.Background(), q.db, n)
}

func (q *Queue) Remove() error {
	return queryRemove(context.Background(), q.db)
}

func (q *Queue) Clear() error {
	return queryClear(context.Background(), q.db)
}

func (q *Queue) Count() (int, error) {
	return queryCount(context.Background(), q.db)
}
