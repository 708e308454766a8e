package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pipelinewhisperer/outreach/internal/config"
	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
)

// Store wraps the relational backend. Two backends are supported:
// Postgres (shared server, bounded pool with recycling) and SQLite
// (embedded single-file, single writer). Selection is config-driven.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the configured backend and verifies the connection.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var (
		db  *sqlx.DB
		err error
	)

	switch cfg.Driver {
	case "postgres":
		db, err = sqlx.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
		db.SetConnMaxIdleTime(1 * time.Minute)
	case "sqlite3":
		db, err = sqlx.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite: %w", err)
		}
		// Single writer: the embedded store does not pool
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	logger.Info("store connected", "driver", cfg.Driver)
	return &Store{db: db, driver: cfg.Driver}, nil
}

// NewWithDB wraps an existing connection. Used by tests.
func NewWithDB(db *sqlx.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// DB exposes the underlying handle for read-only query paths.
func (s *Store) DB() *sqlx.DB { return s.db }

// Driver reports the active backend driver name.
func (s *Store) Driver() string { return s.driver }

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Multi-row mutations (lead +
// experiment + outreach log) must go through here so counters cannot
// diverge from the log.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("rollback failed", "error", rbErr.Error())
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// rebind converts ?-style placeholders to the driver's dialect.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}
