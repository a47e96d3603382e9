// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database — it lives inside your Go binary as a single file.
// No separate database server to install, configure, or manage. It is the default
// backend for local runs and the backend every test in this repo uses (":memory:").
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go translation
// of the SQLite C code — no C compiler needed, works everywhere Go works.
//
// CONNECTIONS:
// sql.DB is a pool. Each request checks out one *sql.Conn through Acquire and
// hands it back with Session.Close. The pool is capped at a single connection:
// SQLite allows one writer at a time, and an in-memory database only exists
// inside the connection that created it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// The blank import registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/sakif/account-service/internal/config"
	"github.com/sakif/account-service/internal/repository"
)

// compile-time check that *DB implements repository.Store
var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and hands out per-request sessions.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens the SQLite database at cfg.Path and makes sure the users
// table exists.
//
// cfg.Path examples:
//   - "data/accounts.db"  → file-based database (persistent)
//   - ":memory:"          → in-memory database (great for tests, lost on close)
func New(cfg config.Database, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	// sql.Open doesn't connect; Ping surfaces a bad path or permissions now
	// rather than on the first request.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight. It is a no-op
	// for in-memory databases.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn, logger: logger}

	if err := db.ensureSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: creating schema: %w", err)
	}

	return db, nil
}

// Acquire checks out one connection for the caller's exclusive use.
func (db *DB) Acquire(ctx context.Context) (repository.Session, error) {
	c, err := db.conn.Conn(ctx)
	if err != nil {
		db.logger.Error("failed to acquire database connection",
			slog.String("driver", config.DriverSQLite),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("sqlite: acquiring connection: %w", err)
	}
	db.logger.Debug("database connection acquired", slog.String("driver", config.DriverSQLite))
	return &session{conn: c}, nil
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ensureSchema creates the users table if it doesn't exist yet.
// CREATE TABLE IF NOT EXISTS is idempotent, so this runs on every start.
func (db *DB) ensureSchema() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL CONSTRAINT users_username_uk UNIQUE,
			email      TEXT NOT NULL CONSTRAINT users_email_uk UNIQUE,
			password   TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}
	return nil
}
