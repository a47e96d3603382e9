// Package postgres implements the repository interfaces on PostgreSQL
// through pgx's database/sql driver.
//
// Unique violations are classified from the driver's typed error:
// SQLSTATE 23505 plus the name of the constraint that fired, which is
// why the schema names both constraints explicitly.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Registers the "pgx" driver with database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sakif/account-service/internal/config"
	"github.com/sakif/account-service/internal/repository"
)

const (
	usernameConstraint = "users_username_uk"
	emailConstraint    = "users_email_uk"
)

var _ repository.Store = (*DB)(nil)

type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New connects to the server described by cfg and makes sure the users
// table exists.
func New(ctx context.Context, cfg config.Database, logger *slog.Logger) (*DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	db := NewFromDB(conn, logger)
	if err := db.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: creating schema: %w", err)
	}
	return db, nil
}

// NewFromDB wraps an already-open pool. Schema is left untouched.
func NewFromDB(conn *sql.DB, logger *slog.Logger) *DB {
	return &DB{conn: conn, logger: logger}
}

func (db *DB) Acquire(ctx context.Context) (repository.Session, error) {
	c, err := db.conn.Conn(ctx)
	if err != nil {
		db.logger.Error("failed to acquire database connection",
			slog.String("driver", config.DriverPostgres),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("postgres: acquiring connection: %w", err)
	}
	db.logger.Debug("database connection acquired", slog.String("driver", config.DriverPostgres))
	return &session{conn: c}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) ensureSchema(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL CONSTRAINT `+usernameConstraint+` UNIQUE,
			email      TEXT NOT NULL CONSTRAINT `+emailConstraint+` UNIQUE,
			password   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}
