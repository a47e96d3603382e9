// Package config loads process configuration from the environment.
//
// A .env file in the working directory is loaded first if present; real
// environment variables always win over it. Everything is read once at
// startup into a Config value that main passes down explicitly — no
// package reads the environment on its own after that.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Port        int
	LogLevel    slog.Level
	BcryptCost  int
	CORSOrigins []string
	Database    Database
}

// Database holds the static connection parameters for the account store.
type Database struct {
	Driver string // "sqlite" or "postgres"

	// Path is the SQLite database file. ":memory:" works for tests.
	Path string

	// User, Password and ConnectString address a Postgres server.
	// ConnectString is either "host:port/dbname?params" or a full
	// postgres:// URL; User and Password override any credentials in it.
	User          string
	Password      string
	ConnectString string
}

// DSN builds the pgx connection URL from the Postgres parameters.
func (d Database) DSN() (string, error) {
	if d.ConnectString == "" {
		return "", errors.New("config: DB_CONNECT_STRING is required for the postgres driver")
	}

	raw := d.ConnectString
	if !strings.HasPrefix(raw, "postgres://") && !strings.HasPrefix(raw, "postgresql://") {
		raw = "postgres://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("config: parsing DB_CONNECT_STRING: %w", err)
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	return u.String(), nil
}

// Load reads .env (optional) and the environment into a Config.
func Load() (Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary lookup function.
// Tests pass a map-backed lookup instead of touching the real environment.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	env := envReader{lookup: lookup}

	cfg := Config{
		Port:       env.int("PORT", 3000),
		BcryptCost: env.int("BCRYPT_COST", 10),
		Database: Database{
			Driver:        strings.ToLower(env.string("DB_DRIVER", DriverSQLite)),
			Path:          env.string("DB_PATH", "data/accounts.db"),
			User:          env.string("DB_USER", ""),
			Password:      env.string("DB_PASSWORD", ""),
			ConnectString: env.string("DB_CONNECT_STRING", ""),
		},
	}

	for _, origin := range strings.Split(env.string("CORS_ALLOWED_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(env.string("LOG_LEVEL", "info"))); err != nil {
		env.errs = append(env.errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if err := errors.Join(env.errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("config: DB_PATH must not be empty")
		}
	case DriverPostgres:
		if _, err := c.Database.DSN(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.Database.Driver)
	}
	return nil
}

// envReader collects parse errors so Load can report all of them at once.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) string(key, fallback string) string {
	val, ok := e.lookup(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func (e *envReader) int(key string, fallback int) int {
	val, ok := e.lookup(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, val))
		return fallback
	}
	return n
}
