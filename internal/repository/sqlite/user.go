package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

// compile-time check that *session implements repository.Session
var _ repository.Session = (*session)(nil)

// session is one checked-out connection from the pool.
type session struct {
	conn *sql.Conn
}

// CreateUser inserts a new account row. The ID and CreatedAt are assigned
// here and written back into user.
func (s *session) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.CreatedAt = time.Now().UTC()

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
	)
	if err != nil {
		if field, ok := uniqueViolation(err); ok {
			return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, apperror.Conflict(field))
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}
	return nil
}

// GetUserByUsername reads the username and password hash of one account.
// Returns apperror.ErrNotFound if no row matches.
func (s *session) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User

	err := s.conn.QueryRowContext(ctx,
		`SELECT username, password FROM users WHERE username = ?`,
		username,
	).Scan(&u.Username, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}
	return &u, nil
}

// Close returns the connection to the pool.
func (s *session) Close() error {
	return s.conn.Close()
}

// uniqueViolation reports whether err is a UNIQUE constraint failure and,
// if so, which users column fired. SQLite's result code identifies the
// violation; the "table.column" detail in the message identifies the
// column, since SQLite doesn't report constraint names.
func uniqueViolation(err error) (field string, ok bool) {
	var sqliteErr *moderncsqlite.Error
	if !errors.As(err, &sqliteErr) {
		return "", false
	}

	msg := sqliteErr.Error()
	switch code := sqliteErr.Code(); {
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE:
	case code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "UNIQUE"):
		// extended result codes disabled on this connection
	default:
		return "", false
	}

	switch {
	case strings.Contains(msg, "users.username"):
		return "username", true
	case strings.Contains(msg, "users.email"):
		return "email", true
	}
	return "", true
}
