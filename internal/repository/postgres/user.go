package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/xid"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

// SQLSTATE unique_violation
const uniqueViolationCode = "23505"

var _ repository.Session = (*session)(nil)

type session struct {
	conn *sql.Conn
}

func (s *session) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.CreatedAt = time.Now().UTC()

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password, created_at) VALUES ($1, $2, $3, $4, $5)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
	)
	if err != nil {
		if field, ok := uniqueViolation(err); ok {
			return fmt.Errorf("postgres: inserting user %q: %w", user.Username, apperror.Conflict(field))
		}
		return fmt.Errorf("postgres: inserting user %q: %w", user.Username, err)
	}
	return nil
}

func (s *session) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User

	err := s.conn.QueryRowContext(ctx,
		`SELECT username, password FROM users WHERE username = $1`,
		username,
	).Scan(&u.Username, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("postgres: getting user %q: %w", username, err)
	}
	return &u, nil
}

func (s *session) Close() error {
	return s.conn.Close()
}

// uniqueViolation maps a 23505 error to the users field whose constraint
// fired. Constraints created outside this package (a hand-made index, an
// older schema) fall back to their column name, then to "".
func uniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return "", false
	}

	switch pgErr.ConstraintName {
	case usernameConstraint:
		return "username", true
	case emailConstraint:
		return "email", true
	}

	switch {
	case pgErr.ColumnName == "username", strings.Contains(pgErr.ConstraintName, "username"):
		return "username", true
	case pgErr.ColumnName == "email", strings.Contains(pgErr.ConstraintName, "email"):
		return "email", true
	}
	return "", true
}
