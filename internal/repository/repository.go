// Package repository declares the storage contracts the service layer
// depends on. Implementations live in sub-packages (sqlite, postgres).
package repository

import (
	"context"

	"github.com/sakif/account-service/internal/model"
)

// Store hands out per-request sessions against the account database.
//
// Acquire logs and returns any failure to obtain a connection; callers
// must not touch the session when err != nil. Every successful Acquire
// must be paired with exactly one Session.Close, on every exit path.
type Store interface {
	Acquire(ctx context.Context) (Session, error)
	Ping(ctx context.Context) error
	Close() error
}

// Session is one checked-out connection. Each call runs a single
// auto-committed statement.
type Session interface {
	// CreateUser inserts a new account. A uniqueness violation comes back
	// wrapping apperror.Conflict with the collided field.
	CreateUser(ctx context.Context, user *model.User) error

	// GetUserByUsername returns the account with that exact username, or
	// an error wrapping apperror.ErrNotFound.
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	Close() error
}
