// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, hashes, orchestrates
//	Repository (Data layer)  → reads/writes the users table
//
// The service never sees HTTP types and never builds SQL. It returns
// apperror values; the handler decides which status code each one means.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

// Messages for missing fields. The whole request is rejected with one
// message rather than one per field.
const (
	msgRegisterFieldsRequired = "username, email and password are required"
	msgLoginFieldsRequired    = "username and password are required"
	msgUserNotFound           = "user not found"
	msgIncorrectPassword      = "incorrect password"
)

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Username string `validate:"required"`
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

// LoginInput is the data needed to check a password.
type LoginInput struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
}

// AccountService registers accounts and checks credentials.
//
// DEPENDENCIES (injected via NewAccountService):
//   - store      repository.Store       → per-request store sessions
//   - passwords  *auth.PasswordService  → bcrypt hash/verify
//   - logger     *slog.Logger           → structured logging
type AccountService struct {
	store     repository.Store
	passwords *auth.PasswordService
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewAccountService creates an AccountService with all required dependencies.
func NewAccountService(store repository.Store, passwords *auth.PasswordService, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:     store,
		passwords: passwords,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// Register validates the input, hashes the password and inserts the
// account.
//
// Errors:
//   - apperror.ErrValidation  → a field is missing, or the password is too long
//   - apperror.ErrConflict    → username or email taken (Field says which)
//   - anything else           → store or hashing failure
//
// No store connection is taken when validation fails.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, s.validationError(err, msgRegisterFieldsRequired)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password",
				fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
		}
		return nil, fmt.Errorf("service/account: hashing password: %w", err)
	}

	sess, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/account: %w", err)
	}
	defer s.release(sess)

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	}
	if err := sess.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			s.logger.Info("registration rejected: duplicate",
				slog.String("username", in.Username),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		return nil, fmt.Errorf("service/account: registering %q: %w", in.Username, err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Login checks the password against the stored hash and returns the
// account as stored, so callers echo the canonical username.
//
// Errors:
//   - apperror.ErrValidation    → a field is missing
//   - apperror.ErrUnauthorized  → unknown username, or wrong password
//   - anything else             → store failure or an unreadable stored hash
func (s *AccountService) Login(ctx context.Context, in LoginInput) (*model.User, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, s.validationError(err, msgLoginFieldsRequired)
	}

	sess, err := s.store.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/account: %w", err)
	}
	defer s.release(sess)

	user, err := sess.GetUserByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgUserNotFound)
		}
		return nil, fmt.Errorf("service/account: looking up %q: %w", in.Username, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized(msgIncorrectPassword)
		}
		return nil, fmt.Errorf("service/account: verifying password for %q: %w", in.Username, err)
	}

	s.logger.Info("user logged in", slog.String("username", user.Username))
	return user, nil
}

// release closes a session. A close failure is logged and otherwise
// ignored: the outcome of the request is already decided.
func (s *AccountService) release(sess repository.Session) {
	if err := sess.Close(); err != nil {
		s.logger.Error("failed to release database connection", slog.String("error", err.Error()))
	}
}

// validationError turns validator output into one ValidationFailed error
// naming the first missing field.
func (s *AccountService) validationError(err error, message string) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return apperror.ValidationFailed(strings.ToLower(fieldErrs[0].Field()), message)
	}
	return apperror.ValidationFailed("", message)
}
