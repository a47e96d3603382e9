package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/service"
)

// AccountService is the subset of service.AccountService the handler uses.
// Declared here so handler tests can substitute a stub.
type AccountService interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.User, error)
	Login(ctx context.Context, in service.LoginInput) (*model.User, error)
}

// AccountHandler serves account registration and login.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister → POST /register
//   - HandleLogin    → POST /login
//
// Both decode the JSON body, call the service, and translate the result.
// Field validation, hashing and storage all happen in the service.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the body of a successful POST /login.
type LoginResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// HandleRegister creates an account.
//
// HTTP: POST /register
// REQUEST BODY: {"username": "alice", "email": "a@x.com", "password": "secret1"}
//
// Responses: 201 on success, 400 on missing fields or bad JSON, 409 when
// the username or email is taken, 500 otherwise.
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	_, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.logFailure(r.Context(), "registration failed", err, slog.String("username", req.Username))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{Message: "user registered successfully"})
}

// HandleLogin checks a username and password.
//
// HTTP: POST /login
// REQUEST BODY: {"username": "alice", "password": "secret1"}
//
// Responses: 200 with the stored username, 400 on missing fields or bad
// JSON, 401 for an unknown user or wrong password, 500 otherwise.
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.accounts.Login(r.Context(), service.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.logFailure(r.Context(), "login failed", err, slog.String("username", req.Username))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Message:  "login successful",
		Username: user.Username,
	})
}

// decode reads the JSON body into dst. On failure it writes a 400 and
// returns false.
func (h *AccountHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("invalid request JSON",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, apperror.ValidationFailed("", "request body must be a JSON object"))
		return false
	}
	return true
}

// logFailure logs client errors at Info and everything else at Error, so
// infrastructure failures keep their full detail in the server log.
func (h *AccountHandler) logFailure(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	level := slog.LevelError
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		level = slog.LevelInfo
	}
	h.logger.LogAttrs(ctx, level, msg, append(attrs, slog.String("error", err.Error()))...)
}
