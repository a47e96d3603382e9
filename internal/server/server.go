// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the wiring layer. It decides:
//   - which store backend to open
//   - which URL patterns map to which handler functions
//   - what middleware runs on every request
//   - how the server starts and stops
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and hands it to New, which builds
//
//	store (sqlite or postgres) → PasswordService → AccountService → AccountHandler
//	store                                                         → HealthHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place, rather than scattered across the codebase.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/config"
	"github.com/sakif/account-service/internal/handler"
	"github.com/sakif/account-service/internal/middleware"
	"github.com/sakif/account-service/internal/repository"
	"github.com/sakif/account-service/internal/repository/postgres"
	sqliteRepo "github.com/sakif/account-service/internal/repository/sqlite"
	"github.com/sakif/account-service/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the store. Start closes it once the HTTP server has
// drained; callers that never call Start must call Close themselves.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	store  repository.Store
}

// New opens the configured store and builds the router.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` so it is not confused with
// the modernc.org/sqlite driver package.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	passwords, err := auth.NewPasswordService(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}
	s.setupRoutes(passwords)

	return s, nil
}

func openStore(ctx context.Context, cfg config.Database, logger *slog.Logger) (repository.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sqliteRepo.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.DriverPostgres:
		db, err := postgres.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST /register → create an account
// POST /login    → check credentials
// GET  /healthz  → store liveness
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns a unique ID to each request
//  2. RealIP: extracts the client IP from proxy headers
//  3. Recoverer: turns panics into a 500
//  4. Logger: one line per request, tagged with the request ID
//  5. CORS: answers preflight requests before they reach a handler
func (s *Server) setupRoutes(passwords *auth.PasswordService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	accountService := service.NewAccountService(s.store, passwords, s.logger)
	accountHandler := handler.NewAccountHandler(accountService, s.logger)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)

	s.router.Post("/register", accountHandler.HandleRegister)
	s.router.Post("/login", accountHandler.HandleLogin)
	s.router.Get("/healthz", healthHandler.HandleHealth)
}

// Handler returns the fully wired router. Tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store.
func (s *Server) Close() error {
	return s.store.Close()
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the store, which waits for checked-out sessions to come back
func (s *Server) Start() error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Error("closing store", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("driver", s.config.Database.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
