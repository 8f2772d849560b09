package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"accounts/backend/internal/auth"
	"accounts/backend/internal/model"
	"accounts/backend/internal/repository"
	"accounts/backend/internal/service"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	cfg      Config
	logger   *slog.Logger
	tokens   *auth.TokenManager
	accounts *service.AccountService
	metrics  *Metrics
	router   chi.Router
	http     *http.Server
	close    closeFunc
}

// NewServer opens the configured store and builds the server on it. When
// admin init is enabled the first admin is ensured before returning.
func NewServer(ctx context.Context, cfg Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	users, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s, err := NewServerWithRepository(cfg, logger, users)
	if err != nil {
		_ = closeStore(context.Background())
		return nil, err
	}
	s.close = closeStore

	if cfg.AdminInitEnabled {
		if err := s.InitFirstAdmin(ctx, cfg.AdminInitName, cfg.AdminInitEmail, cfg.AdminInitPassword); err != nil {
			_ = s.Close(context.Background())
			return nil, fmt.Errorf("admin init: %w", err)
		}
	}
	return s, nil
}

// NewServerWithRepository builds a server over an already opened store.
func NewServerWithRepository(cfg Config, logger *slog.Logger, users repository.UserRepository) (*Server, error) {
	tokens, err := auth.NewTokenManager(auth.TokenConfig{Secret: cfg.JWTSecret, TTL: cfg.TokenTTL})
	if err != nil {
		return nil, err
	}
	accounts, err := service.NewAccountService(service.AccountConfig{
		Users:    users,
		Hasher:   auth.NewBcryptHasher(cfg.HashCost),
		Tokens:   tokens,
		Logger:   logger,
		ResetTTL: cfg.ResetTokenTTL,
		ResetURL: cfg.ResetURL,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		tokens:   tokens,
		accounts: accounts,
		metrics:  NewMetrics(),
		close:    func(context.Context) error { return nil },
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(s.metrics.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(*http.Request, string) bool { return true },
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/users", s.dispatch(s.handleRegister))
		r.Get("/users", s.dispatch(s.handleListUsers, s.requireIdentity, requireRole(model.RoleAdmin)))
		r.Put("/users/{id}", s.dispatch(s.handleUpdateUser, s.requireIdentity, requireSelf("id")))
		r.Delete("/users/{id}", s.dispatch(s.handleDeleteUser, s.requireIdentity))
		r.Post("/login", s.dispatch(s.handleLogin))
		r.Post("/logout", s.dispatch(s.handleLogout))
		r.Post("/password-reset", s.dispatch(s.handleRequestPasswordReset))
		r.Post("/reset-password", s.dispatch(s.handleCompletePasswordReset))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, messageResponse{Message: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, messageResponse{Message: "Method not allowed"})
	})
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("server listening", "addr", s.http.Addr, "env", s.cfg.Env, "store", s.cfg.Store)
	return s.http.ListenAndServe()
}

// Run serves until ctx is cancelled, then shuts down gracefully and closes
// the store.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		s.logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, s.Shutdown(shutdownCtx), s.Close(shutdownCtx))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) Close(ctx context.Context) error {
	return s.close(ctx)
}

// InitFirstAdmin makes sure an admin account exists.
func (s *Server) InitFirstAdmin(ctx context.Context, name, email, password string) error {
	return s.accounts.EnsureAdmin(ctx, name, email, password)
}
