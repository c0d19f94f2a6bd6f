package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/punchclock/internal/capture"
	"github.com/kozaktomas/punchclock/internal/config"
	"github.com/kozaktomas/punchclock/internal/screen"
	"github.com/kozaktomas/punchclock/internal/web/handlers"
	"github.com/kozaktomas/punchclock/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *config.Config
	router     *chi.Mux
	httpServer *http.Server
	monitor    *screen.Monitor
	captures   *handlers.CaptureHandler
	sessions   *handlers.SessionManager
}

// NewServer creates a new web server exposing monitor and capture sessions
// built on backend. Capture sessions share lock with the monitor.
func NewServer(cfg *config.Config, backend capture.Backend, monitor *screen.Monitor, lock *screen.CameraLock, captureCfg capture.Config) *Server {
	r := chi.NewRouter()
	sessions := handlers.NewSessionManager()

	s := &Server{
		config:   cfg,
		router:   r,
		monitor:  monitor,
		sessions: sessions,
		captures: handlers.NewCaptureHandler(backend, lock, captureCfg, sessions),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("web: starting server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown cancels every capture session and gracefully shuts down the
// server. The monitor is owned by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("web: shutting down server")
	s.sessions.CloseAll()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
