// Package api provides the HTTP API server for msgdesk.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/msgdesk/msgdesk/internal/config"
	"github.com/msgdesk/msgdesk/internal/query"
	"github.com/msgdesk/msgdesk/internal/scheduler"
)

// MessageEngine defines the query operations the API needs.
type MessageEngine interface {
	Create(ctx context.Context, d query.MessageDraft) (int64, error)
	Reply(ctx context.Context, parentID int64, d query.MessageDraft) (int64, error)
	Update(ctx context.Context, id int64, p query.MessagePatch) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
	GetByID(ctx context.Context, v *query.Viewer, id int64) (*query.Message, error)
	ListWithTotal(ctx context.Context, v *query.Viewer, f query.MessageFilter) ([]query.Message, int64, error)
	ListThread(ctx context.Context, v *query.Viewer, id int64) ([]query.Message, error)
	ContactHistory(ctx context.Context, v *query.Viewer, phone, email string, limit int) ([]query.Message, error)
}

// ReminderSweep defines the scheduler operations the API needs.
type ReminderSweep interface {
	Status() scheduler.SweepStatus
	TriggerSweep() error
	IsRunning() bool
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	engine      MessageEngine
	sweep       ReminderSweep
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server. sweep may be nil when the reminder
// sweep is disabled.
func NewServer(cfg *config.Config, engine MessageEngine, sweep ReminderSweep, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		sweep:  sweep,
		logger: logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	rps := s.cfg.Server.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := s.cfg.Server.RateBurst
	if burst <= 0 {
		burst = 20
	}
	s.rateLimiter = NewRateLimiter(rps, burst)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/messages", s.handleListMessages)
		r.Post("/messages", s.handleCreateMessage)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Patch("/messages/{id}", s.handlePatchMessage)
		r.Delete("/messages/{id}", s.handleDeleteMessage)
		r.Get("/messages/{id}/thread", s.handleThread)
		r.Post("/messages/{id}/reply", s.handleReply)

		r.Get("/contact-history", s.handleContactHistory)

		r.Get("/reminders/status", s.handleReminderStatus)
		r.Post("/reminders/sweep", s.handleTriggerSweep)
	})

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication, set [server] api_key in config.toml")
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key. Viewer identity is separate: the
// fronting proxy authenticates the person and forwards X-Viewer-* headers;
// the key authenticates the proxy itself.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			authHeader = r.Header.Get("X-API-Key")
		}
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			authHeader = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
