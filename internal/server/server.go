package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ziadkadry99/chatdiagram/internal/db"
	"github.com/ziadkadry99/chatdiagram/internal/gate"
)

// Config holds server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string // empty allows local origins only
	RequestTimeout time.Duration
}

// Server hosts the chat page, the APIs and the live sessions.
type Server struct {
	cfg        Config
	db         *db.DB
	gate       *gate.Gate
	router     chi.Router
	api        chi.Router
	httpServer *http.Server
}

// New creates a server. A nil gate leaves every route open.
func New(cfg Config, database *db.DB, g *gate.Gate) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		cfg:  cfg,
		db:   database,
		gate: g,
	}

	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		corsOpts.AllowedOrigins = s.cfg.AllowedOrigins
	}
	r.Use(cors.Handler(corsOpts))

	if s.gate != nil {
		r.Use(s.gate.Middleware)
		gate.RegisterRoutes(r, s.gate)
	}

	// Health check
	r.Get("/healthz", s.handleHealth)

	// Websocket routes go on the root router; everything else is
	// registered by feature packages on the API router, which bounds each
	// request.
	s.api = r.With(middleware.Timeout(s.cfg.RequestTimeout))

	return r
}

// Router returns the root router. Long-lived routes such as websockets
// belong here.
func (s *Server) Router() chi.Router { return s.router }

// API returns the router for request/response routes.
func (s *Server) API() chi.Router { return s.api }

// handleHealth reports ok, or 503 when the render cache database stops
// answering. A server without a database is healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := map[string]string{"status": "ok", "database": "disabled"}, http.StatusOK
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			status["status"], status["database"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["database"] = "ok"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chatdiagram server listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
