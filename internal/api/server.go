package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spacedesk/spacedesk/internal/billing"
	"github.com/spacedesk/spacedesk/internal/config"
	"github.com/spacedesk/spacedesk/internal/session"
)

// Server is the local management API server: session CRUD, billing reads,
// package catalog, stats, and the WebSocket live estimate feed.
type Server struct {
	config     config.ServerConfig
	sessions   *session.Manager
	catalog    *billing.Catalog
	wsHub      *WebSocketHub
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new management API server.
func NewServer(
	cfg config.ServerConfig,
	sessions *session.Manager,
	catalog *billing.Catalog,
	logger *slog.Logger,
) *Server {
	s := &Server{
		config:   cfg,
		sessions: sessions,
		catalog:  catalog,
		wsHub:    NewWebSocketHub(logger, cfg.CORS),
		mux:      http.NewServeMux(),
		logger:   logger,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// Sessions
	s.mux.HandleFunc("POST /api/sessions", s.handleCheckIn)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("POST /api/sessions/{id}/checkout", s.handleCheckOut)
	s.mux.HandleFunc("GET /api/sessions/{id}/bill", s.handleBill)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	// Packages
	s.mux.HandleFunc("GET /api/packages", s.handleListPackages)

	// System
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// WebSocket
	s.mux.HandleFunc("GET /api/ws/estimates", s.wsHub.HandleWebSocket)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if s.config.CORS {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

// Start starts the API server and the live estimate broadcaster, blocking
// until the server stops. refreshInterval drives the estimate feed tick.
func (s *Server) Start(refreshInterval time.Duration) error {
	go s.wsHub.Run()
	go s.broadcastEstimates(refreshInterval)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("management API listening", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and the estimate feed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
