package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sublimine-ids/internal/bus"
	"sublimine-ids/internal/config"
)

// Server runs the optional HTTP/WebSocket dashboard API.
type Server struct {
	cfg      config.DashboardConfig
	provider Provider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires a dashboard server reading state from provider and
// streaming events from b. It does not write to either.
func NewServer(cfg config.DashboardConfig, provider Provider, b *bus.Bus, logger *slog.Logger) *Server {
	hub := NewHub(b, logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	return &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "api-server"),
	}
}

// Start runs the HTTP server; blocks until Stop is called or the
// listener fails. The hub needs no separate goroutine: it was already
// subscribed to the bus in NewServer and delivers on the publisher's
// goroutine.
func (s *Server) Start() error {
	s.logger.Info("dashboard server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
