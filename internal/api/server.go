package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stockpulse/internal/api/health"
	"stockpulse/internal/metrics"
	"stockpulse/internal/notifier"
	"stockpulse/pkg/errors"
	"stockpulse/pkg/logger"
)

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Port        int
	ServiceName string
	Version     string
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer creates and configures HTTP server with all routes
func NewServer(
	cfg ServerConfig,
	healthHandler *health.Handler,
	analysisHandler *AnalysisHandler,
	chatHandler *ChatHandler,
	hub *notifier.Hub,
	log *logger.Logger,
) *Server {
	mux := http.NewServeMux()

	// Health check endpoints (Kubernetes probes)
	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReadiness)
	mux.HandleFunc("/live", healthHandler.HandleLiveness)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	// Analysis API
	mux.HandleFunc("/api/v1/analysis", analysisHandler.HandleStart)
	mux.HandleFunc("/api/v1/analysis/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/chat") {
			chatHandler.HandleChat(w, r)
			return
		}
		analysisHandler.HandleStatus(w, r)
	})

	// Progress updates over WebSocket
	mux.Handle("/ws", hub)

	// Root endpoint (service info)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":"%s","version":"%s","status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}

	log.Infof("HTTP server configured on port %d", port)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		log:        log,
	}
}

// Start begins listening for HTTP requests
// Blocks until server is stopped or encounters an error
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
// Waits for active connections to complete within timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("✓ HTTP server stopped")
	return nil
}
