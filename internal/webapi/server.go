// Package webapi is the inbound HTTP surface (spec.md §6): dashboard
// summary, rate-limit status, health, metrics, cache admin, and a
// WebSocket broadcast endpoint. Grounded on
// internal/interfaces/http/server.go's port-precheck + mux.Router shape.
package webapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ServerConfig mirrors the teacher's ServerConfig.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server wraps a mux.Router-backed http.Server around a Handlers instance.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer checks the configured port is free (closing the probe
// listener immediately, same as the teacher) before building the router,
// so a misconfigured deploy fails fast instead of silently rebinding.
func NewServer(config ServerConfig, handlers *Handlers, logger zerolog.Logger) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", config.Port, err)
	}
	listener.Close()

	s := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		logger:   logger,
		config:   config,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/", s.handlers.Index).Methods(http.MethodGet)
	s.router.HandleFunc("/crypto_report", s.handlers.LatestReport).Methods(http.MethodGet)
	s.router.HandleFunc("/crypto_report/{id}", s.handlers.Report).Methods(http.MethodGet)
	s.router.HandleFunc("/crypto_reports_list", s.handlers.ReportsList).Methods(http.MethodGet)

	s.router.HandleFunc("/api/crypto/dashboard-summary", s.handlers.DashboardSummary).Methods(http.MethodGet)
	s.router.HandleFunc("/api/crypto/dashboard-summary/refresh", s.handlers.DashboardSummaryRefresh).Methods(http.MethodPost)
	s.router.HandleFunc("/api/crypto/rate-limit-status", s.handlers.RateLimitStatus).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router.HandleFunc("/admin/cache/stats", s.handlers.CacheStats).Methods(http.MethodGet)
	s.router.HandleFunc("/admin/cache/clear", s.handlers.CacheClear).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handlers.WebSocket)
}

// ListenAndServe blocks serving until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("webapi: listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
