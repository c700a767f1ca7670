package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mailscope/mailscope/internal/auth"
	"github.com/mailscope/mailscope/internal/config"
	"github.com/mailscope/mailscope/internal/dispatch"
	"github.com/mailscope/mailscope/internal/pkg/logger"
	"github.com/mailscope/mailscope/internal/tracking"
)

// Server wires the handlers into an http.Server with sane timeouts.
type Server struct {
	http *http.Server
}

// NewServer builds the API server.
func NewServer(cfg *config.Config, authSvc *auth.Service, connector *auth.Connector, dispatchSvc *dispatch.Service, beacon *tracking.Handler, limiter *RateLimiter) *Server {
	h := &Handlers{
		auth:      authSvc,
		connector: connector,
		dispatch:  dispatchSvc,
		beacon:    beacon,
		cfg:       cfg,
	}

	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           Routes(h, authSvc, limiter),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Start blocks serving requests until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	logger.Info("api server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
