// Package api exposes the dashboard-facing HTTP surface: JSON snapshots of
// the view, an SSE change feed, and intent endpoints that forward to the
// upstream session.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/outagex/outagex-sync/internal/config"
	"github.com/outagex/outagex-sync/internal/models"
	"github.com/outagex/outagex-sync/internal/store"
)

// Upstream is the slice of the transport session the API forwards intents to.
type Upstream interface {
	TriggerIncident() error
	ExecuteSolution(solutionID string) error
	SendChat(msg models.ChatMessage) error
	StopAgent() error
}

// Backfill is the slice of the history loader the API drives on context
// switches.
type Backfill interface {
	Refresh(ctx context.Context, projectID string)
}

// Server wraps the HTTP listener and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// NewServer constructs an HTTP server bound to the configured address.
func NewServer(cfg config.ServerConfig, st *store.Store, upstream Upstream, backfill Backfill, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	router.Use(cors.New(corsCfg))

	h := &handlers{store: st, upstream: upstream, backfill: backfill, logger: logger}
	h.register(router)

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Handler: router,
		},
		listener: lis,
		logger:   logger,
	}, nil
}

// Start serves incoming requests until Shutdown is invoked.
func (s *Server) Start() error {
	if s.httpServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, forcing closure when the context
// expires. Open SSE streams are closed.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("forced server close", slog.Any("error", err))
		_ = s.httpServer.Close()
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
