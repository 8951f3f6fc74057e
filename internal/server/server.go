// file: internal/server/server.go
// version: 2.1.0
// guid: 9fa8cc56-1e3e-4e11-9222-a9158f14b2d0

// Package server exposes the processor's status and control API and the
// Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jdfalk/video-autoprocessor/internal/catalog"
	"github.com/jdfalk/video-autoprocessor/internal/metrics"
	"github.com/jdfalk/video-autoprocessor/internal/processor"
	"github.com/jdfalk/video-autoprocessor/internal/server/middleware"
)

// Engine is the processor surface the API reports on.
type Engine interface {
	Status() processor.Status
}

// CatalogReader lists committed videos. List must not modify the catalog
// file; *catalog.Store reports a corrupt file as catalog.ErrCorrupt and
// leaves it for the next commit to move aside.
type CatalogReader interface {
	List() ([]catalog.Record, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	engine     Engine
	catalog    CatalogReader
	stop       func()
	logger     zerolog.Logger
	startedAt  time.Time
	version    string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns timeouts suited to a local control API.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:         addr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new server instance. stop is invoked by
// POST /api/v1/stop; catalog may be nil.
func NewServer(engine Engine, catalog CatalogReader, stop func(), version string, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "server").Logger()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger, "/metrics", "/api/v1/health"))

	// Register metrics (idempotent)
	metrics.Register()

	s := &Server{
		router:    router,
		engine:    engine,
		catalog:   catalog,
		stop:      stop,
		logger:    logger,
		startedAt: time.Now(),
		version:   version,
	}
	s.setupRoutes()
	return s
}

// EventSource streams processing events to a client.
type EventSource interface {
	HandleSSE(c *gin.Context)
}

// EnableEvents mounts GET /api/v1/events. Call before Start.
func (s *Server) EnableEvents(events EventSource) {
	s.router.GET("/api/v1/events", events.HandleSSE)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds cfg.Addr and serves in the background. Bind errors are
// returned immediately.
func (s *Server) Start(cfg ServerConfig) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	s.httpServer = &http.Server{
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("status server failed")
		}
	}()
	return nil
}

// Shutdown gives outstanding requests until ctx ends to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info().Msg("status server stopped")
	return nil
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint (standard path)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1")
	api.GET("/health", s.healthCheck)
	api.GET("/status", s.getStatus)
	api.GET("/videos", s.listVideos)

	control := api.Group("")
	control.Use(middleware.NewIPRateLimiter(6, 2).Middleware())
	control.POST("/stop", s.requestStop)
}

func (s *Server) healthCheck(c *gin.Context) {
	st := s.engine.Status()
	code := http.StatusOK
	status := "ok"
	if !st.Running || !st.WatcherAlive {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	c.JSON(code, gin.H{
		"status":        status,
		"timestamp":     time.Now().Unix(),
		"version":       s.version,
		"watcher_alive": st.WatcherAlive,
		"running":       st.Running,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Version:   s.version,
		StartedAt: s.startedAt,
		Status:    s.engine.Status(),
	})
}

func (s *Server) listVideos(c *gin.Context) {
	if s.catalog == nil {
		RespondWithError(c, s.logger, http.StatusServiceUnavailable, "catalog not configured", "CATALOG_UNAVAILABLE")
		return
	}
	records, err := s.catalog.List()
	if errors.Is(err, catalog.ErrCorrupt) {
		RespondWithError(c, s.logger, http.StatusInternalServerError, err.Error(), "CATALOG_CORRUPT")
		return
	}
	if err != nil {
		RespondWithError(c, s.logger, http.StatusInternalServerError, err.Error(), "CATALOG_READ_FAILED")
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: records, Count: len(records)})
}

func (s *Server) requestStop(c *gin.Context) {
	if s.stop == nil {
		RespondWithError(c, s.logger, http.StatusNotImplemented, "stop is not available", "STOP_UNAVAILABLE")
		return
	}
	s.logger.Info().Str("client_ip", c.ClientIP()).Msg("stop requested over api")
	c.JSON(http.StatusAccepted, MessageResponse{Message: "shutdown initiated"})
	// respond before the processor starts draining
	go s.stop()
}
