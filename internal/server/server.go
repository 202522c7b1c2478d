// Package server exposes watcher state over a read-only HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hnap/internal/metrics"
	"github.com/jmerrifield20/hnap/internal/watch"
)

// StateSource provides sensor snapshots.
type StateSource interface {
	Snapshots() []watch.Snapshot
	Snapshot(name string) (watch.Snapshot, bool)
}

// Config holds status server configuration.
type Config struct {
	Listen       string
	CORSOrigins  []string
	RateLimitRPS int
}

// Server is the status API.
type Server struct {
	cfg    Config
	source StateSource
	logger *zap.Logger
	router *gin.Engine
}

// New builds the router.
func New(cfg Config, source StateSource, logger *zap.Logger) *Server {
	s := &Server{cfg: cfg, source: source, logger: logger}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	if len(s.cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Accept"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}
	if s.cfg.RateLimitRPS > 0 {
		router.Use(RateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitRPS*2))
	}
	router.Use(PrometheusMiddleware())
	router.Use(requestLogger(s.logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	metricsHandler := metrics.Handler()
	router.GET("/metrics", func(c *gin.Context) {
		metricsHandler.ServeHTTP(c.Writer, c.Request)
	})

	v1 := router.Group("/api/v1")
	{
		v1.GET("/sensors", s.listSensors)
		v1.GET("/sensors/:name", s.getSensor)
	}
	return router
}

// listSensors handles GET /sensors.
func (s *Server) listSensors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sensors": s.source.Snapshots()})
}

// getSensor handles GET /sensors/:name.
func (s *Server) getSensor(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	snap, ok := s.source.Snapshot(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "sensor not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", zap.String("addr", s.cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("status API shutdown error", zap.Error(err))
		return err
	}
	s.logger.Info("status API stopped")
	return nil
}
