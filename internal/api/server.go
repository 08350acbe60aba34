// Package api exposes the matching engine over HTTP.
//
// Routes:
//
//	POST /v1/documents/:id/duplicates   duplicate detection for an ingested document
//	POST /v1/transactions/:id/matches   reconciliation of a bank transaction
//	GET  /v1/targets/:id/runs           audit history of a target, newest first
//	GET  /metrics                       Prometheus metrics
//	GET  /health/live, /health/ready    probes
//
// Every /v1 route is tenant scoped by the X-Tenant-ID header.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"golang-matching-service/internal/matcher"
	"golang-matching-service/internal/models"
	"golang-matching-service/internal/store"
	"golang-matching-service/pkg/logger"
)

// Matcher runs one match for a target. *matcher.Engine satisfies it.
type Matcher interface {
	Match(ctx context.Context, tenantID, targetID string, profile *matcher.Profile) (*models.MatchRun, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHistory      int           `mapstructure:"max_history"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxHistory:      100,
	}
}

// Server is the matching HTTP API.
type Server struct {
	echo     *echo.Echo
	config   Config
	engine   Matcher
	runs     store.RunStore
	profiles map[models.Variant]*matcher.Profile
	logger   logger.Logger
	ready    atomic.Bool
}

// NewServer wires the routes. Profiles are looked up by variant; a nil
// gatherer serves the default Prometheus registry.
func NewServer(config Config, engine Matcher, runs store.RunStore, profiles []*matcher.Profile, gatherer prometheus.Gatherer, log logger.Logger) (*Server, error) {
	if engine == nil || runs == nil {
		return nil, errors.New("api: engine and run store are required")
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = DefaultConfig().MaxHistory
	}

	s := &Server{
		echo:     echo.New(),
		config:   config,
		engine:   engine,
		runs:     runs,
		profiles: make(map[models.Variant]*matcher.Profile, len(profiles)),
		logger:   log.WithComponent("api"),
	}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		s.profiles[p.Variant] = p
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = errorHandler(s.logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(s.logger))
	if config.RequestTimeout > 0 {
		e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
			Timeout: config.RequestTimeout,
		}))
	}

	e.GET("/health/live", s.live)
	e.GET("/health/ready", s.readiness)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := e.Group("/v1", tenantScope())
	v1.POST("/documents/:id/duplicates", s.detectDuplicates)
	v1.POST("/transactions/:id/matches", s.reconcileTransaction)
	v1.GET("/targets/:id/runs", s.listRuns)

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("Starting HTTP server")
		errCh <- s.echo.Start(s.config.Addr)
	}()
	s.ready.Store(true)

	select {
	case err := <-errCh:
		s.ready.Store(false)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.ready.Store(false)
	s.logger.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// SetReady sets the readiness state reported by /health/ready.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) live(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) readiness(c echo.Context) error {
	if s.ready.Load() {
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}
