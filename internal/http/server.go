// Package http serves the autofixd control surface.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autofixd/internal/engine"
	"github.com/fyrsmithlabs/autofixd/internal/evolution"
	"github.com/fyrsmithlabs/autofixd/internal/logging"
	"github.com/fyrsmithlabs/autofixd/internal/macro"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
	"github.com/fyrsmithlabs/autofixd/internal/planner"
	"github.com/fyrsmithlabs/autofixd/internal/telemetry"
)

// Controller is the engine surface the server drives.
type Controller interface {
	Status() engine.Status
	Snapshot() memory.Snapshot
	StartDispatcher() bool
	StopDispatcher() bool
	SetPlannerEnabled(enabled bool)
	Tick(ctx context.Context) (planner.Decision, planner.Status, error)
	Evolve(ctx context.Context) ([]evolution.Action, error)
	RunMacro(ctx context.Context, name macro.Name) (macro.Result, error)
	ResetMemory(ctx context.Context) error
}

// Server provides the HTTP control surface.
type Server struct {
	echo   *echo.Echo
	ctrl   Controller
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	// Gatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Telemetry, when set, is reported by GET /health.
	Telemetry *telemetry.Telemetry
}

// NewServer creates a server for ctrl. A nil cfg listens on localhost:9090.
func NewServer(ctrl Controller, logger *zap.Logger, cfg *Config) (*Server, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("controller cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090}
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(newControlMetrics(logger).middleware())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:   e,
		ctrl:   ctrl,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// requestLogger logs every request and carries the logger and request id
// into the request context.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	log := logging.Wrap(logger)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := logging.WithLogger(c.Request().Context(), log)
			if id := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidID(id) {
				ctx = logging.WithRequestID(ctx, id)
			}
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			log.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/dispatcher/start", s.handleDispatcherStart)
	v1.POST("/dispatcher/stop", s.handleDispatcherStop)
	v1.PUT("/planner", s.handlePlanner)
	v1.POST("/planner/tick", s.handleTick)
	v1.GET("/memory", s.handleMemory)
	v1.POST("/memory/reset", s.handleReset)
	v1.POST("/evolve", s.handleEvolve)
	v1.POST("/macros/:name", s.handleMacro)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	st := s.ctrl.Status()
	resp := HealthResponse{
		Status:    "ok",
		Running:   st.Running,
		Connected: st.Connected,
	}
	if s.config.Telemetry != nil {
		h := s.config.Telemetry.Health()
		resp.Telemetry = &h
	}
	if !st.Running {
		resp.Status = "stopped"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	if !st.Connected {
		resp.Status = "degraded"
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Version: s.config.Version,
		Engine:  s.ctrl.Status(),
	})
}

func (s *Server) handleDispatcherStart(c echo.Context) error {
	changed := s.ctrl.StartDispatcher()
	return c.JSON(http.StatusOK, ToggleResponse{Changed: changed, State: string(s.ctrl.Status().Dispatcher)})
}

func (s *Server) handleDispatcherStop(c echo.Context) error {
	changed := s.ctrl.StopDispatcher()
	return c.JSON(http.StatusOK, ToggleResponse{Changed: changed, State: string(s.ctrl.Status().Dispatcher)})
}

func (s *Server) handlePlanner(c echo.Context) error {
	var req PlannerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled field is required")
	}
	s.ctrl.SetPlannerEnabled(*req.Enabled)
	ctx := c.Request().Context()
	logging.FromContext(ctx).Info(ctx, "planner toggled", zap.Bool("enabled", *req.Enabled))
	return c.JSON(http.StatusOK, PlannerResponse{Enabled: s.ctrl.Status().PlannerEnabled})
}

func (s *Server) handleTick(c echo.Context) error {
	d, status, err := s.ctrl.Tick(c.Request().Context())
	if err != nil {
		return engineError(c.Request().Context(), err)
	}
	c.Response().Header().Set(HeaderPlannerStatus, string(status))
	if status != planner.StatusDecided {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleMemory(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleReset(c echo.Context) error {
	if err := s.ctrl.ResetMemory(c.Request().Context()); err != nil {
		return engineError(c.Request().Context(), err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleEvolve(c echo.Context) error {
	actions, err := s.ctrl.Evolve(c.Request().Context())
	if err != nil {
		return engineError(c.Request().Context(), err)
	}
	if actions == nil {
		actions = []evolution.Action{}
	}
	return c.JSON(http.StatusOK, EvolveResponse{Actions: actions})
}

func (s *Server) handleMacro(c echo.Context) error {
	res, err := s.ctrl.RunMacro(c.Request().Context(), macro.Name(c.Param("name")))
	if err != nil {
		return engineError(c.Request().Context(), err)
	}
	return c.JSON(http.StatusOK, res)
}

// engineError maps engine errors onto HTTP statuses.
func engineError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, engine.ErrNotRunning):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, macro.ErrUnknownMacro):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusRequestTimeout, err.Error())
	}
	logging.FromContext(ctx).Error(ctx, "engine request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// Start listens on the configured address. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
