// Package server provides the HTTP API for codecraft.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dshills/codecraft/graph/emit"
	"github.com/dshills/codecraft/graph/store"
	"github.com/dshills/codecraft/internal/workflow"
)

// ServiceName is reported by /health.
const ServiceName = "Codecraft AI API"

// WorkflowRunner runs the agent workflow. *workflow.Runner implements it.
type WorkflowRunner interface {
	Run(ctx context.Context, task string) (*workflow.Result, error)
	Latest(ctx context.Context, runID string) (workflow.State, int, error)
	Steps(ctx context.Context, runID string) ([]store.StepRecord[workflow.State], error)
	Delete(ctx context.Context, runID string) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Reported by /status.
	Provider      string
	Model         string
	LLMConfigured bool
	Version       string
}

// Server provides HTTP endpoints for codecraft.
type Server struct {
	echo     *echo.Echo
	runner   WorkflowRunner
	events   *emit.BufferedEmitter
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	config   *Config
}

// NewServer creates a new HTTP server. events and gatherer are optional;
// without them the events and metrics endpoints are not served.
func NewServer(runner WorkflowRunner, events *emit.BufferedEmitter, gatherer prometheus.Gatherer, logger *zap.Logger, cfg *Config) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 8000,
		}
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"*"},
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		runner:   runner,
		events:   events,
		gatherer: gatherer,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/generate", s.handleGenerate)
	v1.GET("/runs/:id", s.handleRun)
	v1.DELETE("/runs/:id", s.handleDeleteRun)
	v1.GET("/runs/:id/steps", s.handleRunSteps)
	if s.events != nil {
		v1.GET("/runs/:id/events", s.handleRunEvents)
	}
}

// GenerateRequest is the request body for POST /api/v1/generate.
type GenerateRequest struct {
	Task string `json:"task"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Status        string            `json:"status"`
	LLMConfigured bool              `json:"llm_configured"`
	LLMProvider   string            `json:"llm_provider"`
	LLMModel      string            `json:"llm_model"`
	Endpoints     map[string]string `json:"endpoints"`
}

// RunResponse is the response body for GET /api/v1/runs/:id.
type RunResponse struct {
	RunID string         `json:"run_id"`
	Step  int            `json:"step"`
	State workflow.State `json:"state"`
}

// StepsResponse is the response body for GET /api/v1/runs/:id/steps.
type StepsResponse struct {
	RunID string                             `json:"run_id"`
	Steps []store.StepRecord[workflow.State] `json:"steps"`
}

// EventsResponse is the response body for GET /api/v1/runs/:id/events.
type EventsResponse struct {
	RunID  string       `json:"run_id"`
	Events []emit.Event `json:"events"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: ServiceName,
		Version: s.config.Version,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	endpoints := map[string]string{
		"generate_code": "/api/v1/generate",
		"runs":          "/api/v1/runs/{id}",
		"run_steps":     "/api/v1/runs/{id}/steps",
		"health":        "/health",
		"status":        "/status",
	}
	if s.events != nil {
		endpoints["run_events"] = "/api/v1/runs/{id}/events"
	}
	if s.gatherer != nil {
		endpoints["metrics"] = "/metrics"
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Status:        "operational",
		LLMConfigured: s.config.LLMConfigured,
		LLMProvider:   s.config.Provider,
		LLMModel:      s.config.Model,
		Endpoints:     endpoints,
	})
}

// handleGenerate runs the workflow synchronously for the request's task.
func (s *Server) handleGenerate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid generate request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: ErrorDetail{
			Error:   "Invalid Request",
			Message: "The request body must be a JSON object with a task field.",
		}})
	}

	res, err := s.runner.Run(c.Request().Context(), req.Task)
	if err != nil {
		status, detail := classifyError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("generate failed", zap.Int("status", status), zap.Error(err))
		} else {
			s.logger.Warn("generate failed", zap.Int("status", status), zap.Error(err))
		}
		return c.JSON(status, ErrorResponse{Detail: detail})
	}

	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleRun(c echo.Context) error {
	runID := c.Param("id")

	state, step, err := s.runner.Latest(c.Request().Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, notFound(runID))
	}
	if err != nil {
		s.logger.Error("load run failed", zap.String("run_id", runID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, storageError(err))
	}

	return c.JSON(http.StatusOK, RunResponse{RunID: runID, Step: step, State: state})
}

func (s *Server) handleRunSteps(c echo.Context) error {
	runID := c.Param("id")

	steps, err := s.runner.Steps(c.Request().Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, notFound(runID))
	}
	if err != nil {
		s.logger.Error("list run steps failed", zap.String("run_id", runID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, storageError(err))
	}

	return c.JSON(http.StatusOK, StepsResponse{RunID: runID, Steps: steps})
}

// handleDeleteRun drops a run's persisted steps and buffered events.
func (s *Server) handleDeleteRun(c echo.Context) error {
	runID := c.Param("id")

	err := s.runner.Delete(c.Request().Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, notFound(runID))
	}
	if err != nil {
		s.logger.Error("delete run failed", zap.String("run_id", runID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, storageError(err))
	}
	if s.events != nil {
		s.events.Clear(runID)
	}

	s.logger.Info("run deleted", zap.String("run_id", runID))
	return c.NoContent(http.StatusNoContent)
}

// handleRunEvents returns buffered events, optionally filtered by the
// node_id, msg, min_step and max_step query parameters.
func (s *Server) handleRunEvents(c echo.Context) error {
	runID := c.Param("id")
	if !s.events.HasRun(runID) {
		return c.JSON(http.StatusNotFound, notFound(runID))
	}

	filter := emit.HistoryFilter{
		NodeID: c.QueryParam("node_id"),
		Msg:    c.QueryParam("msg"),
	}
	for name, dst := range map[string]**int{"min_step": &filter.MinStep, "max_step": &filter.MaxStep} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Detail: ErrorDetail{
				Error:   "Invalid Request",
				Message: name + " must be an integer",
			}})
		}
		*dst = &v
	}

	events := s.events.GetHistoryWithFilter(runID, filter)
	if events == nil {
		events = []emit.Event{}
	}
	return c.JSON(http.StatusOK, EventsResponse{RunID: runID, Events: events})
}

func notFound(runID string) ErrorResponse {
	return ErrorResponse{Detail: ErrorDetail{
		Error:   "Not Found",
		Message: "no run with id " + runID,
	}}
}

func storageError(err error) ErrorResponse {
	return ErrorResponse{Detail: ErrorDetail{
		Error:   "Storage Error",
		Message: err.Error(),
	}}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
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
