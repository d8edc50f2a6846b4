// Package http serves the platform REST API from a sandbox store, for local
// end-to-end imports and for tests.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcdimport/internal/logging"
	"github.com/fyrsmithlabs/pcdimport/internal/platform"
	"github.com/fyrsmithlabs/pcdimport/internal/sandbox"
)

// Server serves the platform API.
type Server struct {
	echo     *echo.Echo
	store    *sandbox.Store
	logger   *logging.Logger
	config   *Config
	registry *prometheus.Registry
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Metrics records request metrics. Nil disables them.
	Metrics *HTTPMetrics
}

// NewServer creates a new sandbox server.
func NewServer(store *sandbox.Store, logger *logging.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8300,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(requestLogger(logger))
	if cfg.Metrics != nil {
		e.Use(cfg.Metrics.MetricsMiddleware())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	registerStoreCollectors(reg, store)

	s := &Server{
		echo:     e,
		store:    store,
		logger:   logger,
		config:   cfg,
		registry: reg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			ctx := req.Context()
			if id := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidID(id) {
				ctx = logging.WithRequestID(ctx, id)
				c.SetRequest(req.WithContext(ctx))
			}

			err := next(c)
			if err != nil {
				// Let the error handler set the status before logging.
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)

			return nil
		}
	}
}

// errorHandler renders every error as {"message": ...}.
func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := statusFor(err)
		if code >= http.StatusInternalServerError {
			logger.Error(c.Request().Context(), "request failed", zap.Error(err))
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, platform.ErrorResponse{Message: msg})
		}
		if writeErr != nil {
			logger.Warn(c.Request().Context(), "writing error response", zap.Error(writeErr))
		}
	}
}

func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code, fmt.Sprint(he.Message)
	case errors.Is(err, sandbox.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, sandbox.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, sandbox.ErrInvalid):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/stats", s.handleStats)

	v1.GET("/files/info", s.handleFileInfo)
	v1.GET("/files/list", s.handleListFiles)
	v1.GET("/files/download", s.handleDownload)
	v1.DELETE("/files", s.handleRemove)

	v1.POST("/projects", s.handleCreateProject)
	v1.PUT("/projects/:id/meta", s.handleUpdateMeta)
	v1.POST("/datasets", s.handleCreateDataset)
	v1.POST("/datasets/:id/pointclouds", s.handleUploadPointclouds)
	v1.POST("/datasets/:id/tags", s.handleEpisodeTags)
	v1.POST("/datasets/:id/objects", s.handleCreateObjects)
	v1.POST("/datasets/:id/figures", s.handleCreateFigures)
	v1.POST("/related-images", s.handleUploadImages)
	v1.POST("/related-images/links", s.handleLinks)
	v1.POST("/tasks/:id/output", s.handleTaskOutput)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info(context.Background(), "starting sandbox server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down sandbox server")
	return s.echo.Shutdown(ctx)
}
