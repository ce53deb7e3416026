// Package api exposes the ingest and detection pipelines over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/detection"
	"github.com/tracewild/camtrap-go/internal/errors"
	"github.com/tracewild/camtrap-go/internal/ingest"
	"github.com/tracewild/camtrap-go/internal/logging"
	"github.com/tracewild/camtrap-go/internal/observability"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Server is the HTTP front of the application.
type Server struct {
	echo         *echo.Echo
	settings     *conf.Settings
	store        datastore.Interface
	pipeline     *ingest.Pipeline
	orchestrator *detection.Orchestrator
	tracker      *detection.Tracker
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// New creates the HTTP server and registers all routes.
func New(settings *conf.Settings, store datastore.Interface, pipeline *ingest.Pipeline, orchestrator *detection.Orchestrator, tracker *detection.Tracker, metrics *observability.Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:         e,
		settings:     settings,
		store:        store,
		pipeline:     pipeline,
		orchestrator: orchestrator,
		tracker:      tracker,
		metrics:      metrics,
		logger:       logging.ForService("api"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/projects", s.createProject)
	v1.GET("/projects/:id/status", s.projectStatus)
	v1.POST("/projects/:id/ingest", s.ingestUpload)

	v1.POST("/detect", s.startDetection)
	v1.GET("/detect/status", s.latestDetectionStatus)
	v1.GET("/detect/status/:id", s.detectionStatus)
	v1.POST("/detect/cancel/:id", s.cancelDetection)

	v1.GET("/images/:id", s.getImage)
	v1.GET("/images/:id/annotated", s.getAnnotatedImage)
	v1.PUT("/images/:id/inspection", s.setInspectionStatus)
	v1.DELETE("/images/:id", s.deleteImage)
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(":" + s.settings.WebServer.Port)
	}()

	s.logger.Info("http server started", "port", s.settings.WebServer.Port)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

// httpError maps application error categories onto HTTP status codes.
func httpError(c echo.Context, err error) error {
	switch {
	case errors.IsValidation(err):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.IsNotFound(err):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
