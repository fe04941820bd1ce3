// Package hubapi implements the hub's operator-facing HTTP surface:
// status/nodes/alerts/ai endpoints, synthetic event injection for demo
// profiles, a live Server-Sent Events and WebSocket mirror of the Event
// Bus, and the Prometheus /metrics endpoint. Grounded on the teacher's
// internal/api server (functional-option Echo server, graceful
// shutdown), rewritten against this domain's store/eventbus/classifier
// packages instead of BirdNET-Go's datastore/processor stack.
package hubapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foresthq/guardian/internal/classifier"
	fgerrors "github.com/foresthq/guardian/internal/errors"
	"github.com/foresthq/guardian/internal/eventbus"
	"github.com/foresthq/guardian/internal/logging"
	"github.com/foresthq/guardian/internal/store"
)

// Config wires the Server to its collaborators. FastCloud/DeepCloud may
// be nil in an offline-only deployment.
type Config struct {
	Addr       string
	Store      *store.SQLiteStore
	Bus        *eventbus.Bus
	Dispatcher *classifier.Dispatcher
	FastCloud  *classifier.FastCloud // optional, for service-availability reporting
	DeepCloud  *classifier.DeepCloud // optional, for quota reporting
}

// Server is the hub's HTTP API.
type Server struct {
	cfg   Config
	echo  *echo.Echo
	log   *slog.Logger
	start time.Time
}

// New builds a Server with routes registered but not yet listening.
func New(cfg Config) *Server {
	s := &Server{
		cfg:   cfg,
		echo:  echo.New(),
		log:   logging.ForService("hubapi"),
		start: time.Now(),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(s.accessLog())
	s.echo.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))
	s.routes()
	return s
}

func (s *Server) accessLog() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.log.Debug("http request",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return err
		}
	}
}

func (s *Server) routes() {
	s.echo.GET("/api/status", s.handleStatus)
	s.echo.GET("/api/nodes", s.handleListNodes)
	s.echo.GET("/api/alerts", s.handleListAlerts)
	s.echo.POST("/api/alerts/:id/respond", s.handleRespondAlert)
	s.echo.GET("/api/ai/status", s.handleAIStatus)
	s.echo.POST("/api/simulate/alert", s.handleSimulateAlert)
	s.echo.POST("/api/simulate/heartbeat", s.handleSimulateHeartbeat)
	s.echo.GET("/api/events", s.handleEventsSSE)
	s.echo.GET("/api/ws", s.handleEventsWS)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Start runs the server until ctx is canceled, then shuts it down
// gracefully within a 10-second window, mirroring the teacher's
// signal-driven server lifecycle.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("hub http api listening", "addr", s.cfg.Addr)
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fgerrors.New(err).Component("hubapi").Category(fgerrors.CategoryHTTP).Build()
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fgerrors.New(err).Component("hubapi").Category(fgerrors.CategoryHTTP).
				Context("operation", "shutdown").Build()
		}
		return nil
	}
}

func errorResponse(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}
