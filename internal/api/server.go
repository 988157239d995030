// Package api exposes the timeline over HTTP: a read endpoint that
// returns the projected window with its layout plan, mutation
// endpoints guarded by the booking lifecycle rules, journal queries
// and an xlsx export.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"fleetgrid/internal/audit"
	"fleetgrid/internal/config"
	"fleetgrid/internal/events"
	"fleetgrid/internal/intent"
	"fleetgrid/internal/lifecycle"
)

// Server hosts the timeline HTTP API.
type Server struct {
	echo   *echo.Echo
	collab intent.Collaborator
	store  *audit.Store
	bus    *events.Bus
	fsm    *lifecycle.FSM
	grid   config.GridConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewServer wires routes and middleware. store may be nil when the
// journal is disabled.
func NewServer(collab intent.Collaborator, store *audit.Store, bus *events.Bus, grid config.GridConfig, logger zerolog.Logger) *Server {
	s := &Server{
		echo:   echo.New(),
		collab: collab,
		store:  store,
		bus:    bus,
		fsm:    lifecycle.New(),
		grid:   grid,
		logger: logger,
		now:    time.Now,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(s.requestLogger)

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := s.echo.Group("/v1")
	g.GET("/timeline", s.Timeline)
	g.GET("/export", s.Export)
	g.GET("/journal", s.Journal)
	g.GET("/events/:id/journal", s.EventJournal)

	g.POST("/bookings/check", s.CheckConflict)
	g.POST("/maintenance", s.CreateMaintenance)
	g.POST("/events/:id/status", s.ChangeStatus)
	g.POST("/events/:id/end", s.ChangeEnd)
	g.POST("/events/:id/buffer", s.ChangeBuffer)
	g.POST("/events/:id/split", s.Split)
	g.POST("/events/:id/reassign", s.Reassign)
	g.POST("/events/:id/return", s.ProcessReturn)

	return s
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Info().
			Str("method", c.Request().Method).
			Str("path", c.Request().URL.Path).
			Int("status", c.Response().Status).
			Dur("duration", time.Since(start)).
			Msg("request")
		return err
	}
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("HTTP server starting")
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
