// Package server exposes the HTTP API, health endpoints, metrics and the
// WebSocket push channel.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pddkhanh/solfolio-sub005/internal/config"
	apperrors "github.com/pddkhanh/solfolio-sub005/internal/errors"
	"github.com/pddkhanh/solfolio-sub005/internal/hub"
	"github.com/pddkhanh/solfolio-sub005/internal/logging"
	"github.com/pddkhanh/solfolio-sub005/internal/kv"
	"github.com/pddkhanh/solfolio-sub005/internal/metrics"
	"github.com/pddkhanh/solfolio-sub005/internal/portfolio"
)

// pinger is the slice of the kv backend needed by readiness checks. The
// in-memory store has no connection to check, so the field may be nil.
type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	echo       *echo.Echo
	config     *config.Config
	portfolios *portfolio.Service
	hub        *hub.Hub
	store      kv.Store
	health     pinger
	startTime  time.Time
}

func NewServer(cfg *config.Config, portfolios *portfolio.Service, h *hub.Hub, store kv.Store, health pinger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestID)
	e.Use(requestMetrics)
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:       e,
		config:     cfg,
		portfolios: portfolios,
		hub:        h,
		store:      store,
		health:     health,
		startTime:  time.Now(),
	}
	srv.registerRoutes()
	return srv
}

// Handler exposes the route tree, mainly for tests that mount the server
// on httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requestID tags every request with an identifier that flows through the
// context into log records and the X-Request-Id response header.
func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get("X-Request-Id")
		if id == "" {
			id = logging.NewRequestID()
		}
		ctx := logging.WithRequestID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set("X-Request-Id", id)
		return next(c)
	}
}

// requestMetrics records per-route request durations.
func requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Path(), strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}
