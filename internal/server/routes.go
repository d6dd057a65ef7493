package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Portfolio API
	s.echo.GET("/api/v1/portfolio/:wallet", s.handleGetPortfolio)
	s.echo.GET("/api/v1/tokens/:wallet", s.handleGetTokenBalances)
	s.echo.GET("/api/v1/positions/:wallet", s.handleGetPositions)
	s.echo.GET("/api/v1/prices", s.handleGetPrices)

	// Push channel
	s.echo.GET("/ws", s.handleWebSocket)
}
