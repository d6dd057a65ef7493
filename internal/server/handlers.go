package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "github.com/pddkhanh/solfolio-sub005/internal/errors"
	"github.com/pddkhanh/solfolio-sub005/internal/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
		"build":  version.Get(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status":       "unhealthy",
				"failed_check": "kv",
				"error":        err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleGetPortfolio(c echo.Context) error {
	wallet := c.Param("wallet")
	if wallet == "" {
		return apperrors.Validation("wallet is required")
	}
	forceRefresh := c.QueryParam("refresh") == "true"

	snapshot, err := s.portfolios.GetPortfolio(c.Request().Context(), wallet, forceRefresh)
	if err != nil {
		return apperrors.Upstream("failed to fetch portfolio", err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleGetTokenBalances(c echo.Context) error {
	wallet := c.Param("wallet")
	if wallet == "" {
		return apperrors.Validation("wallet is required")
	}

	tokens, err := s.portfolios.GetTokenBalances(c.Request().Context(), wallet)
	if err != nil {
		return apperrors.Upstream("failed to fetch token balances", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"wallet": wallet, "tokens": tokens})
}

func (s *Server) handleGetPositions(c echo.Context) error {
	wallet := c.Param("wallet")
	if wallet == "" {
		return apperrors.Validation("wallet is required")
	}
	protocols := splitParam(c.QueryParam("protocols"))

	positions, err := s.portfolios.GetPositions(c.Request().Context(), wallet, protocols)
	if err != nil {
		return apperrors.Upstream("failed to fetch positions", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"wallet": wallet, "positions": positions})
}

func (s *Server) handleGetPrices(c echo.Context) error {
	mints := splitParam(c.QueryParam("mints"))
	if len(mints) == 0 {
		return apperrors.Validation("mints is required")
	}

	updates, err := s.portfolios.GetPrices(c.Request().Context(), mints)
	if err != nil {
		return apperrors.Upstream("failed to fetch prices", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"prices": updates})
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
