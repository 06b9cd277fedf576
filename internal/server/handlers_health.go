package server

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": uptime,
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"redis", s.checkRedis},
		{"fanout", s.checkFanout},
		{"postgres", s.checkPostgres},
	}

	for _, check := range checks {
		if err := check.fn(ctx); err != nil {
			return c.JSON(503, map[string]any{
				"status":       "unhealthy",
				"failed_check": check.name,
				"error":        err.Error(),
			})
		}
	}

	return c.JSON(200, map[string]string{"status": "ready"})
}

func (s *Server) checkRedis(ctx context.Context) error {
	return s.redisCheck.Ping(ctx)
}

func (s *Server) checkFanout(_ context.Context) error {
	if !s.fanout.Ready() {
		return fmt.Errorf("fanout consumer not consuming")
	}
	return nil
}

func (s *Server) checkPostgres(ctx context.Context) error {
	// Database is an optional collaborator.
	if s.dbCheck == nil {
		return nil
	}
	return s.dbCheck.Ping(ctx)
}
