// Package server exposes the HTTP surface: the chat websocket endpoint,
// the channel catalog, and observability endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/garloon/meet-and-greet-server/internal/config"
	"github.com/garloon/meet-and-greet-server/internal/domain"
	"github.com/garloon/meet-and-greet-server/internal/hub"
)

// redisHealthChecker is a minimal interface for Redis health checks
type redisHealthChecker interface {
	Ping(ctx context.Context) error
}

// postgresHealthChecker is a minimal interface for PostgreSQL health checks
type postgresHealthChecker interface {
	Ping(ctx context.Context) error
}

// fanoutReadiness reports whether the message fanout consumer is
// consuming. An instance that cannot deliver messages must not receive
// traffic.
type fanoutReadiness interface {
	Ready() bool
}

type Server struct {
	echo        *echo.Echo
	config      *config.Config
	coordinator *hub.Coordinator
	registry    *hub.Registry
	catalog     domain.ChannelCatalog
	redisCheck  redisHealthChecker
	dbCheck     postgresHealthChecker
	fanout      fanoutReadiness
	startTime   time.Time
}

// NewServer wires the HTTP layer. catalog and dbCheck may be nil when no
// database is configured.
func NewServer(
	cfg *config.Config,
	coordinator *hub.Coordinator,
	registry *hub.Registry,
	catalog domain.ChannelCatalog,
	redisCheck redisHealthChecker,
	dbCheck postgresHealthChecker,
	fanout fanoutReadiness,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:        e,
		config:      cfg,
		coordinator: coordinator,
		registry:    registry,
		catalog:     catalog,
		redisCheck:  redisCheck,
		dbCheck:     dbCheck,
		fanout:      fanout,
		startTime:   time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
