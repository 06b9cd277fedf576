package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/garloon/meet-and-greet-server/internal/app"
	"github.com/garloon/meet-and-greet-server/internal/bus"
	"github.com/garloon/meet-and-greet-server/internal/config"
	"github.com/garloon/meet-and-greet-server/internal/domain"
	"github.com/garloon/meet-and-greet-server/internal/hub"
	"github.com/garloon/meet-and-greet-server/internal/logging"
	"github.com/garloon/meet-and-greet-server/internal/postgres"
	"github.com/garloon/meet-and-greet-server/internal/ratelimit"
	"github.com/garloon/meet-and-greet-server/internal/redis"
	"github.com/garloon/meet-and-greet-server/internal/server"
)

var defaultChannels = []domain.Channel{
	{ID: "general", Name: "General", Description: "Open discussion for everyone", IsPublic: true},
	{ID: "random", Name: "Random", Description: "Off-topic chatter", IsPublic: true},
	{ID: "guests", Name: "Guests", Description: "Drop-in channel for guest users", IsPublic: true},
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(cfg *config.Config) *redis.Client {
	client, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to create Redis client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupBus(cfg *config.Config, instanceID string) (*nats.Conn, jetstream.JetStream) {
	nc, err := bus.Connect(cfg.NatsURL, "meet-and-greet-"+instanceID)
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		slog.Error("Failed to create JetStream context", "error", err)
		os.Exit(1)
	}
	return nc, js
}

// setupDB connects the optional database. Returns nil when DATABASE_URL
// is not configured; the chat core runs without it.
func setupDB(cfg *config.Config) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		slog.Info("DATABASE_URL not set, running without channel catalog and archive")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func instanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return uuid.NewString()
}

func runGracefulShutdown(srv *server.Server, registry *hub.Registry, sweeper *app.Sweeper, archiver *app.Archiver, cancelConsumer context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		cancelConsumer()
		sweeper.Stop()
		if archiver != nil {
			archiver.Stop()
		}
		registry.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	instance := instanceID()
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "instance", instance)

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	nc, js := setupBus(cfg, instance)
	defer nc.Close()

	pool := setupDB(cfg)
	if pool != nil {
		defer pool.Close()
	}

	presence := redis.NewPresenceStore(redisClient, cfg.MembershipTTL, cfg.ActivityTTL)
	marker := redis.NewDedupMarker(redisClient, cfg.DedupTTL, instance)
	limiter := ratelimit.NewSlidingWindowLimiter(clock, cfg.RateLimitWindow, cfg.RateLimitMax)
	stopEviction := limiter.StartEvictionTimer(1 * time.Minute)
	defer stopEviction()

	publisher := bus.NewPublisher(js)

	registry := hub.NewRegistry(clock)
	coordinator := hub.NewCoordinator(presence, publisher, limiter, registry, clock, cfg.MaxMessageLength)

	// Optional database collaborators (avoid typed-nil interfaces)
	var catalog domain.ChannelCatalog
	var archive domain.MessageArchive
	var archiver *app.Archiver
	if pool != nil {
		repo := postgres.NewChannelRepo(pool)
		seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := repo.Seed(seedCtx, defaultChannels); err != nil {
			slog.Error("Failed to seed channels", "error", err)
		}
		cancel()

		catalog = repo
		archive = postgres.NewMessageArchive(pool)
		archiver = app.NewArchiver(archive, cfg.ArchivePruneInterval, cfg.ArchiveRetention, clock)
	}

	consumer := bus.NewConsumer(js, instance, marker, coordinator, archive)
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Run(consumerCtx); err != nil {
			slog.Error("Fanout consumer failed", "error", err)
		}
	}()

	sweeper := app.NewSweeper(presence, cfg.SweepInterval, clock)
	go sweeper.Start(context.Background())
	if archiver != nil {
		go archiver.Start(context.Background())
	}

	var srv *server.Server
	if pool != nil {
		srv = server.NewServer(cfg, coordinator, registry, catalog, redisClient, pool, consumer)
	} else {
		srv = server.NewServer(cfg, coordinator, registry, catalog, redisClient, nil, consumer)
	}

	done := runGracefulShutdown(srv, registry, sweeper, archiver, cancelConsumer)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
