package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppEnv      string
	Port        string
	LogLevel    string
	LogFormat   string
	RedisURL    string
	NatsURL     string
	DatabaseURL string

	// Presence TTLs. MembershipTTL is applied on join; ActivityTTL is the
	// rolling window refreshed by heartbeats; DedupTTL bounds how long
	// delivery markers live. Heartbeats must arrive well inside
	// ActivityTTL, and ActivityTTL < MembershipTTL < DedupTTL.
	MembershipTTL time.Duration
	ActivityTTL   time.Duration
	DedupTTL      time.Duration

	// Rate limiting and message validation.
	RateLimitWindow  time.Duration
	RateLimitMax     int
	MaxMessageLength int

	// Background loops.
	SweepInterval        time.Duration
	ArchivePruneInterval time.Duration
	ArchiveRetention     time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		RedisURL:    getEnv("REDIS_URL", ""),
		NatsURL:     getEnv("NATS_URL", "nats://localhost:4222"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
	}

	var err error
	if cfg.MembershipTTL, err = getDuration("MEMBERSHIP_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ActivityTTL, err = getDuration("ACTIVITY_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DedupTTL, err = getDuration("DEDUP_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimitMax, err = getInt("RATE_LIMIT_MAX", 5); err != nil {
		return nil, err
	}
	if cfg.MaxMessageLength, err = getInt("MAX_MESSAGE_LENGTH", 100); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ArchivePruneInterval, err = getDuration("ARCHIVE_PRUNE_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ArchiveRetention, err = getDuration("ARCHIVE_RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.NatsURL == "" {
		return nil, fmt.Errorf("NATS_URL is required")
	}
	if cfg.ActivityTTL >= cfg.MembershipTTL {
		return nil, fmt.Errorf("ACTIVITY_TTL (%v) must be shorter than MEMBERSHIP_TTL (%v)", cfg.ActivityTTL, cfg.MembershipTTL)
	}
	if cfg.MembershipTTL >= cfg.DedupTTL {
		return nil, fmt.Errorf("MEMBERSHIP_TTL (%v) must be shorter than DEDUP_TTL (%v)", cfg.MembershipTTL, cfg.DedupTTL)
	}
	if cfg.RateLimitMax <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX must be positive, got %d", cfg.RateLimitMax)
	}
	if cfg.MaxMessageLength <= 0 {
		return nil, fmt.Errorf("MAX_MESSAGE_LENGTH must be positive, got %d", cfg.MaxMessageLength)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
