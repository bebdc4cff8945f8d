// Package config loads and validates the service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config is the externalized configuration surface. Every timer the core arms
// is tunable here; nothing timing-related is hardcoded in the components.
type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// RedisURL enables the shared presence store when set. Empty means the
	// in-memory store (single instance deployments).
	RedisURL string `env:"REDIS_URL"`

	// DatabaseURL enables the Postgres recorder for finalize events. Empty
	// means completed sessions are kept in memory only.
	DatabaseURL string `env:"DATABASE_URL"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"15s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" default:"30s"`
	RequestExpiry     time.Duration `env:"REQUEST_EXPIRY" default:"60s"`
	GracePeriod       time.Duration `env:"GRACE_PERIOD" default:"3m"`

	MaxReconnectCycles      int `env:"MAX_RECONNECT_CYCLES" default:"3"`
	MaxWebSocketConnections int `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	durations := map[string]time.Duration{
		"HEARTBEAT_INTERVAL": cfg.HeartbeatInterval,
		"HEARTBEAT_TIMEOUT":  cfg.HeartbeatTimeout,
		"REQUEST_EXPIRY":     cfg.RequestExpiry,
		"GRACE_PERIOD":       cfg.GracePeriod,
	}
	for name, value := range durations {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TIMEOUT must exceed HEARTBEAT_INTERVAL")
	}

	if cfg.MaxReconnectCycles < 1 {
		return fmt.Errorf("MAX_RECONNECT_CYCLES must be at least 1")
	}

	if cfg.MaxWebSocketConnections < 1 {
		return fmt.Errorf("MAX_WEBSOCKET_CONNECTIONS must be at least 1")
	}

	return nil
}
