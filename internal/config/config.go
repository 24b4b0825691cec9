/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// RelayBackend selects where notifications are forwarded.
type RelayBackend string

const (
	RelayNone  RelayBackend = "none"
	RelayRedis RelayBackend = "redis"
	RelayNATS  RelayBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string `env:"FXLINE_ENV" envDefault:"development"`

	// Scheduler options, fixed for the scheduler's lifetime
	SpeedMultiplier    float64       `env:"FXLINE_SPEED_MULTIPLIER" envDefault:"1"`
	DeferUntilComplete bool          `env:"FXLINE_DEFER_UNTIL_COMPLETE" envDefault:"false"`
	TickInterval       time.Duration `env:"FXLINE_TICK_INTERVAL" envDefault:"16ms"`
	ValidateBatches    bool          `env:"FXLINE_VALIDATE_BATCHES" envDefault:"true"`

	// Diagnostics HTTP server; port 0 disables it
	HTTPBind string `env:"FXLINE_HTTP_BIND" envDefault:"127.0.0.1"`
	HTTPPort int    `env:"FXLINE_HTTP_PORT" envDefault:"0"`

	// Notification relay
	RelayBackend  RelayBackend `env:"FXLINE_RELAY_BACKEND" envDefault:"none"`
	RelayPrefix   string       `env:"FXLINE_RELAY_PREFIX" envDefault:"fxline.effects"`
	RedisAddr     string       `env:"FXLINE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string       `env:"FXLINE_REDIS_PASSWORD"`
	RedisDB       int          `env:"FXLINE_REDIS_DB" envDefault:"0"`
	NATSURL       string       `env:"FXLINE_NATS_URL" envDefault:"nats://localhost:4222"`

	// Tracing configuration
	TracingEnabled    bool    `env:"FXLINE_TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint      string  `env:"FXLINE_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	TracingSampleRate float64 `env:"FXLINE_TRACING_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.RelayBackend = RelayBackend(strings.ToLower(strings.TrimSpace(string(cfg.RelayBackend))))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option ranges. It is called again after flag overrides.
func (c *Config) Validate() error {
	if c.SpeedMultiplier <= 0 {
		return fmt.Errorf("FXLINE_SPEED_MULTIPLIER must be positive, got %v", c.SpeedMultiplier)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("FXLINE_TICK_INTERVAL must not be negative, got %v", c.TickInterval)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("FXLINE_HTTP_PORT out of range: %d", c.HTTPPort)
	}
	switch c.RelayBackend {
	case RelayNone, RelayRedis, RelayNATS:
	default:
		return fmt.Errorf("unsupported relay backend %q", c.RelayBackend)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("FXLINE_TRACING_SAMPLE_RATE must be within [0, 1], got %v", c.TracingSampleRate)
	}
	return nil
}

// HTTPAddr returns the diagnostics listen address, or "" when disabled.
func (c *Config) HTTPAddr() string {
	if c == nil || c.HTTPPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}
