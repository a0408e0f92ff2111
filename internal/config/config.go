package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all process configuration. It is built once in main and passed
// into constructors; no package keeps secret state of its own.
type Config struct {
	ListenAddr         string        `env:"OPSCLOUD_LISTEN_ADDR" envDefault:":8080"`
	PostgresDSN        string        `env:"OPSCLOUD_PG_DSN"`
	JWTSecret          string        `env:"OPSCLOUD_JWT_SECRET,required"`
	AllowedEmailDomain string        `env:"OPSCLOUD_ALLOWED_EMAIL_DOMAIN,required"`
	SessionTTL         time.Duration `env:"OPSCLOUD_SESSION_TTL" envDefault:"168h"` // 7 days
	SweepInterval      time.Duration `env:"OPSCLOUD_SWEEP_INTERVAL" envDefault:"1h"`
	RequestTimeout     time.Duration `env:"OPSCLOUD_REQUEST_TIMEOUT" envDefault:"10s"`
	RateLimitPerSecond int           `env:"OPSCLOUD_RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst     int           `env:"OPSCLOUD_RATE_LIMIT_BURST" envDefault:"40"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("config: OPSCLOUD_JWT_SECRET must not be blank")
	}
	cfg.AllowedEmailDomain = strings.TrimSpace(strings.ToLower(cfg.AllowedEmailDomain))
	if cfg.AllowedEmailDomain == "" {
		return nil, errors.New("config: OPSCLOUD_ALLOWED_EMAIL_DOMAIN must not be blank")
	}
	if cfg.SessionTTL <= 0 {
		return nil, errors.New("config: session TTL must be positive")
	}
	return cfg, nil
}
