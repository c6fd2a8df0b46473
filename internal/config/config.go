package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all runtime settings, read from the environment once at boot.
type Config struct {
	Addr          string `env:"ARABIQ_ADDR, default=:8080"`
	PGDSN         string `env:"ARABIQ_PG_DSN"`
	SessionSecret string `env:"ARABIQ_SESSION_SECRET"`
	Dev           bool   `env:"ARABIQ_DEV, default=false"`

	RateLimitPerSecond int `env:"ARABIQ_RATE_LIMIT_PER_SECOND, default=25"`
	RateLimitBurst     int `env:"ARABIQ_RATE_LIMIT_BURST, default=50"`
}

// Load reads configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
