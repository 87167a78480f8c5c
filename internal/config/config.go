// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the server configuration.
type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	RedisURL        string        `env:"REDIS_URL"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	CustodyAccount  string `env:"CUSTODY_ACCOUNT" envDefault:"lootbox-custody"`
	TreasuryAccount string `env:"TREASURY_ACCOUNT" envDefault:"treasury"`
	MintCategory    string `env:"MINT_CATEGORY" envDefault:"lootbox"`

	// Role grants for the sandbox access-control service.
	OwnerAccount       string   `env:"OWNER_ACCOUNT"`
	AdminAccounts      []string `env:"ADMIN_ACCOUNTS" envSeparator:","`
	AutomationAccounts []string `env:"AUTOMATION_ACCOUNTS" envSeparator:","`

	// Collections the sandbox registry reports active.
	ActiveCollections []string `env:"SANDBOX_COLLECTIONS" envSeparator:","`
}

// Load reads Config from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.CustodyAccount == "" {
		return Config{}, fmt.Errorf("parse env: CUSTODY_ACCOUNT must not be empty")
	}
	return cfg, nil
}
