// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	// DataDir is where the record store lives. Defaults to ~/.tokengauge.
	DataDir string `env:"TOKENGAUGE_DATA_DIR"`

	// StoreDriver picks the record store engine: "bolt" or "sqlite".
	StoreDriver string `env:"TOKENGAUGE_STORE" envDefault:"bolt"`

	// CacheName partitions this instance's cached tokenizer assets.
	CacheName string `env:"TOKENGAUGE_CACHE" envDefault:"tokenizers-v1"`

	// Model is the default model to count against.
	Model string `env:"TOKENGAUGE_MODEL" envDefault:"claude-sonnet-4"`

	// ModelsFile is an optional TOML file overriding the model registry.
	ModelsFile string `env:"TOKENGAUGE_MODELS_FILE"`

	// Listen is the HTTP server address for the serve command.
	Listen string `env:"TOKENGAUGE_LISTEN" envDefault:":8537"`

	// LogLevel is a zerolog level name.
	LogLevel string `env:"TOKENGAUGE_LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, err
		}
		cfg.DataDir = filepath.Join(home, ".tokengauge")
	}
	if cfg.StoreDriver != "bolt" && cfg.StoreDriver != "sqlite" {
		return Config{}, fmt.Errorf("TOKENGAUGE_STORE must be bolt or sqlite, got %q", cfg.StoreDriver)
	}
	return cfg, nil
}

// StorePath returns the record store's on-disk path for the configured
// driver.
func (c Config) StorePath() string {
	name := "cache.db"
	if c.StoreDriver == "sqlite" {
		name = "cache.sqlite"
	}
	return filepath.Join(c.DataDir, name)
}
