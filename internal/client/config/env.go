package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// parseEnv loads cfg.EnvFile into the process environment (variables already
// set win) and overlays cfg with the ZONEMEDIA_* variables that are set.
func parseEnv(cfg *Config) error {
	if cfg.EnvFile != "" {
		if err := godotenv.Load(cfg.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", cfg.EnvFile, err)
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}
