// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything cmd/server needs before wiring services.
type Config struct {
	Port           int      `env:"PAYOUT_PORT" envDefault:"8080"`
	DBPath         string   `env:"PAYOUT_DB_PATH" envDefault:"payout.db"`
	NotifyBuffer   int      `env:"PAYOUT_NOTIFY_BUFFER" envDefault:"64"`
	CurrencySymbol string   `env:"PAYOUT_CURRENCY_SYMBOL" envDefault:"$"`
	PresetsFile    string   `env:"PAYOUT_PRESETS_FILE"`
	AllowedOrigins []string `env:"PAYOUT_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the optional dotenv files, then the environment. Variables
// already set in the environment win over dotenv values.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid PAYOUT_PORT %d", cfg.Port)
	}
	if cfg.NotifyBuffer <= 0 {
		return Config{}, fmt.Errorf("invalid PAYOUT_NOTIFY_BUFFER %d", cfg.NotifyBuffer)
	}
	return cfg, nil
}
