package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config is the client configuration.
type Config struct {
	Server          string        `env:"DSU_SERVER" envDefault:"127.0.0.1"`
	Username        string        `env:"DSU_USERNAME"`
	Password        string        `env:"DSU_PASSWORD"`
	ProfileDir      string        `env:"DSU_PROFILE_DIR" envDefault:"."`
	DialTimeout     time.Duration `env:"DSU_DIAL_TIMEOUT" envDefault:"10s"`
	ExchangeTimeout time.Duration `env:"DSU_EXCHANGE_TIMEOUT" envDefault:"10s"`
	PollInterval    time.Duration `env:"DSU_POLL_INTERVAL" envDefault:"2s"`
	LogLevel        string        `env:"DSU_LOG_LEVEL" envDefault:"info"`
}

// Relay is the reference relay configuration.
type Relay struct {
	Port         int           `env:"DSU_RELAY_PORT" envDefault:"3001"`
	DBPath       string        `env:"DSU_RELAY_DB_PATH" envDefault:"dsu.db"`
	ReadTimeout  time.Duration `env:"DSU_RELAY_READ_TIMEOUT" envDefault:"120s"`
	WriteTimeout time.Duration `env:"DSU_RELAY_WRITE_TIMEOUT" envDefault:"30s"`
	LogLevel     string        `env:"DSU_LOG_LEVEL" envDefault:"info"`
}

// Load reads the client configuration from the environment, after loading
// any of the given dotenv files that exist.
func Load(dotenv ...string) (*Config, error) {
	if err := loadDotenv(dotenv); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func LoadRelay(dotenv ...string) (*Relay, error) {
	if err := loadDotenv(dotenv); err != nil {
		return nil, err
	}
	cfg := &Relay{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse relay config: %w", err)
	}
	return cfg, nil
}

// loadDotenv never overrides variables already set in the environment.
func loadDotenv(files []string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
