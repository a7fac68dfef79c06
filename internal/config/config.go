package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Port          int    `env:"PORT" envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL"`
	JWTSecret     string `env:"JWT_SECRET"`
	SessionCookie string `env:"SESSION_COOKIE" envDefault:"session"`

	WinScore  int           `env:"WIN_SCORE" envDefault:"11"`
	SimTick   time.Duration `env:"SIM_TICK" envDefault:"10ms"`
	SyncTick  time.Duration `env:"SYNC_TICK" envDefault:"500ms"`
	BallSpeed float64       `env:"BALL_SPEED" envDefault:"200"`

	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"120"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"match-results"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the process environment (and a .env file, if present).
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.WinScore < 1 {
		errs = append(errs, fmt.Errorf("WIN_SCORE must be at least 1, got %d", c.WinScore))
	}
	if c.SimTick <= 0 || c.SyncTick <= 0 {
		errs = append(errs, errors.New("SIM_TICK and SYNC_TICK must be positive"))
	}
	if c.BallSpeed <= 0 {
		errs = append(errs, errors.New("BALL_SPEED must be positive"))
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level maps LOG_LEVEL onto slog.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// KafkaEnabled reports whether match results should be published.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
