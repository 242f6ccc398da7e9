// Package config loads service configuration from the environment, with
// optional .env support for local development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" required:"true"`
	BearerToken string `envconfig:"BEARER_TOKEN" required:"true"`

	OpenWeatherAPIKey string  `envconfig:"OPENWEATHER_API_KEY" required:"true"`
	WeatherRPS        float64 `envconfig:"WEATHER_RPS" default:"5"`
	WeatherBurst      int     `envconfig:"WEATHER_BURST" default:"5"`

	// RefreshInterval drives the background batch refresh; zero disables it.
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"30m"`
	SnapshotTTL     time.Duration `envconfig:"SNAPSHOT_TTL" default:"1h"`

	// AlertTimezone is the IANA zone daily alert triggers fire in.
	AlertTimezone string `envconfig:"ALERT_TIMEZONE" default:"UTC"`

	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	if _, err := time.LoadLocation(cfg.AlertTimezone); err != nil {
		return nil, fmt.Errorf("invalid ALERT_TIMEZONE %q: %w", cfg.AlertTimezone, err)
	}

	return &cfg, nil
}

// AlertLocation returns the parsed alert timezone. Load already validated it.
func (c *Config) AlertLocation() *time.Location {
	loc, err := time.LoadLocation(c.AlertTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
