package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries all runtime settings, populated from the environment.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat selects "text" or "json" slog output.
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	HTTPListenAddr   string `env:"HTTP_LISTEN_ADDR" envDefault:":8000"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"tgshop"`

	// DataDir is the root of the JSON collections and the media tree.
	DataDir string `env:"DATA_DIR" envDefault:"data"`
	// LogLimit bounds the audit log retained on disk.
	LogLimit int `env:"LOG_LIMIT" envDefault:"200"`

	// AdminToken guards admin routes. Empty disables the check, which is
	// only sensible in development.
	AdminToken string `env:"ADMIN_TOKEN"`

	IngestTimeout  time.Duration `env:"INGEST_TIMEOUT" envDefault:"20s"`
	IngestMaxBytes int64         `env:"INGEST_MAX_BYTES" envDefault:"10485760"`
	ImageMaxEdge   int           `env:"IMAGE_MAX_EDGE" envDefault:"1600"`
	ThumbMaxEdge   int           `env:"THUMB_MAX_EDGE" envDefault:"600"`
	ImageQuality   int           `env:"IMAGE_QUALITY" envDefault:"85"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
