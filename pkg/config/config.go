package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for empi-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (database password, auth secret) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"EMPI_BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"EMPI_PORT" env-default:"5000"`
	Env      string `yaml:"env" env:"EMPI_ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Matching engine configuration
	Matching MatchingConfig `yaml:"matching"`

	// Batch worker pool configuration
	Queue QueueConfig `yaml:"queue"`

	// Optional bearer auth. Disabled when the secret is empty.
	Auth AuthConfig `yaml:"auth"`

	// Optional bulletin feed. Disabled when the host is empty.
	Redis RedisConfig `yaml:"redis"`

	// Graph export configuration
	Graph GraphConfig `yaml:"graph"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"empi"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"empi_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"EMPI_MIGRATIONS_PATH" env-default:"migrations"`
}

// URL renders the pool connection string.
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// MatchingConfig selects the coarse/fine pass pair and its knobs.
type MatchingConfig struct {
	// Mode selects the pass pair: "toy" or "prod".
	Mode string `yaml:"mode" env:"EMPI_MATCH_MODE" env-default:"toy"`
	// Threshold is the match boundary for fine scores and graph traversal.
	Threshold float64 `yaml:"threshold" env:"EMPI_MATCH_THRESHOLD" env-default:"0.5"`
	// SliceMin is the shortest prefix the slice scan compares.
	SliceMin int `yaml:"slice_min" env:"EMPI_MATCH_SLICE_MIN" env-default:"3"`
	// Battery names the score battery driving prod fine scores. Empty means
	// prod fine matching scores 0 and never matches.
	Battery string `yaml:"battery" env:"EMPI_MATCH_BATTERY" env-default:""`
}

// QueueConfig holds batch worker pool settings.
type QueueConfig struct {
	// Workers is the number of batches processed concurrently.
	Workers int `yaml:"workers" env:"EMPI_QUEUE_WORKERS" env-default:"4"`
	// BatchDeadline bounds a single batch run. Zero disables the deadline.
	BatchDeadline time.Duration `yaml:"batch_deadline" env:"EMPI_BATCH_DEADLINE" env-default:"10m"`
	// Buffer is the pending-task channel capacity.
	Buffer int `yaml:"buffer" env:"EMPI_QUEUE_BUFFER" env-default:"64"`
}

// AuthConfig holds bearer-token verification settings.
type AuthConfig struct {
	// Secret is the HS256 shared secret. Empty disables verification.
	Secret string `yaml:"-" env:"EMPI_AUTH_SECRET"`
}

// Enabled reports whether bearer auth is configured.
func (a *AuthConfig) Enabled() bool {
	return a.Secret != ""
}

// RedisConfig holds the optional bulletin feed settings.
type RedisConfig struct {
	Host     string `yaml:"host" env:"EMPI_REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"EMPI_REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"EMPI_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"EMPI_REDIS_DB" env-default:"0"`
	Channel  string `yaml:"channel" env:"EMPI_REDIS_CHANNEL" env-default:"empi.bulletins"`
}

// GraphConfig holds component export settings.
type GraphConfig struct {
	// ExportDir receives DOT renderings of recomputed components. Empty
	// disables export.
	ExportDir string `yaml:"export_dir" env:"EMPI_GRAPH_EXPORT_DIR" env-default:""`
}

// APIPrefix is the versioned path root, e.g. /api_010 for version 0.1.0.
func (c *Config) APIPrefix() string {
	return "/api_" + strings.ReplaceAll(c.Version, ".", "")
}

// Load reads configuration from the given YAML file with environment variable
// overrides. A missing file is not an error; the engine then runs on
// environment variables and defaults alone. The version parameter is injected
// at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Matching.Mode {
	case "toy", "prod":
	default:
		return fmt.Errorf("matching mode must be toy or prod, got %q", c.Matching.Mode)
	}
	if c.Matching.Threshold < 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("matching threshold must be within [0,1], got %v", c.Matching.Threshold)
	}
	if c.Matching.SliceMin < 1 {
		return fmt.Errorf("slice_min must be positive, got %d", c.Matching.SliceMin)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be positive, got %d", c.Queue.Workers)
	}
	return nil
}
