// Package config loads platform configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all runtime settings. Values come from the environment, with
// an optional .env file loaded first for development setups.
type Config struct {
	Environment string // development | staging | production

	ListenAddr        string
	MetricsListenAddr string

	DatabaseURL string
	DBMinConns  int32
	DBMaxConns  int32

	BusBrokerURL string
	BusUsername  string
	BusPassword  string
	BusClientID  string

	// Topic patterns the event pipeline subscribes to.
	EventTopics []string

	SessionSigningKey string

	LogLevel                string
	LogFormat               string
	LogRetentionDefaultDays int

	PluginInstallDir   string
	PluginAllowedHosts []string

	// Password for the seeded admin account on first startup. Ignored once
	// the admin user exists.
	BootstrapAdminPassword string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg := &Config{
		Environment:             getEnv("ENVIRONMENT", "development"),
		ListenAddr:              getEnv("LISTEN_ADDR", ":8000"),
		MetricsListenAddr:       getEnv("METRICS_LISTEN_ADDR", ":9091"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		DBMinConns:              int32(getEnvInt("DATABASE_MIN_CONNS", 2)),
		DBMaxConns:              int32(getEnvInt("DATABASE_MAX_CONNS", 10)),
		BusBrokerURL:            os.Getenv("BUS_BROKER_URL"),
		BusUsername:             os.Getenv("BUS_USERNAME"),
		BusPassword:             os.Getenv("BUS_PASSWORD"),
		BusClientID:             getEnv("BUS_CLIENT_ID", "taylordash-backend"),
		EventTopics:             getEnvList("EVENT_TOPICS", []string{"tracker/events/#", "plugins/events/#"}),
		SessionSigningKey:       os.Getenv("SESSION_SIGNING_KEY"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "auto"),
		LogRetentionDefaultDays: getEnvInt("LOG_RETENTION_DEFAULT_DAYS", 30),
		PluginInstallDir:        getEnv("PLUGIN_INSTALL_DIR", "/var/lib/taylordash/plugins"),
		PluginAllowedHosts:      getEnvList("PLUGIN_ALLOWED_HOSTS", []string{"github.com", "gitlab.com"}),
		BootstrapAdminPassword:  os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.BusBrokerURL == "" {
		return fmt.Errorf("BUS_BROKER_URL is required")
	}
	if len(c.SessionSigningKey) < 32 {
		return fmt.Errorf("SESSION_SIGNING_KEY must be at least 32 bytes")
	}
	if c.DBMinConns < 1 || c.DBMaxConns < c.DBMinConns {
		return fmt.Errorf("invalid database pool bounds: min=%d max=%d", c.DBMinConns, c.DBMaxConns)
	}
	if c.LogRetentionDefaultDays < 1 {
		return fmt.Errorf("LOG_RETENTION_DEFAULT_DAYS must be positive")
	}
	switch c.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development, staging, or production, got %q", c.Environment)
	}
	return nil
}

// IsProduction reports whether the platform runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return v
}

func getEnvList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
