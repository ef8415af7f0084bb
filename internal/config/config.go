// Package config loads engine configuration from environment variables.
// Configuration is immutable after load; nothing mutates it at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the engine.
type Config struct {
	DataDir       string
	BindAddress   string
	Port          int
	AdminKey      string
	WebhookToken  string // optional shared secret appended by the gateway as ?token=
	SweepInterval time.Duration
	WebhookRate   int    // webhook deliveries allowed per minute per client IP
	PostmarkToken string // optional; if empty, notifications are logged
	EmailFrom     string
	PublicStatus  bool
	PublicMetrics bool
}

// RegistryDir returns the directory holding the SQLite registry.
func (c *Config) RegistryDir() string {
	return filepath.Join(c.DataDir, "registry")
}

// Load reads configuration from environment variables. A .env file is
// loaded if present but not required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := envOrDefaultInt("TITAN_PORT", 8090)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := envOrDefaultDuration("TITAN_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, err
	}
	webhookRate, err := envOrDefaultInt("TITAN_WEBHOOK_RATE", 120)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:       envOrDefault("TITAN_DATA_DIR", "/data"),
		BindAddress:   envOrDefault("TITAN_BIND_ADDRESS", "0.0.0.0"),
		Port:          port,
		AdminKey:      strings.TrimSpace(os.Getenv("TITAN_ADMIN_KEY")),
		WebhookToken:  strings.TrimSpace(os.Getenv("TITAN_WEBHOOK_TOKEN")),
		SweepInterval: sweepInterval,
		WebhookRate:   webhookRate,
		PostmarkToken: strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:     envOrDefault("TITAN_EMAIL_FROM", "noreply@titanfed.app"),
		PublicStatus:  envBool("TITAN_PUBLIC_STATUS"),
		PublicMetrics: envBool("TITAN_PUBLIC_METRICS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "TITAN_ADMIN_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("TITAN_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.SweepInterval < time.Minute {
		return fmt.Errorf("TITAN_SWEEP_INTERVAL must be at least 1m, got %s", c.SweepInterval)
	}
	if c.WebhookRate < 1 {
		return fmt.Errorf("TITAN_WEBHOOK_RATE must be at least 1, got %d", c.WebhookRate)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}
