// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// Surface holds browsing-surface host settings.
	Surface SurfaceConfig

	// CaptureSettleDelay is how long auto-capture waits after a matching
	// notification before extracting, so trailing UI updates can land.
	CaptureSettleDelay time.Duration
}

// SurfaceConfig controls the Docker-backed browsing surface host.
type SurfaceConfig struct {
	Image                string
	Network              string
	DebugPort            int
	ProvisionConcurrency int
	ReadyTimeout         time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/promptdeck.db"),
		Surface: SurfaceConfig{
			Image:                getEnv("SURFACE_IMAGE", "zenika/alpine-chrome:latest"),
			Network:              getEnv("SURFACE_NETWORK", "promptdeck-surfaces"),
			DebugPort:            getEnvInt("SURFACE_DEBUG_PORT", 9222),
			ProvisionConcurrency: getEnvInt("SURFACE_PROVISION_CONCURRENCY", 4),
			ReadyTimeout:         getEnvDuration("SURFACE_READY_TIMEOUT", 30*time.Second),
		},
		CaptureSettleDelay: getEnvDuration("CAPTURE_SETTLE_DELAY", 2*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Surface.Image == "" {
		return fmt.Errorf("SURFACE_IMAGE cannot be empty")
	}
	if c.Surface.Network == "" {
		return fmt.Errorf("SURFACE_NETWORK cannot be empty")
	}
	if c.Surface.DebugPort <= 0 || c.Surface.DebugPort > 65535 {
		return fmt.Errorf("SURFACE_DEBUG_PORT must be a valid port")
	}
	if c.Surface.ProvisionConcurrency <= 0 {
		return fmt.Errorf("SURFACE_PROVISION_CONCURRENCY must be > 0")
	}
	if c.CaptureSettleDelay < 0 {
		return fmt.Errorf("CAPTURE_SETTLE_DELAY cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
