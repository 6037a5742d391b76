// Package config loads the SAM runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smartautomapper/sam/internal/autocomplete"
	"github.com/smartautomapper/sam/internal/database"
)

// Config holds the settings of the API server and the command-line planner.
type Config struct {
	Port        string
	Environment string

	TelemetryEnabled  bool
	OTLPEndpoint      string
	TelemetryInsecure bool
	TraceSampleRatio  float64

	// SAMBaseURL and SAMAPIKey address the upstream routing service.
	SAMBaseURL string
	SAMAPIKey  string
	SAMTimeout time.Duration

	AutocompleteDebounce time.Duration
	AutocompleteMinChars int

	RouteCacheTTL time.Duration

	// AdminToken guards the feature-flag endpoints. Empty disables them.
	AdminToken string
	RequireTLS bool

	// DatabaseEnabled is true when DB_HOST is set.
	DatabaseEnabled bool
	Database        database.Config
}

// Defaults.
const (
	DefaultPort          = "8080"
	DefaultEnvironment   = "development"
	DefaultOTLPEndpoint  = "localhost:4317"
	DefaultSAMBaseURL    = "https://api.smartautomapper.fr"
	DefaultSAMTimeout    = 10 * time.Second
	DefaultRouteCacheTTL = 5 * time.Minute
)

// FromEnv reads the configuration from environment variables.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:             getEnvOrDefault("APP_PORT", DefaultPort),
		Environment:      getEnvOrDefault("APP_ENV", DefaultEnvironment),
		TelemetryEnabled: os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:     getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
		SAMBaseURL:       strings.TrimRight(getEnvOrDefault("SAM_API_BASE_URL", DefaultSAMBaseURL), "/"),
		SAMAPIKey:        os.Getenv("SAM_API_KEY"),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
		DatabaseEnabled:  os.Getenv("DB_HOST") != "",
	}

	var err error
	if cfg.SAMTimeout, err = durationFromEnv("SAM_API_TIMEOUT", DefaultSAMTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AutocompleteDebounce, err = durationFromEnv("AUTOCOMPLETE_DEBOUNCE", autocomplete.DefaultDebounce); err != nil {
		return Config{}, err
	}
	if cfg.RouteCacheTTL, err = durationFromEnv("ROUTE_CACHE_TTL", DefaultRouteCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.AutocompleteMinChars, err = intFromEnv("AUTOCOMPLETE_MIN_CHARS", autocomplete.DefaultThreshold); err != nil {
		return Config{}, err
	}
	if cfg.RequireTLS, err = boolFromEnv("REQUIRE_TLS", false); err != nil {
		return Config{}, err
	}
	if cfg.TelemetryInsecure, err = boolFromEnv("OTEL_EXPORTER_OTLP_INSECURE", true); err != nil {
		return Config{}, err
	}
	if cfg.TraceSampleRatio, err = floatFromEnv("OTEL_TRACES_SAMPLER_ARG", 1); err != nil {
		return Config{}, err
	}
	if cfg.TraceSampleRatio < 0 || cfg.TraceSampleRatio > 1 {
		return Config{}, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be within [0, 1], got %g", cfg.TraceSampleRatio)
	}

	if cfg.AutocompleteMinChars < 0 {
		return Config{}, fmt.Errorf("AUTOCOMPLETE_MIN_CHARS must not be negative, got %d", cfg.AutocompleteMinChars)
	}
	if cfg.SAMTimeout <= 0 {
		return Config{}, fmt.Errorf("SAM_API_TIMEOUT must be positive, got %s", cfg.SAMTimeout)
	}

	if cfg.DatabaseEnabled {
		if cfg.Database, err = database.ConfigFromEnv(); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func durationFromEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}
