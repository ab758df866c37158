// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Retention
	RetentionCapacity int
	RetentionMaxAge   time.Duration // 0 = unbounded

	// Live updates
	RefreshInterval time.Duration
	PushOnIngest    bool
	MaxSubscribers  int
	AllowedOrigins  []string

	// Synthetic source
	GeneratorEnabled  bool
	GeneratorInterval time.Duration
	GeneratorSeed     int64 // 0 = time based

	// High-risk alerts (optional)
	WebhookURL    string
	WebhookSecret string

	// Observability
	OTLPEndpoint string // tracing is a no-op when empty

	// Security
	RateLimitRPM int
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultRetentionCapacity = 1000
	DefaultRefreshInterval   = 30 * time.Second
	DefaultGeneratorInterval = 2 * time.Second
	DefaultRateLimitRPM      = 600
	DefaultMaxSubscribers    = 1000
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)
	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               env,
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		RetentionCapacity: int(getEnvInt64("RETENTION_CAPACITY", DefaultRetentionCapacity)),
		RetentionMaxAge:   getEnvDuration("RETENTION_MAX_AGE", 0),
		RefreshInterval:   getEnvDuration("REFRESH_INTERVAL", DefaultRefreshInterval),
		PushOnIngest:      getEnvBool("PUSH_ON_INGEST", true),
		MaxSubscribers:    int(getEnvInt64("MAX_SUBSCRIBERS", DefaultMaxSubscribers)),
		AllowedOrigins:    getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		GeneratorEnabled:  getEnvBool("GENERATOR_ENABLED", env == "development"),
		GeneratorInterval: getEnvDuration("GENERATOR_INTERVAL", DefaultGeneratorInterval),
		GeneratorSeed:     getEnvInt64("GENERATOR_SEED", 0),
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.RetentionCapacity <= 0 {
		return fmt.Errorf("RETENTION_CAPACITY must be positive, got %d", c.RetentionCapacity)
	}
	if c.RetentionMaxAge < 0 {
		return fmt.Errorf("RETENTION_MAX_AGE must not be negative")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive")
	}
	if c.GeneratorEnabled && c.GeneratorInterval <= 0 {
		return fmt.Errorf("GENERATOR_INTERVAL must be positive when the generator is enabled")
	}
	if c.MaxSubscribers <= 0 {
		return fmt.Errorf("MAX_SUBSCRIBERS must be positive")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}

	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("WEBHOOK_URL must be an http(s) URL")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or bare seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
