package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every key Load reads so host values don't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "RETENTION_CAPACITY", "RETENTION_MAX_AGE",
		"REFRESH_INTERVAL", "PUSH_ON_INGEST", "MAX_SUBSCRIBERS", "ALLOWED_ORIGINS",
		"GENERATOR_ENABLED", "GENERATOR_INTERVAL", "GENERATOR_SEED", "WEBHOOK_URL",
		"WEBHOOK_SECRET", "OTEL_EXPORTER_OTLP_ENDPOINT", "RATE_LIMIT_RPM",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, DefaultRetentionCapacity, cfg.RetentionCapacity)
	assert.Zero(t, cfg.RetentionMaxAge)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.True(t, cfg.PushOnIngest)
	assert.True(t, cfg.GeneratorEnabled, "generator defaults on in development")
	assert.Equal(t, 2*time.Second, cfg.GeneratorInterval)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
	assert.Empty(t, cfg.WebhookURL)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("RETENTION_CAPACITY", "250")
	t.Setenv("RETENTION_MAX_AGE", "1h")
	t.Setenv("REFRESH_INTERVAL", "5")
	t.Setenv("PUSH_ON_INGEST", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://ops.example.com, https://noc.example.com,")
	t.Setenv("GENERATOR_SEED", "42")
	t.Setenv("WEBHOOK_URL", "https://alerts.example.com/hook")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.GeneratorEnabled, "generator defaults off outside development")
	assert.Equal(t, 250, cfg.RetentionCapacity)
	assert.Equal(t, time.Hour, cfg.RetentionMaxAge)
	assert.Equal(t, 5*time.Second, cfg.RefreshInterval)
	assert.False(t, cfg.PushOnIngest)
	assert.Equal(t, []string{"https://ops.example.com", "https://noc.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(42), cfg.GeneratorSeed)
	assert.Equal(t, "https://alerts.example.com/hook", cfg.WebhookURL)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("RETENTION_CAPACITY", "lots")
	t.Setenv("REFRESH_INTERVAL", "soon")
	t.Setenv("PUSH_ON_INGEST", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultRetentionCapacity, cfg.RetentionCapacity)
	assert.Equal(t, DefaultRefreshInterval, cfg.RefreshInterval)
	assert.True(t, cfg.PushOnIngest)
}

func TestLoad_InvalidCapacity(t *testing.T) {
	clearEnv(t)
	t.Setenv("RETENTION_CAPACITY", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RETENTION_CAPACITY")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			RetentionCapacity: 10,
			RefreshInterval:   time.Second,
			MaxSubscribers:    10,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero capacity", func(c *Config) { c.RetentionCapacity = 0 }, "RETENTION_CAPACITY"},
		{"negative max age", func(c *Config) { c.RetentionMaxAge = -time.Second }, "RETENTION_MAX_AGE"},
		{"zero refresh", func(c *Config) { c.RefreshInterval = 0 }, "REFRESH_INTERVAL"},
		{"generator without interval", func(c *Config) { c.GeneratorEnabled = true }, "GENERATOR_INTERVAL"},
		{"zero subscribers", func(c *Config) { c.MaxSubscribers = 0 }, "MAX_SUBSCRIBERS"},
		{"negative rate limit", func(c *Config) { c.RateLimitRPM = -1 }, "RATE_LIMIT_RPM"},
		{"webhook ftp", func(c *Config) { c.WebhookURL = "ftp://example.com" }, "WEBHOOK_URL"},
		{"webhook no host", func(c *Config) { c.WebhookURL = "https://" }, "WEBHOOK_URL"},
		{"webhook http ok", func(c *Config) { c.WebhookURL = "http://10.0.0.5:9000/hook" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TXPULSE_TEST_DUR", "1.5")
	assert.Equal(t, 1500*time.Millisecond, getEnvDuration("TXPULSE_TEST_DUR", 0))
	t.Setenv("TXPULSE_TEST_DUR", "250ms")
	assert.Equal(t, 250*time.Millisecond, getEnvDuration("TXPULSE_TEST_DUR", 0))
	t.Setenv("TXPULSE_TEST_DUR", "")
	assert.Equal(t, time.Minute, getEnvDuration("TXPULSE_TEST_DUR", time.Minute))
}
