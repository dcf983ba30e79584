package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "2M", cfg.Server.BodySizeLimit)
	assert.Equal(t, "http://localhost:11434", cfg.Backend.BaseURL)
	assert.Equal(t, 4, cfg.Compare.MaxModels)
	assert.Equal(t, CacheBackendLocal, cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.NoError(t, cfg.Validate())
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  port: "9090"
backend:
  base_url: "http://ollama.internal:11434"
compare:
  max_models: 8
cache:
  backend: redis
  redis_url: "redis://localhost:6379/0"
  ttl: 1h
metrics:
  enabled: true
  endpoint: /internal/metrics
logging:
  level: debug
  format: pretty
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "http://ollama.internal:11434", cfg.Backend.BaseURL)
	assert.Equal(t, 8, cfg.Compare.MaxModels)
	assert.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache.RedisURL)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/internal/metrics", cfg.Metrics.Endpoint)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "pretty", cfg.Logging.Format)

	// Unset fields keep their defaults.
	assert.Equal(t, "2M", cfg.Server.BodySizeLimit)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o644))

	t.Setenv("MODELRELAY_PORT", "7070")
	t.Setenv("MODELRELAY_MAX_COMPARE_MODELS", "2")
	t.Setenv("MODELRELAY_CACHE_TTL", "30s")
	t.Setenv("MODELRELAY_METRICS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 2, cfg.Compare.MaxModels)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty backend URL",
			mutate:  func(c *Config) { c.Backend.BaseURL = "" },
			wantErr: "backend base URL",
		},
		{
			name:    "zero max models",
			mutate:  func(c *Config) { c.Compare.MaxModels = 0 },
			wantErr: "max_models",
		},
		{
			name:    "unknown cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "unknown cache backend",
		},
		{
			name:    "redis without URL",
			mutate:  func(c *Config) { c.Cache.Backend = CacheBackendRedis },
			wantErr: "redis URL",
		},
		{
			name:    "unknown logging format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
