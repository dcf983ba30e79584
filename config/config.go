// Package config provides configuration management for the relay.
// Values come from, in increasing precedence: built-in defaults, an
// optional YAML file, and environment variables (a .env file is loaded
// first if present).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cache backend names.
const (
	CacheBackendLocal = "local"
	CacheBackendRedis = "redis"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Compare CompareConfig `yaml:"compare"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string `yaml:"port"`
	BodySizeLimit string `yaml:"body_size_limit"`
}

// BackendConfig holds the inference backend configuration
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CompareConfig bounds comparison requests
type CompareConfig struct {
	MaxModels int `yaml:"max_models"`
}

// CacheConfig selects and configures the model-catalog cache backend
type CacheConfig struct {
	Backend  string        `yaml:"backend"` // "local" or "redis"
	FilePath string        `yaml:"file_path"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or pretty
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "2M",
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:11434",
		},
		Compare: CompareConfig{
			MaxModels: 4,
		},
		Cache: CacheConfig{
			Backend:  CacheBackendLocal,
			FilePath: ".modelrelay/catalog.json",
			TTL:      5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from the optional YAML file at path (empty
// means no file) and the environment.
func Load(path string) (*Config, error) {
	// .env is optional; ignore absence
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for configuration values that cannot work.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base URL must not be empty")
	}
	if c.Compare.MaxModels < 1 {
		return fmt.Errorf("compare max_models must be at least 1, got %d", c.Compare.MaxModels)
	}
	switch c.Cache.Backend {
	case CacheBackendLocal, CacheBackendRedis:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheBackendRedis && c.Cache.RedisURL == "" {
		return fmt.Errorf("cache backend is redis but no redis URL is configured")
	}
	switch c.Logging.Format {
	case "json", "pretty":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}

// applyEnv overlays MODELRELAY_* environment variables.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "MODELRELAY_PORT")
	setString(&cfg.Server.BodySizeLimit, "MODELRELAY_BODY_SIZE_LIMIT")
	setString(&cfg.Backend.BaseURL, "MODELRELAY_BACKEND_URL")
	setInt(&cfg.Compare.MaxModels, "MODELRELAY_MAX_COMPARE_MODELS")
	setString(&cfg.Cache.Backend, "MODELRELAY_CACHE_BACKEND")
	setString(&cfg.Cache.FilePath, "MODELRELAY_CACHE_FILE")
	setString(&cfg.Cache.RedisURL, "MODELRELAY_REDIS_URL")
	setDuration(&cfg.Cache.TTL, "MODELRELAY_CACHE_TTL")
	setBool(&cfg.Metrics.Enabled, "MODELRELAY_METRICS_ENABLED")
	setString(&cfg.Metrics.Endpoint, "MODELRELAY_METRICS_ENDPOINT")
	setString(&cfg.Logging.Level, "MODELRELAY_LOG_LEVEL")
	setString(&cfg.Logging.Format, "MODELRELAY_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
