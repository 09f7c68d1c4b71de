// Package config provides configuration loading for the drawing extractor.
// Supports YAML files, a .env file, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/drawing-extractor/internal/domain"
)

// Config holds all configuration for the extractor.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Cache         CacheConfig         `yaml:"cache"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LLMConfig holds vision-model provider settings.
type LLMConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"-"` // only from the environment
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Referer           string        `yaml:"referer"`
	Title             string        `yaml:"title"`
}

// PipelineConfig holds batch processing settings.
type PipelineConfig struct {
	Workers     int     `yaml:"workers"`
	JPEGQuality int     `yaml:"jpeg_quality"`
	PDFDPI      float64 `yaml:"pdf_dpi"`
}

// CacheConfig holds transcript cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
// A missing API key is fatal for the whole system.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError("read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Endpoint:          "https://openrouter.ai/api/v1/chat/completions",
			Model:             "qwen/qwen2.5-vl-72b-instruct:free",
			RequestTimeout:    90 * time.Second,
			MaxRetries:        3,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        30 * time.Second,
			RequestsPerSecond: 2,
			Burst:             4,
			Referer:           "https://github.com/spherical/drawing-extractor",
			Title:             "Engineering Drawing Extractor",
		},
		Pipeline: PipelineConfig{
			Workers:     4,
			JPEGQuality: 95,
			PDFDPI:      200,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        time.Hour,
			MaxEntries: 1000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     10 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   100 << 20,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return domain.ConfigError("OPENROUTER_API_KEY (or API_KEY) environment variable not set", nil)
	}
	if c.LLM.Endpoint == "" {
		return domain.ConfigError("llm.endpoint is required", nil)
	}
	if c.LLM.RequestTimeout <= 0 {
		return domain.ConfigError("llm.request_timeout must be positive", nil)
	}
	if c.LLM.MaxRetries < 0 {
		return domain.ConfigError(fmt.Sprintf("llm.max_retries must be >= 0, got %d", c.LLM.MaxRetries), nil)
	}
	if c.Pipeline.Workers < 1 {
		return domain.ConfigError(fmt.Sprintf("pipeline.workers must be >= 1, got %d", c.Pipeline.Workers), nil)
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		return domain.ConfigError(fmt.Sprintf("pipeline.jpeg_quality must be between 1 and 100, got %d", c.Pipeline.JPEGQuality), nil)
	}
	if c.Pipeline.PDFDPI < 36 || c.Pipeline.PDFDPI > 600 {
		return domain.ConfigError(fmt.Sprintf("pipeline.pdf_dpi must be between 36 and 600, got %v", c.Pipeline.PDFDPI), nil)
	}
	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return domain.ConfigError(fmt.Sprintf("invalid cache driver: %s", c.Cache.Driver), nil)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return domain.ConfigError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	} else if v := os.Getenv("API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}

	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.RequestTimeout = d
		}
	}

	if v := os.Getenv("PIPELINE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
