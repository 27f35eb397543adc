package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration. Values come from an optional
// YAML file (CONFIG_PATH, default config/config.yaml) with environment
// variables taking precedence for deploy-specific settings.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Mapping  MappingConfig  `yaml:"mapping"`
	Solver   SolverConfig   `yaml:"solver"`
}

// ServerConfig HTTP server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig Postgres configuration.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig event broker configuration. An empty URL selects the
// in-process broker.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DispatchConfig scheduling parameters.
type DispatchConfig struct {
	Timezone      string `yaml:"timezone"`
	BucketMinutes int    `yaml:"bucket_minutes"`
	Profile       string `yaml:"profile"`
}

// MappingConfig external mapping service configuration.
type MappingConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	TrafficModel   string  `yaml:"traffic_model"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	RateBurst      int     `yaml:"rate_burst"`
}

// SolverConfig external optimizer configuration.
type SolverConfig struct {
	BaseURL          string `yaml:"base_url"`
	TimeLimitSeconds int    `yaml:"time_limit_seconds"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// Location resolves the configured timezone.
func (c DispatchConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// BucketWidth returns the departure bucket width.
func (c DispatchConfig) BucketWidth() time.Duration {
	return time.Duration(c.BucketMinutes) * time.Minute
}

// Timeout returns the per-request timeout for mapping calls.
func (c MappingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TimeLimit returns the solver search budget.
func (c SolverConfig) TimeLimit() time.Duration {
	return time.Duration(c.TimeLimitSeconds) * time.Second
}

// Timeout returns the HTTP timeout for solver calls; it must exceed the
// time limit so the solver can report a finished search.
func (c SolverConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads the YAML file named by CONFIG_PATH when present, then
// applies environment overrides and defaults. A missing file is fine;
// everything can come from the environment.
func Load() (*Config, error) {
	cfg := &Config{}

	path := Get("CONFIG_PATH", "config/config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// env-only deployment
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.Server.Addr = Get("HTTP_ADDR", cfg.Server.Addr)
	cfg.Database.URL = Get("DATABASE_URL", cfg.Database.URL)
	cfg.Redis.URL = Get("REDIS_URL", cfg.Redis.URL)
	cfg.Mapping.BaseURL = Get("MAPS_BASE_URL", cfg.Mapping.BaseURL)
	cfg.Mapping.APIKey = Get("MAPS_API_KEY", cfg.Mapping.APIKey)
	cfg.Solver.BaseURL = Get("SOLVER_URL", cfg.Solver.BaseURL)

	cfg.applyDefaults()

	if strings.TrimSpace(cfg.Database.URL) == "" {
		return nil, fmt.Errorf("load config: DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Dispatch.Timezone == "" {
		c.Dispatch.Timezone = "Asia/Tokyo"
	}
	if c.Dispatch.BucketMinutes == 0 {
		c.Dispatch.BucketMinutes = 60
	}
	if c.Dispatch.Profile == "" {
		c.Dispatch.Profile = "driving-car"
	}
	if c.Mapping.TrafficModel == "" {
		c.Mapping.TrafficModel = "TRAFFIC_AWARE"
	}
	if c.Mapping.TimeoutSeconds == 0 {
		c.Mapping.TimeoutSeconds = 15
	}
	if c.Mapping.RatePerSecond == 0 {
		c.Mapping.RatePerSecond = 8
	}
	if c.Mapping.RateBurst == 0 {
		c.Mapping.RateBurst = 4
	}
	if c.Solver.TimeLimitSeconds == 0 {
		c.Solver.TimeLimitSeconds = 30
	}
	if c.Solver.TimeoutSeconds == 0 {
		c.Solver.TimeoutSeconds = c.Solver.TimeLimitSeconds + 15
	}
}

// Get returns the environment value for key, or fallback when unset or
// blank.
func Get(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
