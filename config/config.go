// Package config loads the chatpipe YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/telemetry"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSqlite   = "sqlite"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the root configuration document.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	Engine    EngineConfig     `yaml:"engine"`
	Task      TaskConfig       `yaml:"task"`
	Store     StoreConfig      `yaml:"store"`
	Models    ModelsConfig     `yaml:"models"`
	Tools     ToolsConfig      `yaml:"tools"`
	Pipelines PipelinesConfig  `yaml:"pipelines"`
	Server    ServerConfig     `yaml:"server"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Backend is "std" or "golog".
	Backend string `yaml:"backend"`
}

type EngineConfig struct {
	MaxNodeExecutions int           `yaml:"max_node_executions"`
	MaxNodeVisits     int           `yaml:"max_node_visits"`
	ProviderTimeout   time.Duration `yaml:"provider_timeout"`
	Retry             RetryConfig   `yaml:"retry"`
	// TokenCounter is "approx" or "model" (tiktoken for the default model).
	TokenCounter string `yaml:"token_counter"`
}

type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type TaskConfig struct {
	Workers   int           `yaml:"workers"`
	Retention time.Duration `yaml:"retention"`
}

type StoreConfig struct {
	Backend  string         `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Sqlite   SqliteConfig   `yaml:"sqlite"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type PostgresConfig struct {
	ConnString  string `yaml:"conn_string"`
	TablePrefix string `yaml:"table_prefix"`
}

type SqliteConfig struct {
	Path        string `yaml:"path"`
	TablePrefix string `yaml:"table_prefix"`
}

// ModelsConfig lists the named model providers. Default names the provider
// used by nodes that do not select one.
type ModelsConfig struct {
	Default   string          `yaml:"default"`
	Providers []ModelProvider `yaml:"providers"`
}

// ModelProvider is one OpenAI-compatible endpoint.
type ModelProvider struct {
	Name         string `yaml:"name"`
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	Organization string `yaml:"organization"`
}

type ToolsConfig struct {
	BraveAPIKey string `yaml:"brave_api_key"`
	WebFetch    bool   `yaml:"web_fetch"`
	// WebFetchMaxChars caps the text returned by web_fetch.
	WebFetchMaxChars int `yaml:"web_fetch_max_chars"`
}

type PipelinesConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Backend: "std"},
		Engine: EngineConfig{
			MaxNodeExecutions: 100,
			MaxNodeVisits:     10,
			ProviderTimeout:   60 * time.Second,
			TokenCounter:      "approx",
			Retry: RetryConfig{
				MaxAttempts:   3,
				InitialDelay:  100 * time.Millisecond,
				MaxDelay:      5 * time.Second,
				BackoffFactor: 2.0,
			},
		},
		Task:      TaskConfig{Workers: 8, Retention: time.Hour},
		Store:     StoreConfig{Backend: BackendMemory},
		Tools:     ToolsConfig{WebFetch: true, WebFetchMaxChars: 8000},
		Pipelines: PipelinesConfig{Dir: "pipelines"},
		Server:    ServerConfig{Addr: ":8080", ShutdownTimeout: 15 * time.Second},
		Telemetry: telemetry.Config{ServiceName: "chatpipe"},
	}
}

// Load reads the file at path, expands ${VAR} references and decodes it over
// the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be fixed by a default.
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	switch c.Log.Backend {
	case "", "std", "golog":
	default:
		return fmt.Errorf("%w: log.backend %q", ErrInvalidConfig, c.Log.Backend)
	}
	if c.Engine.MaxNodeExecutions < 0 || c.Engine.MaxNodeVisits < 0 {
		return fmt.Errorf("%w: engine loop guards must not be negative", ErrInvalidConfig)
	}
	switch c.Engine.TokenCounter {
	case "", "approx", "model":
	default:
		return fmt.Errorf("%w: engine.token_counter %q", ErrInvalidConfig, c.Engine.TokenCounter)
	}
	if c.Task.Workers < 0 {
		return fmt.Errorf("%w: task.workers must not be negative", ErrInvalidConfig)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("%w: store.redis.addr is required", ErrInvalidConfig)
		}
	case BackendPostgres:
		if c.Store.Postgres.ConnString == "" {
			return fmt.Errorf("%w: store.postgres.conn_string is required", ErrInvalidConfig)
		}
	case BackendSqlite:
		if c.Store.Sqlite.Path == "" {
			return fmt.Errorf("%w: store.sqlite.path is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}

	seen := map[string]bool{}
	for i, p := range c.Models.Providers {
		if p.Name == "" {
			return fmt.Errorf("%w: models.providers[%d] has no name", ErrInvalidConfig, i)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate model provider %q", ErrInvalidConfig, p.Name)
		}
		seen[p.Name] = true
	}
	if c.Models.Default != "" && !seen[c.Models.Default] {
		return fmt.Errorf("%w: default model %q is not configured", ErrInvalidConfig, c.Models.Default)
	}
	return nil
}

// Logger builds the logger selected by the log section.
func (c *Config) Logger() log.Logger {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		level = log.LogLevelInfo
	}
	if c.Log.Backend == "golog" {
		return log.NewGologLoggerWithLevel(level)
	}
	return log.NewDefaultLogger(level)
}
