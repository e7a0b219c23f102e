// Package config provides configuration loading with hot-reload support.
// Files are YAML with ${VAR} environment expansion; the Watcher swaps the
// active configuration atomically so readers never see a partial update.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete orchestrator configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Providers []ProviderConfig `yaml:"providers"`
	Tasks     []TaskConfig     `yaml:"tasks"`
	Budget    BudgetConfig     `yaml:"budget"`
	Ledger    LedgerConfig     `yaml:"ledger"`
	Vault     VaultConfig      `yaml:"vault"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Tracing   TracingConfig    `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ProviderConfig defines a single generation provider. APIKey may be a
// literal, "env://VAR", or "vault://mount/path#field".
type ProviderConfig struct {
	Name              string            `yaml:"name"`
	Type              string            `yaml:"type"`
	APIKey            string            `yaml:"api_key"`
	BaseURL           string            `yaml:"base_url"`
	Model             string            `yaml:"model"` // default model
	Models            []string          `yaml:"models"`
	Headers           map[string]string `yaml:"headers"`
	RequestsPerMinute int               `yaml:"requests_per_minute"`
	Burst             int               `yaml:"burst"`
}

// FallbackConfig names one fallback candidate. Model defaults to the
// provider's configured default model.
type FallbackConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// TaskConfig routes one task type.
type TaskConfig struct {
	Type       string           `yaml:"type"`
	Provider   string           `yaml:"provider"`
	Model      string           `yaml:"model"`
	Fallbacks  []FallbackConfig `yaml:"fallbacks"`
	Timeout    time.Duration    `yaml:"timeout"`
	CeilingUSD float64          `yaml:"ceiling_usd"`
}

// BudgetConfig holds the rolling spending ceilings in USD; zero disables a
// window.
type BudgetConfig struct {
	DailyUSD   float64 `yaml:"daily_usd"`
	WeeklyUSD  float64 `yaml:"weekly_usd"`
	MonthlyUSD float64 `yaml:"monthly_usd"`
}

// LedgerConfig selects the cost ledger backend.
type LedgerConfig struct {
	Backend       string `yaml:"backend"` // memory, redis, postgres
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

// VaultConfig enables vault:// credential references.
type VaultConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP/HTTP endpoint
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 180 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Ledger: LedgerConfig{Backend: "memory"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "tiregen",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// Load reads and parses a YAML configuration file. Environment variables in
// the format ${VAR_NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	providerNames := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider[%d]: name is required", i)
		}
		if providerNames[p.Name] {
			return fmt.Errorf("provider[%d]: duplicate name %q", i, p.Name)
		}
		providerNames[p.Name] = true
		if p.Type == "" {
			return fmt.Errorf("provider[%d] %q: type is required", i, p.Name)
		}
		if p.Model == "" {
			return fmt.Errorf("provider[%d] %q: default model is required", i, p.Name)
		}
		if p.RequestsPerMinute < 0 || p.Burst < 0 {
			return fmt.Errorf("provider[%d] %q: rate limit values cannot be negative", i, p.Name)
		}
	}

	if len(c.Tasks) == 0 {
		return fmt.Errorf("at least one task route must be configured")
	}
	taskTypes := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		if t.Type == "" {
			return fmt.Errorf("task[%d]: type is required", i)
		}
		if taskTypes[t.Type] {
			return fmt.Errorf("task[%d]: duplicate type %q", i, t.Type)
		}
		taskTypes[t.Type] = true
		if t.Provider == "" {
			return fmt.Errorf("task[%d] %q: provider is required", i, t.Type)
		}
		if !providerNames[t.Provider] {
			return fmt.Errorf("task[%d] %q: provider %q is not configured", i, t.Type, t.Provider)
		}
		for j, f := range t.Fallbacks {
			if !providerNames[f.Provider] {
				return fmt.Errorf("task[%d] %q: fallback[%d] provider %q is not configured", i, t.Type, j, f.Provider)
			}
		}
		if t.Timeout < 0 {
			return fmt.Errorf("task[%d] %q: timeout cannot be negative", i, t.Type)
		}
		if t.CeilingUSD < 0 {
			return fmt.Errorf("task[%d] %q: ceiling_usd cannot be negative", i, t.Type)
		}
	}

	if c.Budget.DailyUSD < 0 || c.Budget.WeeklyUSD < 0 || c.Budget.MonthlyUSD < 0 {
		return fmt.Errorf("budget ceilings cannot be negative")
	}

	switch c.Ledger.Backend {
	case "", "memory":
	case "redis":
		if c.Ledger.RedisAddr == "" {
			return fmt.Errorf("ledger.redis_addr is required for the redis backend")
		}
	case "postgres":
		if c.Ledger.PostgresDSN == "" {
			return fmt.Errorf("ledger.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}

	return nil
}
