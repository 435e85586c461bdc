// Package config provides configuration loading for codecraft.
package config

import (
	"fmt"
	"strings"

	"github.com/dshills/codecraft/graph/model"
)

// ErrMissingAPIKey is returned by RequireAPIKey when llm.api_key is empty.
var ErrMissingAPIKey = model.ErrMissingAPIKey

// Config is the root configuration.
type Config struct {
	LLM      LLMConfig      `koanf:"llm"`
	Workflow WorkflowConfig `koanf:"workflow"`
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Log      LogConfig      `koanf:"log"`
	Tracing  TracingConfig  `koanf:"tracing"`
}

// LLMConfig selects and authenticates the chat provider.
type LLMConfig struct {
	Provider string `koanf:"provider"` // openai | anthropic | google
	APIKey   string `koanf:"api_key"`
	Model    string `koanf:"model"`    // empty uses the provider default
	BaseURL  string `koanf:"base_url"` // empty uses the provider default
	Referer  string `koanf:"referer"`
	Title    string `koanf:"title"`
}

// WorkflowConfig tunes the agent loop.
type WorkflowConfig struct {
	MaxCycles int `koanf:"max_cycles"` // 0 = unbounded
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	ShutdownTimeout int    `koanf:"shutdown_timeout"` // seconds
}

// StoreConfig selects run persistence.
type StoreConfig struct {
	Driver string `koanf:"driver"` // memory | sqlite | mysql
	DSN    string `koanf:"dsn"`    // file path for sqlite, DSN for mysql

	// MaxRuns caps the runs the memory driver keeps; the oldest is evicted.
	MaxRuns int `koanf:"max_runs"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json | console
}

// TracingConfig configures OTLP/HTTP span export.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"` // host:port
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// Supported values.
var (
	providers    = []string{"openai", "anthropic", "google"}
	storeDrivers = []string{"memory", "sqlite", "mysql"}
	logLevels    = []string{"debug", "info", "warn", "error"}
	logFormats   = []string{"json", "console"}
)

// LLMConfigured reports whether an API key is present.
func (c *Config) LLMConfigured() bool {
	return strings.TrimSpace(c.LLM.APIKey) != ""
}

// RequireAPIKey returns ErrMissingAPIKey when no key is configured.
func (c *Config) RequireAPIKey() error {
	if !c.LLMConfigured() {
		return ErrMissingAPIKey
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks value ranges and enumerations. A missing API key is not a
// validation error; see RequireAPIKey.
func (c *Config) Validate() error {
	if !oneOf(c.LLM.Provider, providers) {
		return fmt.Errorf("llm.provider %q must be one of %s", c.LLM.Provider, strings.Join(providers, ", "))
	}
	if c.Workflow.MaxCycles < 0 {
		return fmt.Errorf("workflow.max_cycles must be >= 0, got %d", c.Workflow.MaxCycles)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must be >= 0, got %d", c.Server.ShutdownTimeout)
	}
	if !oneOf(c.Store.Driver, storeDrivers) {
		return fmt.Errorf("store.driver %q must be one of %s", c.Store.Driver, strings.Join(storeDrivers, ", "))
	}
	if c.Store.MaxRuns < 1 {
		return fmt.Errorf("store.max_runs must be >= 1, got %d", c.Store.MaxRuns)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
	}
	if !oneOf(c.Log.Level, logLevels) {
		return fmt.Errorf("log.level %q must be one of %s", c.Log.Level, strings.Join(logLevels, ", "))
	}
	if !oneOf(c.Log.Format, logFormats) {
		return fmt.Errorf("log.format %q must be one of %s", c.Log.Format, strings.Join(logFormats, ", "))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate)
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
