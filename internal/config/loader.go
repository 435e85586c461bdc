package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every codecraft environment variable.
	EnvPrefix = "CODECRAFT_"
)

// defaults is loaded first so that zero values (max_cycles: 0) set by later
// layers are kept.
const defaults = `
llm:
  provider: openai
  referer: https://github.com/dshills/codecraft
  title: Codecraft AI
workflow:
  max_cycles: 3
server:
  host: 0.0.0.0
  port: 8000
  shutdown_timeout: 10
store:
  driver: memory
  max_runs: 256
log:
  level: info
  format: json
tracing:
  enabled: false
  insecure: true
  sample_rate: 1.0
  service_name: codecraft
`

// vendorEnv maps unprefixed variables, as used by OpenRouter tooling, onto
// config keys. CODECRAFT_ variables win over these.
var vendorEnv = map[string]string{
	"OPENROUTER_API_KEY": "llm.api_key",
	"OPENROUTER_MODEL":   "llm.model",
}

// Load builds the configuration.
//
// Precedence (highest to lowest):
//  1. CODECRAFT_ environment variables (CODECRAFT_SERVER_PORT -> server.port)
//  2. OPENROUTER_API_KEY and OPENROUTER_MODEL
//  3. The YAML file at path, when path is non-empty
//  4. Built-in defaults
//
// Environment names split on the first underscore after the prefix:
//
//	CODECRAFT_LLM_API_KEY      -> llm.api_key
//	CODECRAFT_WORKFLOW_MAX_CYCLES -> workflow.max_cycles
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	for name, key := range vendorEnv {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("failed to apply %s: %w", name, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps CODECRAFT_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
