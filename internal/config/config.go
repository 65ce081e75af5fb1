// Package config loads the orchestrator configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adamj-ops/square-brain-sub000/internal/audit"
	"github.com/adamj-ops/square-brain-sub000/internal/tools"
)

// Config is the main configuration structure.
type Config struct {
	Server  ServerConfig          `yaml:"server"`
	LLM     LLMConfig             `yaml:"llm"`
	Agent   AgentConfig           `yaml:"agent"`
	Storage StorageConfig         `yaml:"storage"`
	Audit   audit.Config          `yaml:"audit"`
	Limits  tools.SanitizerConfig `yaml:"sanitizer"`
	Logging LoggingConfig         `yaml:"logging"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type AgentConfig struct {
	Name          string `yaml:"name"`
	System        string `yaml:"system"`
	MaxTokens     int    `yaml:"max_tokens"`
	MaxIterations int    `yaml:"max_iterations"`
	MaxToolCalls  int    `yaml:"max_tool_calls"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"` // debug, info, warn, error
	Format string `yaml:"format"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			ReadTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			Model: "gpt-4o-mini",
		},
		Agent: AgentConfig{
			Name:          "square-brain",
			MaxTokens:     4096,
			MaxIterations: 10,
			MaxToolCalls:  20,
		},
		Storage: StorageConfig{
			Path: "brain.db",
		},
		Audit:  audit.DefaultConfig(),
		Limits: tools.DefaultSanitizerConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration file at path, falling back to defaults for
// anything unset, then applies environment overrides. A missing file is
// not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("BRAIN_OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("BRAIN_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("BRAIN_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("BRAIN_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (or set BRAIN_OPENAI_API_KEY)")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}
