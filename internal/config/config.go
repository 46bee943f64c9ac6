// Package config loads the daemon configuration from YAML with
// environment variable expansion, so secrets can stay out of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for tenexd.
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Storage StorageConfig `yaml:"storage"`
	LLM     LLMConfig     `yaml:"llm"`
	Agents  []AgentConfig `yaml:"agents"`
	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// RelayConfig selects the event transport. An empty URL runs the
// daemon against the in-process transport, which is useful for tests
// and local development.
type RelayConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// StorageConfig points at the SQLite files for durable state. Empty
// paths select in-memory stores.
type StorageConfig struct {
	ConversationsPath string `yaml:"conversations_path"`
	ToolMessagesPath  string `yaml:"tool_messages_path"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// AgentConfig declares one agent identity the daemon runs.
type AgentConfig struct {
	Slug         string `yaml:"slug"`
	Pubkey       string `yaml:"pubkey"`
	SystemPrompt string `yaml:"system_prompt"`
	Model        string `yaml:"model"`

	// PhaseInstructions maps a phase name to the instructions injected
	// into the prompt while the conversation is in that phase.
	PhaseInstructions map[string]string `yaml:"phase_instructions"`
}

type ToolsConfig struct {
	ExecutionTimeout  time.Duration `yaml:"execution_timeout"`
	DelegationTimeout time.Duration `yaml:"delegation_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses the configuration file. Environment variable
// references like ${ANTHROPIC_API_KEY} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with all defaults applied and no agents.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Relay.ReconnectDelay == 0 {
		cfg.Relay.ReconnectDelay = 5 * time.Second
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Tools.ExecutionTimeout == 0 {
		cfg.Tools.ExecutionTimeout = 10 * time.Minute
	}
	if cfg.Tools.DelegationTimeout == 0 {
		cfg.Tools.DelegationTimeout = 5 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "tenexd"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
}

// Validate checks cross-field constraints that yaml parsing cannot.
func (cfg *Config) Validate() error {
	if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok && len(cfg.LLM.Providers) > 0 {
		return fmt.Errorf("config: default provider %q is not configured", cfg.LLM.DefaultProvider)
	}
	for name, provider := range cfg.LLM.Providers {
		if provider.APIKey == "" {
			return fmt.Errorf("config: provider %q has no api_key", name)
		}
	}

	slugs := make(map[string]bool, len(cfg.Agents))
	for i, agent := range cfg.Agents {
		if agent.Slug == "" {
			return fmt.Errorf("config: agents[%d] has no slug", i)
		}
		if slugs[agent.Slug] {
			return fmt.Errorf("config: duplicate agent slug %q", agent.Slug)
		}
		slugs[agent.Slug] = true
		if agent.Pubkey == "" {
			return fmt.Errorf("config: agent %q has no pubkey", agent.Slug)
		}
	}
	return nil
}
