// Package config handles configuration loading and management for Convoke.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/skellig/convoke/pkg/models"
)

// Config holds all configuration for Convoke.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	// LexiconPath points at a YAML keyword lexicon; empty uses the built-in.
	LexiconPath string `mapstructure:"lexicon_path"`
	// DebugLog enables file-backed debug logging when non-empty.
	DebugLog string `mapstructure:"debug_log"`
}

// AnthropicConfig holds Anthropic API settings for API-backed workers.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	// UseBedrock routes API workers through AWS Bedrock instead of the
	// Anthropic API directly.
	UseBedrock bool `mapstructure:"use_bedrock"`
}

// DefaultsConfig holds default coordination settings.
type DefaultsConfig struct {
	// Strategy forces a coordination strategy for every request; empty
	// lets the analyzer choose.
	Strategy string `mapstructure:"strategy"`
	// ComplexStrategy is used for requests classified as complex.
	ComplexStrategy string `mapstructure:"complex_strategy"`
}

// BreakerConfig holds circuit-breaker tunables.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// DispatchConfig holds worker invocation tunables.
type DispatchConfig struct {
	// Timeout bounds each worker call.
	Timeout time.Duration `mapstructure:"timeout"`
	// ConsensusFanout is how many workers answer the same capability
	// under the consensus strategy.
	ConsensusFanout int `mapstructure:"consensus_fanout"`
	// CapabilityTimeouts overrides the call timeout per capability tag.
	CapabilityTimeouts map[string]time.Duration `mapstructure:"capability_timeouts"`
}

// RegistryConfig holds worker registry tunables.
type RegistryConfig struct {
	// ProbeInterval is how often registered workers are health-probed.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	// StaleAfter marks workers unavailable when unseen for this long.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// StrategyOverride returns the forced default strategy, or empty when
// the analyzer should choose.
func (d DefaultsConfig) StrategyOverride() models.Strategy {
	s := models.Strategy(d.Strategy)
	if s.Valid() {
		return s
	}
	return ""
}

// Timeouts converts the string-keyed YAML map to the tag type the
// dispatcher expects.
func (d DispatchConfig) Timeouts() map[models.Capability]time.Duration {
	if len(d.CapabilityTimeouts) == 0 {
		return nil
	}
	out := make(map[models.Capability]time.Duration, len(d.CapabilityTimeouts))
	for k, v := range d.CapabilityTimeouts {
		out[models.Capability(k)] = v
	}
	return out
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.convoke.yaml in current directory or parent)
// 3. User config (~/.config/convoke/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Load user config from XDG path
	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Load project config if present
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	// Environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("")
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("defaults.strategy", cfg.Defaults.Strategy)
	v.Set("defaults.complex_strategy", cfg.Defaults.ComplexStrategy)
	v.Set("breaker.failure_threshold", cfg.Breaker.FailureThreshold)
	v.Set("breaker.window", cfg.Breaker.Window.String())
	v.Set("breaker.cooldown", cfg.Breaker.Cooldown.String())
	v.Set("dispatch.timeout", cfg.Dispatch.Timeout.String())
	v.Set("dispatch.consensus_fanout", cfg.Dispatch.ConsensusFanout)
	v.Set("registry.probe_interval", cfg.Registry.ProbeInterval.String())
	v.Set("registry.stale_after", cfg.Registry.StaleAfter.String())
	v.Set("lexicon_path", cfg.LexiconPath)
	v.Set("debug_log", cfg.DebugLog)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("defaults.strategy", "")
	v.SetDefault("defaults.complex_strategy", "hierarchical")

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.window", "60s")
	v.SetDefault("breaker.cooldown", "30s")

	v.SetDefault("dispatch.timeout", "30s")
	v.SetDefault("dispatch.consensus_fanout", 3)

	v.SetDefault("registry.probe_interval", "15s")
	v.SetDefault("registry.stale_after", "2m")

	v.SetDefault("lexicon_path", "")
	v.SetDefault("debug_log", "")
}

// getUserConfigDir returns the XDG config directory for Convoke.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "convoke")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "convoke")
	}
	return filepath.Join(home, ".config", "convoke")
}

// findProjectConfig searches for .convoke.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".convoke.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Defaults: DefaultsConfig{
			ComplexStrategy: "hierarchical",
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Window:           60 * time.Second,
			Cooldown:         30 * time.Second,
		},
		Dispatch: DispatchConfig{
			Timeout:         30 * time.Second,
			ConsensusFanout: 3,
		},
		Registry: RegistryConfig{
			ProbeInterval: 15 * time.Second,
			StaleAfter:    2 * time.Minute,
		},
	}
}
