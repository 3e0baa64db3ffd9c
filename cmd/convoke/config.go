package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skellig/convoke/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Convoke configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/convoke/config.yaml
Project-specific overrides can be placed in .convoke.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	key, source, _ := config.ResolveAPIKey(cfg)

	fmt.Printf("anthropic.api_key: %s (%s)\n", config.MaskAPIKey(key), source)
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("defaults.strategy: %s\n", orNone(cfg.Defaults.Strategy))
	fmt.Printf("defaults.complex_strategy: %s\n", cfg.Defaults.ComplexStrategy)
	fmt.Printf("breaker.failure_threshold: %d\n", cfg.Breaker.FailureThreshold)
	fmt.Printf("breaker.window: %s\n", cfg.Breaker.Window)
	fmt.Printf("breaker.cooldown: %s\n", cfg.Breaker.Cooldown)
	fmt.Printf("dispatch.timeout: %s\n", cfg.Dispatch.Timeout)
	fmt.Printf("dispatch.consensus_fanout: %d\n", cfg.Dispatch.ConsensusFanout)
	fmt.Printf("registry.probe_interval: %s\n", cfg.Registry.ProbeInterval)
	fmt.Printf("registry.stale_after: %s\n", cfg.Registry.StaleAfter)
	fmt.Printf("lexicon_path: %s\n", orNone(cfg.LexiconPath))
	fmt.Printf("debug_log: %s\n", orNone(cfg.DebugLog))
}

func orNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		k, _, _ := config.ResolveAPIKey(cfg)
		return config.MaskAPIKey(k), nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "defaults.strategy":
		return orNone(cfg.Defaults.Strategy), nil
	case "defaults.complex_strategy":
		return cfg.Defaults.ComplexStrategy, nil
	case "breaker.failure_threshold":
		return strconv.Itoa(cfg.Breaker.FailureThreshold), nil
	case "breaker.window":
		return cfg.Breaker.Window.String(), nil
	case "breaker.cooldown":
		return cfg.Breaker.Cooldown.String(), nil
	case "dispatch.timeout":
		return cfg.Dispatch.Timeout.String(), nil
	case "dispatch.consensus_fanout":
		return strconv.Itoa(cfg.Dispatch.ConsensusFanout), nil
	case "registry.probe_interval":
		return cfg.Registry.ProbeInterval.String(), nil
	case "registry.stale_after":
		return cfg.Registry.StaleAfter.String(), nil
	case "lexicon_path":
		return orNone(cfg.LexiconPath), nil
	case "debug_log":
		return orNone(cfg.DebugLog), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if err := config.ValidateAPIKey(value); err != nil {
			return err
		}
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}
		cfg.Anthropic.UseBedrock = b
	case "defaults.strategy":
		cfg.Defaults.Strategy = value
	case "defaults.complex_strategy":
		cfg.Defaults.ComplexStrategy = value
	case "breaker.failure_threshold":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid threshold %q", value)
		}
		cfg.Breaker.FailureThreshold = n
	case "breaker.window":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		cfg.Breaker.Window = d
	case "breaker.cooldown":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		cfg.Breaker.Cooldown = d
	case "dispatch.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		cfg.Dispatch.Timeout = d
	case "dispatch.consensus_fanout":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid fanout %q", value)
		}
		cfg.Dispatch.ConsensusFanout = n
	case "registry.probe_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		cfg.Registry.ProbeInterval = d
	case "registry.stale_after":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		cfg.Registry.StaleAfter = d
	case "lexicon_path":
		cfg.LexiconPath = value
	case "debug_log":
		cfg.DebugLog = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
