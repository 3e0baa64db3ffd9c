package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skellig/convoke/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Defaults.Strategy != "" {
		t.Errorf("expected no default strategy override, got %q", cfg.Defaults.Strategy)
	}

	if cfg.Defaults.ComplexStrategy != "hierarchical" {
		t.Errorf("expected complex strategy 'hierarchical', got %q", cfg.Defaults.ComplexStrategy)
	}

	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("expected failure threshold 5, got %d", cfg.Breaker.FailureThreshold)
	}

	if cfg.Breaker.Window != 60*time.Second {
		t.Errorf("expected breaker window 60s, got %v", cfg.Breaker.Window)
	}

	if cfg.Breaker.Cooldown != 30*time.Second {
		t.Errorf("expected breaker cooldown 30s, got %v", cfg.Breaker.Cooldown)
	}

	if cfg.Dispatch.Timeout != 30*time.Second {
		t.Errorf("expected dispatch timeout 30s, got %v", cfg.Dispatch.Timeout)
	}

	if cfg.Dispatch.ConsensusFanout != 3 {
		t.Errorf("expected consensus fanout 3, got %d", cfg.Dispatch.ConsensusFanout)
	}

	if cfg.Registry.ProbeInterval != 15*time.Second {
		t.Errorf("expected probe interval 15s, got %v", cfg.Registry.ProbeInterval)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: test-key
  model: claude-test
defaults:
  strategy: parallel
  complex_strategy: consensus
breaker:
  failure_threshold: 3
  window: 30s
  cooldown: 10s
dispatch:
  timeout: 5s
  consensus_fanout: 5
  capability_timeouts:
    security-scan: 2s
registry:
  probe_interval: 5s
  stale_after: 1m
lexicon_path: /etc/convoke/lexicon.yaml
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Anthropic.APIKey != "test-key" {
		t.Errorf("api_key = %q, want test-key", cfg.Anthropic.APIKey)
	}
	if cfg.Defaults.Strategy != "parallel" {
		t.Errorf("strategy = %q, want parallel", cfg.Defaults.Strategy)
	}
	if cfg.Breaker.FailureThreshold != 3 {
		t.Errorf("failure_threshold = %d, want 3", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.Window != 30*time.Second {
		t.Errorf("window = %v, want 30s", cfg.Breaker.Window)
	}
	if cfg.Dispatch.Timeout != 5*time.Second {
		t.Errorf("dispatch timeout = %v, want 5s", cfg.Dispatch.Timeout)
	}
	if cfg.Registry.StaleAfter != time.Minute {
		t.Errorf("stale_after = %v, want 1m", cfg.Registry.StaleAfter)
	}
	if cfg.LexiconPath != "/etc/convoke/lexicon.yaml" {
		t.Errorf("lexicon_path = %q", cfg.LexiconPath)
	}

	timeouts := cfg.Dispatch.Timeouts()
	if got := timeouts[models.Capability("security-scan")]; got != 2*time.Second {
		t.Errorf("capability timeout = %v, want 2s", got)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadFromPathPartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
breaker:
  failure_threshold: 7
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Breaker.FailureThreshold != 7 {
		t.Errorf("failure_threshold = %d, want 7", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.Window != 60*time.Second {
		t.Errorf("window = %v, want default 60s", cfg.Breaker.Window)
	}
	if cfg.Dispatch.ConsensusFanout != 3 {
		t.Errorf("consensus_fanout = %d, want default 3", cfg.Dispatch.ConsensusFanout)
	}
}

func TestAPIKeyEnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
anthropic:
  api_key: ${CONVOKE_TEST_KEY}
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv("CONVOKE_TEST_KEY", "sk-ant-expanded")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Anthropic.APIKey != "sk-ant-expanded" {
		t.Errorf("api_key = %q, want sk-ant-expanded", cfg.Anthropic.APIKey)
	}
}

func TestStrategyOverride(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		want     models.Strategy
	}{
		{"empty means analyzer chooses", "", ""},
		{"valid strategy passes through", "consensus", models.StrategyConsensus},
		{"invalid strategy is dropped", "round-robin", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DefaultsConfig{Strategy: tt.strategy}
			if got := d.StrategyOverride(); got != tt.want {
				t.Errorf("StrategyOverride() = %q, want %q", got, tt.want)
			}
		})
	}
}
