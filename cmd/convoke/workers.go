package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skellig/convoke/internal/analyzer"
	"github.com/skellig/convoke/internal/config"
	"github.com/skellig/convoke/pkg/models"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Show the specialist roster and dispatch settings",
	Long: `Show the workers that 'convoke run' registers, one per lexicon
capability, along with their timeouts and the circuit-breaker settings
that govern them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		lex := analyzer.DefaultLexicon()
		if cfg.LexiconPath != "" {
			lex, err = analyzer.LoadLexicon(cfg.LexiconPath)
			if err != nil {
				return fmt.Errorf("loading lexicon: %w", err)
			}
		}

		caps := make([]models.Capability, 0, len(lex.Capabilities))
		for cap := range lex.Capabilities {
			caps = append(caps, cap)
		}
		lex.SortByPriority(caps)

		timeouts := cfg.Dispatch.Timeouts()
		header := color.New(color.Bold)

		header.Println("Workers")
		for _, cap := range caps {
			timeout := cfg.Dispatch.Timeout
			if t, ok := timeouts[cap]; ok {
				timeout = t
			}
			fmt.Printf("  %-28s capability=%-16s timeout=%s  keywords=%d\n",
				string(cap)+"-worker", cap, timeout, len(lex.Capabilities[cap]))
		}

		fmt.Println()
		header.Println("Circuit breaker")
		fmt.Printf("  failure_threshold=%d  window=%s  cooldown=%s\n",
			cfg.Breaker.FailureThreshold, cfg.Breaker.Window, cfg.Breaker.Cooldown)

		fmt.Println()
		header.Println("Model")
		fmt.Printf("  %s", cfg.Anthropic.Model)
		if cfg.Anthropic.UseBedrock {
			fmt.Print("  (via AWS Bedrock)")
		}
		fmt.Println()
		return nil
	},
}
