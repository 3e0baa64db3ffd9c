package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skellig/convoke/internal/breaker"
	"github.com/skellig/convoke/internal/config"
	"github.com/skellig/convoke/internal/dispatch"
	"github.com/skellig/convoke/internal/orchestrator"
	"github.com/skellig/convoke/internal/state"
	"github.com/skellig/convoke/internal/worker"
	"github.com/skellig/convoke/pkg/models"
)

var (
	runStrategy  string
	runNoHistory bool
	runVerbose   bool
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Run one coordination cycle for a request",
	Long: `Analyze a request, dispatch it to specialist workers, and print
the synthesized result.

One Claude-backed worker is registered per lexicon capability. The
analyzer picks the coordination strategy from the request's complexity;
--strategy forces one of sequential, parallel, hierarchical, consensus.

Examples:
  convoke run "scan the auth service for injection vulnerabilities"
  convoke run --strategy consensus "why is the cache flapping?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Force a coordination strategy")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "Skip recording the cycle to the history database")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Print per-worker progress while dispatching")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	override, err := pickStrategy(cfg)
	if err != nil {
		return err
	}

	coord, watcher, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}
	shutdown := func() {
		if watcher != nil {
			watcher.Close()
		}
		coord.Close()
	}
	defer shutdown()

	if err := registerSpecialists(coord, cfg); err != nil {
		return err
	}

	if runVerbose {
		go printProgress(coord.Events())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := models.TaskRequest{Text: strings.Join(args, " ")}
	result, err := coord.Handle(ctx, req, override)
	if err != nil {
		return fmt.Errorf("coordination failed: %w", err)
	}

	renderResult(result)

	if !runNoHistory {
		if err := recordHistory(req, result); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not record history: %v\n", err)
		}
	}

	if result.Failed() {
		// os.Exit skips deferred closers; flush the debug log and stop
		// the watcher before reporting the degraded exit code.
		shutdown()
		os.Exit(1)
	}
	return nil
}

// pickStrategy resolves the strategy override from the flag, then the
// config default.
func pickStrategy(cfg *config.Config) (models.Strategy, error) {
	if runStrategy != "" {
		s := models.Strategy(runStrategy)
		if !s.Valid() {
			return "", fmt.Errorf("invalid strategy %q (want sequential, parallel, hierarchical, or consensus)", runStrategy)
		}
		return s, nil
	}
	return cfg.Defaults.StrategyOverride(), nil
}

// buildCoordinator wires a coordinator from the loaded config. The
// returned watcher is non-nil when a lexicon file is being watched.
func buildCoordinator(cfg *config.Config) (*orchestrator.Coordinator, *config.LexiconWatcher, error) {
	coord, err := orchestrator.New(orchestrator.Config{
		ComplexStrategy: models.Strategy(cfg.Defaults.ComplexStrategy),
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Window:           cfg.Breaker.Window,
			Cooldown:         cfg.Breaker.Cooldown,
		},
		Dispatch: dispatch.Config{
			DefaultTimeout:     cfg.Dispatch.Timeout,
			CapabilityTimeouts: cfg.Dispatch.Timeouts(),
			ConsensusFanout:    cfg.Dispatch.ConsensusFanout,
		},
		DebugLogPath: cfg.DebugLog,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building coordinator: %w", err)
	}

	var watcher *config.LexiconWatcher
	if cfg.LexiconPath != "" {
		watcher, err = config.WatchLexicon(cfg.LexiconPath, coord.Analyzer())
		if err != nil {
			coord.Close()
			return nil, nil, fmt.Errorf("loading lexicon: %w", err)
		}
	}
	return coord, watcher, nil
}

// registerSpecialists registers one Claude-backed worker per lexicon
// capability.
func registerSpecialists(coord *orchestrator.Coordinator, cfg *config.Config) error {
	apiKey := ""
	if !cfg.Anthropic.UseBedrock {
		key, _, err := config.ResolveAPIKey(cfg)
		if err != nil {
			return fmt.Errorf("%w (set ANTHROPIC_API_KEY or anthropic.api_key)", err)
		}
		apiKey = key
	}

	lex := coord.Analyzer().Lexicon()
	caps := make([]models.Capability, 0, len(lex.Capabilities))
	for cap := range lex.Capabilities {
		caps = append(caps, cap)
	}
	lex.SortByPriority(caps)

	for _, cap := range caps {
		id := string(cap) + "-worker"
		w, err := worker.NewClaude(worker.ClaudeConfig{
			ID:            id,
			Capabilities:  []models.Capability{cap},
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        apiKey,
			UseAWSBedrock: cfg.Anthropic.UseBedrock,
		})
		if err != nil {
			return fmt.Errorf("creating worker %s: %w", id, err)
		}
		desc := &models.Worker{ID: id, Capabilities: []models.Capability{cap}}
		if err := coord.RegisterWorker(desc, w); err != nil {
			return fmt.Errorf("registering worker %s: %w", id, err)
		}
	}
	return nil
}

// printProgress streams dispatch progress to stderr.
func printProgress(events <-chan orchestrator.Event) {
	dim := color.New(color.Faint)
	for ev := range events {
		switch ev.Type {
		case orchestrator.EventAnalyzed:
			if ev.Analysis != nil {
				dim.Fprintf(os.Stderr, "[%s] strategy=%s capabilities=%v\n",
					ev.CycleID, ev.Analysis.Strategy, ev.Analysis.Capabilities)
			}
		case orchestrator.EventWorkerFinished:
			if ev.Outcome == nil {
				continue
			}
			mark := color.GreenString("✓")
			if !ev.Outcome.Success {
				mark = color.RedString("✗")
			}
			dim.Fprintf(os.Stderr, "[%s] %s %s (%s)\n",
				ev.CycleID, mark, ev.Outcome.WorkerID, ev.Outcome.Latency.Round(time.Millisecond))
		}
	}
}

// renderResult prints the synthesized result.
func renderResult(result *models.CoordinationResult) {
	header := color.New(color.Bold)

	header.Printf("Request %s", result.RequestID)
	fmt.Printf("  strategy=%s  confidence=%s  (%d/%d workers, %s)\n\n",
		result.Strategy, confidenceString(result), len(result.Provenance),
		result.Attempted, result.Duration.Round(time.Millisecond))

	if result.Summary != "" {
		fmt.Println(result.Summary)
		fmt.Println()
	}

	if len(result.Recommendations) > 0 {
		header.Println("Recommendations")
		for _, rec := range result.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
		fmt.Println()
	}

	if len(result.Failures) > 0 {
		color.New(color.FgYellow).Println("Degraded: some workers did not contribute")
		for _, f := range result.Failures {
			id := f.WorkerID
			if id == "" {
				id = "(unassigned)"
			}
			fmt.Printf("  ✗ %s %v: %s\n", id, f.Capabilities, f.Err)
		}
		fmt.Println()
	}

	if result.Failed() {
		color.New(color.FgRed).Println("No worker produced a usable answer.")
	}
}

// confidenceString colors the confidence score by band.
func confidenceString(result *models.CoordinationResult) string {
	s := fmt.Sprintf("%.2f", result.Confidence)
	switch {
	case result.Confidence >= 0.8:
		return color.GreenString(s)
	case result.Confidence >= 0.5:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

// recordHistory persists the cycle to the history database.
func recordHistory(req models.TaskRequest, result *models.CoordinationResult) error {
	db, err := state.OpenDefault()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}
	return db.RecordResult(req, result)
}
