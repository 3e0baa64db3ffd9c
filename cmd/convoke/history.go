package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/skellig/convoke/internal/state"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [request-id]",
	Short: "Show past coordination cycles",
	Long: `Show recent coordination cycles from the history database.

With a request ID, shows that cycle's per-worker outcomes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := state.OpenDefault()
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrating history database: %w", err)
		}

		if len(args) == 1 {
			return showCycle(db, args[0])
		}
		return showRecent(db)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of cycles to list")
}

func showRecent(db *state.DB) error {
	records, err := db.RecentCycles(historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No history yet.")
		return nil
	}

	for _, rec := range records {
		text := rec.RequestText
		if len(text) > 60 {
			text = text[:57] + "..."
		}
		fmt.Printf("%s  %s  %-12s %d/%d  %-8s %s\n",
			rec.RequestID,
			rec.CompletedAt.Local().Format(time.DateTime),
			rec.Strategy,
			rec.Succeeded, rec.Attempted,
			fmt.Sprintf("%.2f", rec.Confidence),
			text)
	}
	return nil
}

func showCycle(db *state.DB, requestID string) error {
	rec, outcomes, err := db.GetCycle(requestID)
	if err != nil {
		return err
	}

	header := color.New(color.Bold)
	header.Printf("Request %s\n", rec.RequestID)
	fmt.Printf("  %q\n", rec.RequestText)
	fmt.Printf("  strategy=%s confidence=%.2f workers=%d/%d duration=%s completed=%s\n\n",
		rec.Strategy, rec.Confidence, rec.Succeeded, rec.Attempted,
		rec.Duration, rec.CompletedAt.Local().Format(time.DateTime))

	if rec.Summary != "" {
		fmt.Println(rec.Summary)
		fmt.Println()
	}

	if len(outcomes) == 0 {
		return nil
	}
	header.Println("Outcomes")
	for _, o := range outcomes {
		mark := color.GreenString("✓")
		if !o.Success {
			mark = color.RedString("✗")
		}
		line := fmt.Sprintf("  %s %-24s %v  %s", mark, o.WorkerID, o.Capabilities, o.Latency)
		if o.TimedOut {
			line += "  (timed out)"
		}
		if o.Error != "" {
			line += "  " + o.Error
		}
		fmt.Println(line)
	}
	return nil
}
