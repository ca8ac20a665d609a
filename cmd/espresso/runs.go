package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/espresso/internal/config"
	"github.com/steveyegge/espresso/internal/storage"
	"github.com/steveyegge/espresso/internal/types"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List journaled harvest runs or show one run's rounds",
	Long: `Show harvest runs recorded in the run journal.

Without arguments, lists the most recent runs. With a run ID, shows each
round of that run and the last completed round, which is the recovery
point after a failure.

Examples:
  espresso runs --output out/                 # Runs journaled under out/
  espresso runs --journal runs.db -n 5        # Last 5 runs
  espresso runs --output out/ 3f2a...         # Rounds of one run`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		journalPath, _ := cmd.Flags().GetString("journal")
		output, _ := cmd.Flags().GetString("output")
		limit, _ := cmd.Flags().GetInt("limit")

		path, err := resolveJournal(journalPath, output)
		if err != nil {
			return err
		}
		ctx := context.Background()
		journal, err := storage.NewJournal(ctx, &storage.Config{Path: path})
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() { _ = journal.Close() }()

		if len(args) == 1 {
			return showRun(ctx, journal, args[0], cmd.OutOrStdout())
		}
		return listRuns(ctx, journal, limit, cmd.OutOrStdout())
	},
}

func init() {
	runsCmd.Flags().String("journal", "", "Run journal database")
	runsCmd.Flags().StringP("output", "o", "", "Harvest output directory holding the default journal")
	runsCmd.Flags().IntP("limit", "n", 20, "Number of runs to list (0 = all)")
	rootCmd.AddCommand(runsCmd)
}

func resolveJournal(journalPath, output string) (string, error) {
	if journalPath != "" {
		return journalPath, nil
	}
	if output != "" {
		return filepath.Join(output, config.DefaultJournalName), nil
	}
	return "", &types.ConfigurationError{Field: "journal", Reason: "pass --journal or --output"}
}

func statusColor(status string) func(a ...interface{}) string {
	switch status {
	case string(types.RunSucceeded), string(types.RoundCompleted):
		return color.New(color.FgGreen).SprintFunc()
	case string(types.RunFailed): // also RoundFailed
		return color.New(color.FgRed).SprintFunc()
	default:
		return color.New(color.FgYellow).SprintFunc()
	}
}

func listRuns(ctx context.Context, journal storage.Journal, limit int, out io.Writer) error {
	runs, err := journal.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintf(out, "\n%s No runs recorded\n\n", yellow("✨"))
		return nil
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(out, "\n%s (%d):\n\n", cyan("Harvest runs"), len(runs))
	for _, run := range runs {
		c := statusColor(string(run.Status))
		fmt.Fprintf(out, "  %s  %-9s  rounds %d/%d  started %s  %s\n",
			run.ID, c(string(run.Status)), run.LastRound, run.Iterations,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"), elapsed(run.StartedAt, run.FinishedAt))
		if run.Error != "" {
			fmt.Fprintf(out, "      %s\n", run.Error)
		}
	}
	fmt.Fprintln(out)
	return nil
}

func showRun(ctx context.Context, journal storage.Journal, id string, out io.Writer) error {
	run, err := journal.GetRun(ctx, id)
	if err != nil {
		return err
	}
	rounds, err := journal.GetRounds(ctx, id)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	c := statusColor(string(run.Status))
	fmt.Fprintf(out, "\n%s\n", cyan("=== Run "+run.ID+" ==="))
	fmt.Fprintf(out, "  Status:     %s\n", c(string(run.Status)))
	fmt.Fprintf(out, "  Output:     %s\n", run.Output)
	fmt.Fprintf(out, "  Started:    %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  Duration:   %s\n", elapsed(run.StartedAt, run.FinishedAt))
	fmt.Fprintf(out, "  Recovery:   round %d of %d\n", run.LastRound, run.Iterations)
	if run.Error != "" {
		fmt.Fprintf(out, "  Error:      %s\n", run.Error)
	}
	fmt.Fprintf(out, "  Config:     %s\n", run.Config)

	fmt.Fprintf(out, "\n  %-5s %-10s %-7s %-9s %-6s %-9s %s\n",
		"ROUND", "STATUS", "BUDGET", "CONTEXTS", "KEPT", "PATTERNS", "DURATION")
	for _, r := range rounds {
		rc := statusColor(string(r.Status))
		fmt.Fprintf(out, "  %-5d %-10s %-7s %-9d %-6d %-9d %s\n",
			r.Round, rc(string(r.Status)), budgetString(r.Budget), r.ContextsScored,
			r.ContextsKept, r.PatternsScored, r.Duration().Round(time.Millisecond))
		if r.Error != "" {
			fmt.Fprintf(out, "        %s\n", r.Error)
		}
	}
	fmt.Fprintln(out)
	return nil
}

func elapsed(start time.Time, finished *time.Time) string {
	if finished == nil {
		return "running"
	}
	return finished.Sub(start).Round(time.Millisecond).String()
}
