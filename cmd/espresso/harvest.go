package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/espresso/internal/bootstrap"
	"github.com/steveyegge/espresso/internal/config"
	"github.com/steveyegge/espresso/internal/storage"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run a bootstrapped harvest",
	Long: `Run the bootstrapping rounds over a corpus, starting from a seed file.

Parameters are layered: defaults, then the YAML file given with --config,
then ESPRESSO_* environment variables, then flags.

Seed file format: one pattern per line, optional tab-separated weight,
'#' starts a comment.

Examples:
  espresso harvest --seeds seeds.txt --corpus wiki/ --output out/
  espresso harvest --config harvest.yaml --iterations 3
  espresso harvest --seeds seeds.txt --corpus docs.jsonl --corpus-class jsonl \
      --output out/ --num-contexts -1 --scorer frequency`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := applyFlags(cmd, &cfg); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runHarvest(ctx, cfg, cmd.OutOrStdout())
	},
}

func init() {
	f := harvestCmd.Flags()
	f.String("config", "", "YAML configuration file")
	f.String("seeds", "", "Seed pattern file")
	f.String("corpus", "", "Corpus file or directory")
	f.String("corpus-class", "", "Corpus class (text, jsonl)")
	f.String("extractor", "", "Extractor class (slot)")
	f.String("extractor-args", "", "Extractor arguments, e.g. mingap=1,maxgap=4")
	f.String("scorer", "", "Scorer class (espresso, frequency)")
	f.String("scorer-args", "", "Scorer arguments, e.g. discount=true")
	f.Int("num-contexts", 0, "Context budget per round unit (negative keeps every context)")
	f.Int("min-matches", 0, "Minimum occurrences of a (pattern, context) pair")
	f.IntP("iterations", "n", 0, "Number of bootstrapping rounds")
	f.StringP("output", "o", "", "Output directory")
	f.String("growth", "", "Budget growth policy (linear, fixed)")
	f.String("retention", "", "Retired round retention (immediate, deferred)")
	f.Int("chunk-size", 0, "Examples per split chunk")
	f.Int("parallelism", 0, "Concurrent batch tasks")
	f.Float64("task-rate", 0, "Batch task starts per second (0 = unlimited)")
	f.Int("max-sources", 0, "doc:line sources kept per example")
	f.String("journal", "", "Run journal database (default <output>/_journal.db)")
	f.Bool("no-journal", false, "Do not record the run in a journal")
	rootCmd.AddCommand(harvestCmd)
}

// applyFlags copies every flag set on the command line into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.HarvestConfig) error {
	flags := cmd.Flags()
	strs := map[string]*string{
		"seeds":          &cfg.SeedPath,
		"corpus":         &cfg.CorpusPath,
		"corpus-class":   &cfg.CorpusClass,
		"extractor":      &cfg.ExtractorClass,
		"extractor-args": &cfg.ExtractorArgs,
		"scorer":         &cfg.ScorerClass,
		"scorer-args":    &cfg.ScorerArgs,
		"output":         &cfg.OutputPath,
		"growth":         &cfg.Growth,
		"retention":      &cfg.Retention,
		"journal":        &cfg.JournalPath,
	}
	for name, dest := range strs {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dest = v
	}

	ints := map[string]*int{
		"num-contexts": &cfg.NumContexts,
		"min-matches":  &cfg.MinMatches,
		"iterations":   &cfg.Iterations,
		"chunk-size":   &cfg.ChunkSize,
		"parallelism":  &cfg.Parallelism,
		"max-sources":  &cfg.MaxSources,
	}
	for name, dest := range ints {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetInt(name)
		if err != nil {
			return err
		}
		*dest = v
	}

	if flags.Changed("task-rate") {
		v, err := flags.GetFloat64("task-rate")
		if err != nil {
			return err
		}
		cfg.TaskRate = v
	}
	if flags.Changed("no-journal") {
		v, err := flags.GetBool("no-journal")
		if err != nil {
			return err
		}
		cfg.NoJournal = v
	}
	return nil
}

// runHarvest validates cfg, opens the journal and runs the controller,
// printing a summary to out.
func runHarvest(ctx context.Context, cfg config.HarvestConfig, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := getLogger()

	var journal storage.Journal
	if path := cfg.Journal(); path != "" {
		j, err := storage.NewJournal(ctx, &storage.Config{Path: path})
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() { _ = j.Close() }()
		journal = j
	}

	metrics := bootstrap.NewInMemoryMetricsCollector()
	ctrl, err := bootstrap.New(bootstrap.Config{
		Harvest: cfg,
		Journal: journal,
		Metrics: metrics,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	result, runErr := ctrl.Run(ctx)
	printRounds(out, metrics)
	if runErr != nil {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Fprintf(out, "\n%s run %s failed; round directories under %s are left for inspection\n",
			yellow("⚠"), ctrl.RunID(), cfg.OutputPath)
		return runErr
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(out, "\n%s Harvest complete (run %s)\n", green("✓"), result.RunID)
	fmt.Fprintf(out, "  Rounds:    %d\n", result.Rounds)
	fmt.Fprintf(out, "  Patterns:  %d\n", result.PatternsScored)
	fmt.Fprintf(out, "  Listing:   %s\n", result.Listing)
	fmt.Fprintf(out, "  Seeds out: %s\n", result.Patterns)
	fmt.Fprintf(out, "  Elapsed:   %s\n", result.Elapsed.Round(time.Millisecond))
	return nil
}

func printRounds(out io.Writer, metrics *bootstrap.InMemoryMetricsCollector) {
	runs := metrics.GetRuns()
	if len(runs) == 0 {
		return
	}
	cyan := color.New(color.FgCyan).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Fprintf(out, "\n%s\n", cyan("Rounds:"))
	for _, r := range runs[len(runs)-1].Rounds {
		status := "ok"
		if r.Failed {
			status = red("failed")
		}
		fmt.Fprintf(out, "  %d  budget=%s contexts=%d kept=%d patterns=%d  %s  %s\n",
			r.Round, budgetString(r.Budget), r.ContextsScored, r.ContextsKept, r.PatternsScored,
			r.Duration.Round(time.Millisecond), status)
	}
}

func budgetString(budget int) string {
	if budget < 0 {
		return "all"
	}
	return fmt.Sprintf("%d", budget)
}
