// Command espresso harvests textual patterns from a corpus by bootstrapping
// from a handful of seed patterns.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/steveyegge/espresso/internal/types"
)

var (
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "espresso",
	Short: "Bootstrapped pattern harvesting",
	Long: `espresso expands a small set of seed patterns ("X is a Y") into a large
set of related patterns by alternately harvesting contexts from patterns and
patterns from contexts over a text corpus, keeping only the best-scoring
contexts each round.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// getLogger returns the command logger, or a no-op logger when the root
// command's pre-run hook has not run (tests).
func getLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(types.ExitCode(err))
	}
}
