package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/espresso/internal/score"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/topk"
	"github.com/steveyegge/espresso/internal/types"
)

var topCmd = &cobra.Command{
	Use:   "top <collection>",
	Short: "Print the best entries of a scored collection",
	Long: `Print the best-scoring entries of a scored collection.

The collection is a scored-*-raw file or the directory holding one
(e.g. out/3/patterns-scored).

Examples:
  espresso top out/3/patterns-scored
  espresso top out/3/contexts-scored --side context -n 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		sideName, _ := cmd.Flags().GetString("side")
		side, err := types.ParseSplitKey(sideName)
		if err != nil {
			return &types.ConfigurationError{Field: "side", Reason: err.Error()}
		}
		return printTop(args[0], side, limit, cmd.OutOrStdout())
	},
}

func init() {
	topCmd.Flags().IntP("limit", "n", 20, "Number of entries to print (negative = all)")
	topCmd.Flags().String("side", string(types.KeyPattern), "Entity type of the collection (pattern, context)")
	rootCmd.AddCommand(topCmd)
}

// resolveScored maps a scoring output directory to its raw collection.
func resolveScored(path string, side types.SplitKey) string {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return path
	}
	raw := filepath.Join(path, score.RawName(side))
	if _, err := os.Stat(raw); err == nil {
		return raw
	}
	return path
}

func printTop(path string, side types.SplitKey, limit int, out io.Writer) error {
	items, err := seqfile.ReadExamples(resolveScored(path, side), side)
	if err != nil {
		return err
	}
	best := topk.Select(items, side, limit)

	cyan := color.New(color.FgCyan).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Fprintf(out, "\n%s (%d of %d):\n\n", cyan("Top "+string(side)+"s"), len(best), len(items))
	for i, e := range best {
		fmt.Fprintf(out, "  %3d. %-40s %10.4f  %s\n", i+1, e.Key(side), e.Score, gray(fmt.Sprintf("%d matches", e.Matches)))
	}
	fmt.Fprintln(out)
	return nil
}
