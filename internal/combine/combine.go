// Package combine merges per-chunk extraction outputs into one collection
// keyed by the split key.
package combine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/types"
)

// StatsFile is the name under which global statistics are stored next to
// a combined collection.
const StatsFile = "_stats"

// Combiner runs combine jobs.
type Combiner struct {
	proc       batch.Processor
	maxSources int
	log        *zap.Logger
}

// New creates a combiner. maxSources caps the source locations kept per
// (pattern, context) pair; zero or less keeps all of them.
func New(proc batch.Processor, maxSources int, log *zap.Logger) *Combiner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Combiner{proc: proc, maxSources: maxSources, log: log}
}

// Run merges the numbered chunk outputs below examplesRoot into out.
// statsPath, when non-empty, names a GlobalStats document whose totals are
// folded into the evidence. The number of chunk outputs must equal
// totalSplits. Returns the number of groups written.
func (c *Combiner) Run(ctx context.Context, examplesRoot, statsPath string, key types.SplitKey, totalSplits int, out string) (int, error) {
	if !key.IsValid() {
		return 0, fmt.Errorf("invalid split key %q", key)
	}

	dirs, err := chunkDirs(examplesRoot)
	if err != nil {
		return 0, err
	}
	if len(dirs) != totalSplits {
		return 0, &types.ConsistencyError{Root: examplesRoot, Expected: totalSplits, Actual: len(dirs)}
	}

	var stats *types.GlobalStats
	if statsPath != "" {
		stats = types.NewGlobalStats()
		if err := seqfile.ReadJSON(statsPath, stats); err != nil {
			return 0, fmt.Errorf("failed to read statistics: %w", err)
		}
	}

	parts := make([][]types.Example, len(dirs))
	tasks := make([]batch.Task, len(dirs))
	for i, dir := range dirs {
		i, dir := i, dir
		tasks[i] = func(ctx context.Context) error {
			examples, err := seqfile.Read[types.Example](dir)
			if err != nil {
				return fmt.Errorf("reading chunk output %s: %w", dir, err)
			}
			parts[i] = examples
			return nil
		}
	}

	groups := 0
	job := batch.Job{
		Name:   "combine-" + string(key),
		Input:  examplesRoot,
		Output: out,
		Map:    tasks,
		Reduce: func(ctx context.Context) error {
			merged := Merge(parts, key, stats, c.maxSources)
			if err := seqfile.Write(filepath.Join(out, seqfile.PartName(0)), merged); err != nil {
				return err
			}
			if stats != nil {
				if err := seqfile.WriteJSON(filepath.Join(out, StatsFile), stats); err != nil {
					return fmt.Errorf("failed to copy statistics: %w", err)
				}
			}
			groups = len(merged)
			return nil
		},
	}
	if err := c.proc.RunJob(ctx, job); err != nil {
		return 0, err
	}

	c.log.Debug("combine complete",
		zap.String("input", examplesRoot),
		zap.Int("splits", totalSplits),
		zap.Int("groups", groups))
	return groups, nil
}

type pair struct {
	pattern string
	context string
}

// Merge aggregates evidence into one group per key value. Evidence for the
// same (pattern, context) pair is folded: matches summed, sources unioned
// and capped, weight set to the maximum. The result is sorted by key, and
// each group's examples by pattern then context.
func Merge(parts [][]types.Example, key types.SplitKey, stats *types.GlobalStats, maxSources int) []types.Group {
	pairs := make(map[pair]*types.Example)
	sources := make(map[pair]map[string]bool)
	for _, part := range parts {
		for _, ex := range part {
			p := pair{ex.Pattern, ex.Context}
			agg, ok := pairs[p]
			if !ok {
				agg = &types.Example{Pattern: ex.Pattern, Context: ex.Context, Weight: ex.Weight}
				pairs[p] = agg
				sources[p] = make(map[string]bool)
			}
			agg.Matches += ex.Matches
			if ex.Weight > agg.Weight {
				agg.Weight = ex.Weight
			}
			for _, s := range ex.Sources {
				sources[p][s] = true
			}
		}
	}

	byKey := make(map[string][]types.Example)
	for p, agg := range pairs {
		agg.Sources = capSources(sources[p], maxSources)
		if stats != nil {
			agg.PatternTotal = stats.Patterns[agg.Pattern]
			agg.ContextTotal = stats.Contexts[agg.Context]
		}
		k := agg.Key(key)
		byKey[k] = append(byKey[k], *agg)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([]types.Group, 0, len(keys))
	for _, k := range keys {
		examples := byKey[k]
		sort.Slice(examples, func(i, j int) bool {
			if examples[i].Pattern != examples[j].Pattern {
				return examples[i].Pattern < examples[j].Pattern
			}
			return examples[i].Context < examples[j].Context
		})
		g := types.Group{Key: k, SplitKey: key, Examples: examples}
		if stats != nil {
			g.Total = stats.Totals(key)[k]
		}
		groups = append(groups, g)
	}
	return groups
}

func capSources(set map[string]bool, max int) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// chunkDirs returns the numbered subdirectories of root in numeric order.
// A missing root has none.
func chunkDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	type numbered struct {
		n    int
		path string
	}
	var found []numbered
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil || n < 0 {
			continue
		}
		found = append(found, numbered{n, filepath.Join(root, e.Name())})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	dirs := make([]string, len(found))
	for i, f := range found {
		dirs[i] = f.path
	}
	return dirs, nil
}
