package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/corpus"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/types"
)

// collectKeys returns the distinct patterns and contexts present in the
// chunk outputs below root, sorted.
func collectKeys(root string) (patterns, contexts []string, err error) {
	files, err := filepath.Glob(filepath.Join(root, "*", "part-*"))
	if err != nil {
		return nil, nil, err
	}
	seenP := make(map[string]bool)
	seenC := make(map[string]bool)
	for _, f := range files {
		examples, err := seqfile.Read[types.Example](f)
		if err != nil {
			return nil, nil, fmt.Errorf("reading chunk output %s: %w", f, err)
		}
		for _, ex := range examples {
			if ex.Pattern != "" && !seenP[ex.Pattern] {
				seenP[ex.Pattern] = true
				patterns = append(patterns, ex.Pattern)
			}
			if ex.Context != "" && !seenC[ex.Context] {
				seenC[ex.Context] = true
				contexts = append(contexts, ex.Context)
			}
		}
	}
	sort.Strings(patterns)
	sort.Strings(contexts)
	return patterns, contexts, nil
}

// runStats computes corpus-wide totals for every key found in the chunk
// outputs below root and writes them as a GlobalStats document at path.
// Pattern and context totals are counted by two concurrent map tasks.
func (s *Stage) runStats(ctx context.Context, c corpus.Corpus, root, path string) (*types.GlobalStats, error) {
	patterns, contexts, err := collectKeys(root)
	if err != nil {
		return nil, err
	}

	stats := types.NewGlobalStats()
	var patternSize, contextSize int64
	job := batch.Job{
		Name:  "global-stats",
		Input: root,
		Map: []batch.Task{
			func(ctx context.Context) error {
				totals, size, err := s.extractor.Totals(ctx, c, types.KeyPattern, patterns)
				if err != nil {
					return fmt.Errorf("pattern totals: %w", err)
				}
				stats.Patterns, patternSize = totals, size
				return nil
			},
			func(ctx context.Context) error {
				totals, size, err := s.extractor.Totals(ctx, c, types.KeyContext, contexts)
				if err != nil {
					return fmt.Errorf("context totals: %w", err)
				}
				stats.Contexts, contextSize = totals, size
				return nil
			},
		},
		Reduce: func(ctx context.Context) error {
			stats.CorpusSize = max(patternSize, contextSize)
			return seqfile.WriteJSON(path, stats)
		},
	}
	if err := s.proc.RunJob(ctx, job); err != nil {
		return nil, err
	}
	return stats, nil
}
