// Package topk keeps the best-scoring entries of a scored collection.
package topk

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/types"
)

// Unbounded is the budget that keeps everything.
const Unbounded = -1

// Select returns the k best items for side under the scored order: score
// descending, then key ascending. A negative k keeps every item; k at or
// above len(items) keeps the whole collection. items is not modified.
func Select(items []types.Example, side types.SplitKey, k int) []types.Example {
	out := make([]types.Example, len(items))
	copy(out, items)
	types.SortScored(out, side)
	if k >= 0 && k < len(out) {
		out = out[:k]
	}
	return out
}

// Selector writes the k best entries of a scored collection to a new
// collection.
type Selector interface {
	Select(ctx context.Context, in, out string, side types.SplitKey, k int) (int, error)
}

// Stage is the batch implementation of Selector.
type Stage struct {
	proc batch.Processor
	log  *zap.Logger
}

// NewStage creates a top-k stage.
func NewStage(proc batch.Processor, log *zap.Logger) *Stage {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stage{proc: proc, log: log}
}

// Select reads the scored collection at in and writes the k best entries
// to <out>/part-00000 in the seed format. Returns the number kept.
func (s *Stage) Select(ctx context.Context, in, out string, side types.SplitKey, k int) (int, error) {
	if !side.IsValid() {
		return 0, fmt.Errorf("invalid side %q", side)
	}

	kept := 0
	job := batch.Job{
		Name:   fmt.Sprintf("top-%d-%ss", k, side),
		Input:  in,
		Output: out,
		Reduce: func(ctx context.Context) error {
			items, err := seqfile.Read[types.Example](in)
			if err != nil {
				return fmt.Errorf("reading %s: %w", in, err)
			}
			top := Select(items, side, k)
			if err := seqfile.Write(filepath.Join(out, seqfile.PartName(0)), top); err != nil {
				return err
			}
			kept = len(top)
			s.log.Debug("top-k selected",
				zap.String("side", string(side)),
				zap.Int("budget", k),
				zap.Int("candidates", len(items)),
				zap.Int("kept", kept))
			return nil
		},
	}
	if err := s.proc.RunJob(ctx, job); err != nil {
		return 0, err
	}
	return kept, nil
}
