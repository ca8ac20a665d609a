package score

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/combine"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/types"
)

// ListingName is the human-readable ranked listing for side k.
func ListingName(k types.SplitKey) string {
	return "scored-" + string(k) + "s"
}

// RawName is the seed-compatible scored collection for side k.
func RawName(k types.SplitKey) string {
	return ListingName(k) + "-raw"
}

// Stage runs scoring jobs.
type Stage struct {
	proc       batch.Processor
	partitions int
	log        *zap.Logger
}

// NewStage creates a scoring stage. Candidates are scored in partitions
// map tasks; zero or less means one.
func NewStage(proc batch.Processor, partitions int, log *zap.Logger) *Stage {
	if partitions <= 0 {
		partitions = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Stage{proc: proc, partitions: partitions, log: log}
}

// Run scores the combined collection at in and writes the ranked listing
// and the raw scored collection under out. It returns the number of
// candidates scored.
func (s *Stage) Run(ctx context.Context, cfg ScorerConfig, in, out string) (int, error) {
	if cfg == nil {
		return 0, fmt.Errorf("scorer config cannot be nil")
	}
	side := cfg.side()
	if !side.IsValid() {
		return 0, fmt.Errorf("invalid scoring side %q", side)
	}
	scorer := cfg.scorer()
	if scorer == nil {
		if _, ok := cfg.(NoScorer); !ok {
			return 0, fmt.Errorf("%T has no scorer", cfg)
		}
	}
	start := time.Now()

	groups, err := seqfile.Read[types.Group](in)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", in, err)
	}
	stats, err := readStats(in)
	if err != nil {
		return 0, err
	}
	candidates, err := Candidates(groups, side)
	if err != nil {
		return 0, err
	}

	scores := make([]float64, len(candidates))
	tasks := make([]batch.Task, 0, s.partitions)
	for p := 0; p < s.partitions && p < len(candidates); p++ {
		p := p
		tasks = append(tasks, func(ctx context.Context) error {
			for i := p; i < len(candidates); i += s.partitions {
				if scorer == nil {
					continue
				}
				v, err := scoreOne(scorer, &candidates[i], stats)
				if err != nil {
					return err
				}
				scores[i] = v
			}
			return nil
		})
	}

	job := batch.Job{
		Name:   "score-" + string(side) + "s",
		Input:  in,
		Output: out,
		Map:    tasks,
		Reduce: func(ctx context.Context) error {
			ranked := rank(candidates, scores, side)
			if err := seqfile.Write(filepath.Join(out, RawName(side)), ranked); err != nil {
				return err
			}
			return writeListing(filepath.Join(out, ListingName(side)), ranked, side)
		},
	}
	if err := s.proc.RunJob(ctx, job); err != nil {
		return 0, err
	}

	s.log.Info("scoring finished",
		zap.String("side", string(side)),
		zap.Int("candidates", len(candidates)),
		zap.Bool("stats", stats != nil),
		zap.Duration("elapsed", time.Since(start)))
	return len(candidates), nil
}

func scoreOne(scorer Scorer, c *Candidate, stats *types.GlobalStats) (float64, error) {
	v, err := scorer.Score(c, stats)
	if err != nil {
		var scoringErr *types.ScoringError
		if errors.As(err, &scoringErr) {
			return 0, err
		}
		return 0, &types.ScoringError{Key: c.Key, Reason: err.Error()}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &types.ScoringError{Key: c.Key, Reason: fmt.Sprintf("score is not finite (%v)", v)}
	}
	return v, nil
}

func readStats(in string) (*types.GlobalStats, error) {
	path := filepath.Join(in, combine.StatsFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	stats := types.NewGlobalStats()
	if err := seqfile.ReadJSON(path, stats); err != nil {
		return nil, fmt.Errorf("failed to read statistics: %w", err)
	}
	return stats, nil
}

// Candidates regroups combined evidence by side. Candidates are returned
// sorted by key; each one's SeedCount is the number of distinct keys of
// the opposite side across all groups.
func Candidates(groups []types.Group, side types.SplitKey) ([]Candidate, error) {
	bySide := make(map[string][]types.Example)
	seeds := make(map[string]bool)
	for _, g := range groups {
		for _, ev := range g.Examples {
			key := ev.Key(side)
			if key == "" || ev.Key(side.Opposite()) == "" {
				return nil, &types.ScoringError{Key: g.Key, Reason: fmt.Sprintf("evidence without %s and %s", types.KeyPattern, types.KeyContext)}
			}
			if ev.Matches <= 0 {
				return nil, &types.ScoringError{Key: key, Reason: fmt.Sprintf("non-positive match count %d", ev.Matches)}
			}
			bySide[key] = append(bySide[key], ev)
			seeds[ev.Key(side.Opposite())] = true
		}
	}

	keys := make([]string, 0, len(bySide))
	for k := range bySide {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	candidates := make([]Candidate, len(keys))
	for i, k := range keys {
		candidates[i] = Candidate{Key: k, Side: side, Evidence: bySide[k], SeedCount: len(seeds)}
	}
	return candidates, nil
}

// rank builds one scored example per candidate, best first.
func rank(candidates []Candidate, scores []float64, side types.SplitKey) []types.Example {
	out := make([]types.Example, len(candidates))
	for i, c := range candidates {
		ex := types.Example{Score: scores[i]}
		ex.SetKey(side, c.Key)
		for _, ev := range c.Evidence {
			ex.Matches += ev.Matches
			if side == types.KeyPattern {
				ex.PatternTotal = ev.PatternTotal
			} else {
				ex.ContextTotal = ev.ContextTotal
			}
		}
		out[i] = ex
	}
	types.SortScored(out, side)
	return out
}

func writeListing(path string, ranked []types.Example, side types.SplitKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, ex := range ranked {
		fmt.Fprintf(w, "%s\t%s\t%d\n", ex.Key(side), strconv.FormatFloat(ex.Score, 'g', -1, 64), ex.Matches)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
