// Package score ranks harvested candidates.
//
// A Scorer is a pure function from a candidate (one key of the scored side
// and all evidence linking it to the seeds of the other side) plus the
// optional global statistics to a score. The Stage regroups a combined
// collection by the scored side, scores every candidate on the batch
// processor, and writes the ranked result.
package score

import (
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/espresso/internal/types"
)

// Candidate is one key of the scored side with its evidence.
type Candidate struct {
	Key  string
	Side types.SplitKey

	// Evidence holds one example per seed the candidate was found with.
	Evidence []types.Example

	// SeedCount is the number of distinct seeds across the whole scored
	// collection.
	SeedCount int
}

// Scorer assigns a score to a candidate.
type Scorer interface {
	Score(c *Candidate, stats *types.GlobalStats) (float64, error)
}

// ScorerConfig selects what a Stage scores. It is one of PatternScorer,
// ContextScorer, or NoScorer.
type ScorerConfig interface {
	side() types.SplitKey
	scorer() Scorer
}

// PatternScorer scores patterns.
type PatternScorer struct{ Scorer Scorer }

// ContextScorer scores contexts.
type ContextScorer struct{ Scorer Scorer }

// NoScorer ranks the candidates of Side without scoring them: every score
// is zero, so the order is by key.
type NoScorer struct{ Side types.SplitKey }

func (c PatternScorer) side() types.SplitKey { return types.KeyPattern }
func (c PatternScorer) scorer() Scorer       { return c.Scorer }
func (c ContextScorer) side() types.SplitKey { return types.KeyContext }
func (c ContextScorer) scorer() Scorer       { return c.Scorer }
func (c NoScorer) side() types.SplitKey      { return c.Side }
func (c NoScorer) scorer() Scorer            { return nil }

// Factory builds a scorer from its parsed arguments.
type Factory func(args types.Args) (Scorer, error)

var registry = map[string]Factory{
	"espresso":  newEspressoScorer,
	"frequency": newFrequencyScorer,
}

// Classes returns the registered scorer class names, sorted.
func Classes() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New resolves class and builds the scorer from args.
func New(class, args string) (Scorer, error) {
	factory, ok := registry[class]
	if !ok {
		return nil, fmt.Errorf("unknown scorer class %q (available: %s, %s)", class, strings.Join(Classes(), ", "), NoneClass)
	}
	parsed, err := types.ParseArgs(args)
	if err != nil {
		return nil, fmt.Errorf("scorer %s: %w", class, err)
	}
	s, err := factory(parsed)
	if err != nil {
		return nil, fmt.Errorf("scorer %s: %w", class, err)
	}
	return s, nil
}

// NoneClass is the scorer class that ranks candidates by key alone.
const NoneClass = "none"

// Configs resolves class into the configurations that score contexts and
// patterns. NoneClass yields NoScorer for both sides and takes no args.
func Configs(class, args string) (contexts, patterns ScorerConfig, err error) {
	if class == NoneClass {
		if strings.TrimSpace(args) != "" {
			return nil, nil, fmt.Errorf("scorer %s takes no arguments", NoneClass)
		}
		return NoScorer{Side: types.KeyContext}, NoScorer{Side: types.KeyPattern}, nil
	}
	s, err := New(class, args)
	if err != nil {
		return nil, nil, err
	}
	return ContextScorer{Scorer: s}, PatternScorer{Scorer: s}, nil
}

func checkArgs(args types.Args, known ...string) error {
	if unknown := args.Unknown(known...); len(unknown) > 0 {
		return fmt.Errorf("unknown arguments: %s", strings.Join(unknown, ", "))
	}
	return nil
}
