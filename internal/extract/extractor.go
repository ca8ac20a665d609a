// Package extract harvests one entity type from the corpus given seeds of
// the other: contexts from patterns, or patterns from contexts.
//
// The Extractor is the pluggable capability that knows how to match seeds
// against corpus text. The Stage drives it per chunk on the batch
// processor and produces a combined collection: split, extract each
// chunk, optionally gather global statistics, combine, and finally remove
// the temporary split directory.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/espresso/internal/corpus"
	"github.com/steveyegge/espresso/internal/types"
)

// ErrInvalidSeed is wrapped by extractor errors caused by a seed the
// extractor cannot interpret.
var ErrInvalidSeed = errors.New("invalid seed")

// Extractor produces examples of the target type from seeds of the other
// type.
type Extractor interface {
	// Extract scans the corpus for every seed and returns one example per
	// (pattern, context) pair with at least minMatches occurrences. Each
	// example carries the seed's score as its weight.
	Extract(ctx context.Context, seeds []types.Example, c corpus.Corpus, target types.SplitKey, minMatches int) ([]types.Example, error)

	// Totals counts corpus-wide occurrences of each key of the given side
	// and returns them together with the corpus size in sentences.
	Totals(ctx context.Context, c corpus.Corpus, side types.SplitKey, keys []string) (map[string]int64, int64, error)
}

// Options are the settings shared by all extractor classes.
type Options struct {
	// MaxSources caps the "doc:line" locations kept per example.
	MaxSources int
}

// Factory builds an extractor from its parsed arguments.
type Factory func(args types.Args, opts Options) (Extractor, error)

var registry = map[string]Factory{
	"slot": newSlotExtractor,
}

// Classes returns the registered extractor class names, sorted.
func Classes() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New resolves class and builds the extractor from args.
func New(class, args string, opts Options) (Extractor, error) {
	factory, ok := registry[class]
	if !ok {
		return nil, fmt.Errorf("unknown extractor class %q (available: %s)", class, strings.Join(Classes(), ", "))
	}
	parsed, err := types.ParseArgs(args)
	if err != nil {
		return nil, fmt.Errorf("extractor %s: %w", class, err)
	}
	ex, err := factory(parsed, opts)
	if err != nil {
		return nil, fmt.Errorf("extractor %s: %w", class, err)
	}
	return ex, nil
}
