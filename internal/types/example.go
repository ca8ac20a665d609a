package types

import (
	"fmt"
	"sort"
	"strings"
)

// SplitKey names the field examples are grouped by before extraction.
type SplitKey string

const (
	KeyPattern SplitKey = "pattern"
	KeyContext SplitKey = "context"
)

// IsValid checks if the split key value is valid
func (k SplitKey) IsValid() bool {
	switch k {
	case KeyPattern, KeyContext:
		return true
	}
	return false
}

// Opposite returns the entity type an extraction from k produces.
func (k SplitKey) Opposite() SplitKey {
	if k == KeyPattern {
		return KeyContext
	}
	return KeyPattern
}

// ParseSplitKey parses "pattern" or "context".
func ParseSplitKey(s string) (SplitKey, error) {
	k := SplitKey(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("invalid split key %q (want pattern or context)", s)
	}
	return k, nil
}

// Example is a keyed unit of work: a (pattern, context) pair and the
// evidence connecting them. Seeds carry only one side.
type Example struct {
	Pattern string `json:"pattern,omitempty"`
	Context string `json:"context,omitempty"`

	// Matches is the number of corpus occurrences backing the pair.
	Matches int64 `json:"matches,omitempty"`

	// Sources holds up to a configured number of "doc:line" locations.
	Sources []string `json:"sources,omitempty"`

	// Weight is the score of the seed this example was extracted from.
	Weight float64 `json:"weight,omitempty"`

	// Score is assigned to the example's own key by a Scoring Stage.
	Score float64 `json:"score,omitempty"`

	// Global totals folded in by the Combine Stage when statistics exist.
	PatternTotal int64 `json:"pattern_total,omitempty"`
	ContextTotal int64 `json:"context_total,omitempty"`
}

// Key returns the example's value for the given split key.
func (e *Example) Key(k SplitKey) string {
	if k == KeyContext {
		return e.Context
	}
	return e.Pattern
}

// SetKey sets the field named by k.
func (e *Example) SetKey(k SplitKey, v string) {
	if k == KeyContext {
		e.Context = v
		return
	}
	e.Pattern = v
}

// Validate checks that the example can be used as a seed for split key k.
func (e *Example) Validate(k SplitKey) error {
	if strings.TrimSpace(e.Key(k)) == "" {
		return fmt.Errorf("%s is required", k)
	}
	if e.Matches < 0 {
		return fmt.Errorf("matches cannot be negative (got %d)", e.Matches)
	}
	return nil
}

// Group is one record of a combined collection: every piece of evidence
// for a single split-key value.
type Group struct {
	Key      string    `json:"key"`
	SplitKey SplitKey  `json:"split_key"`
	Total    int64     `json:"total,omitempty"`
	Examples []Example `json:"examples"`
}

// Less reports whether a ranks before b for side k: higher score first,
// then key ascending.
func Less(a, b *Example, k SplitKey) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Key(k) < b.Key(k)
}

// SortScored orders examples best first using Less.
func SortScored(examples []Example, k SplitKey) {
	sort.SliceStable(examples, func(i, j int) bool {
		return Less(&examples[i], &examples[j], k)
	})
}

// PairKey joins an instance pair into a context key ("x|y").
func PairKey(x, y string) string {
	return x + "|" + y
}

// SplitPair is the inverse of PairKey.
func SplitPair(context string) (x, y string, ok bool) {
	x, y, ok = strings.Cut(context, "|")
	if !ok || x == "" || y == "" {
		return "", "", false
	}
	return x, y, true
}

// CorpusRef is an opaque handle to the text corpus. It is never mutated.
type CorpusRef struct {
	Path  string
	Class string
}

func (c CorpusRef) String() string {
	return fmt.Sprintf("%s (%s)", c.Path, c.Class)
}

// GlobalStats holds corpus-wide totals for the keys seen in one
// extraction.
type GlobalStats struct {
	CorpusSize int64            `json:"corpus_size"`
	Patterns   map[string]int64 `json:"patterns"`
	Contexts   map[string]int64 `json:"contexts"`
}

// NewGlobalStats returns empty statistics.
func NewGlobalStats() *GlobalStats {
	return &GlobalStats{
		Patterns: make(map[string]int64),
		Contexts: make(map[string]int64),
	}
}

// Totals returns the map for side k.
func (s *GlobalStats) Totals(k SplitKey) map[string]int64 {
	if k == KeyContext {
		return s.Contexts
	}
	return s.Patterns
}
