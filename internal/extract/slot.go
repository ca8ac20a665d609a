package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/espresso/internal/corpus"
	"github.com/steveyegge/espresso/internal/types"
)

// Slot markers in a pattern template.
const (
	SlotX = "X"
	SlotY = "Y"
)

// slotExtractor treats patterns as token templates with one X and one Y
// slot, each filled by exactly one corpus token. Contexts are the "x|y"
// fillers. Safe for concurrent use.
type slotExtractor struct {
	minGap     int
	maxGap     int
	maxSources int
	analyzer   corpus.Analyzer
}

func newSlotExtractor(args types.Args, opts Options) (Extractor, error) {
	if unknown := args.Unknown("mingap", "maxgap"); len(unknown) > 0 {
		return nil, fmt.Errorf("unknown arguments: %s", strings.Join(unknown, ", "))
	}
	minGap, err := args.Int("mingap", 1)
	if err != nil {
		return nil, err
	}
	maxGap, err := args.Int("maxgap", 4)
	if err != nil {
		return nil, err
	}
	if minGap < 0 || maxGap < minGap {
		return nil, fmt.Errorf("need 0 <= mingap <= maxgap (got mingap=%d maxgap=%d)", minGap, maxGap)
	}
	return &slotExtractor{
		minGap:     minGap,
		maxGap:     maxGap,
		maxSources: opts.MaxSources,
		analyzer:   corpus.NewStandardAnalyzer(),
	}, nil
}

// template is a parsed pattern. Empty entries in terms are slots.
type template struct {
	text  string
	terms []string
	xPos  int
	yPos  int
}

func parseTemplate(pattern string, a corpus.Analyzer) (*template, error) {
	t := &template{text: pattern, xPos: -1, yPos: -1}
	for _, field := range strings.Fields(pattern) {
		switch field {
		case SlotX:
			if t.xPos >= 0 {
				return nil, fmt.Errorf("%w: pattern %q has more than one X slot", ErrInvalidSeed, pattern)
			}
			t.xPos = len(t.terms)
			t.terms = append(t.terms, "")
		case SlotY:
			if t.yPos >= 0 {
				return nil, fmt.Errorf("%w: pattern %q has more than one Y slot", ErrInvalidSeed, pattern)
			}
			t.yPos = len(t.terms)
			t.terms = append(t.terms, "")
		default:
			t.terms = append(t.terms, corpus.Terms(a, field)...)
		}
	}
	if t.xPos < 0 || t.yPos < 0 {
		return nil, fmt.Errorf("%w: pattern %q needs an X and a Y slot", ErrInvalidSeed, pattern)
	}
	return t, nil
}

// match calls fn with the slot fillers of every position where the
// template matches terms.
func (t *template) match(terms []string, fn func(x, y string)) {
	for start := 0; start+len(t.terms) <= len(terms); start++ {
		ok := true
		for i, want := range t.terms {
			if want != "" && terms[start+i] != want {
				ok = false
				break
			}
		}
		if ok {
			fn(terms[start+t.xPos], terms[start+t.yPos])
		}
	}
}

// instance is a parsed context seed.
type instance struct {
	text string
	x, y string
}

func parseInstance(context string) (instance, error) {
	x, y, ok := types.SplitPair(context)
	if !ok {
		return instance{}, fmt.Errorf("%w: context %q is not an x|y pair", ErrInvalidSeed, context)
	}
	return instance{text: context, x: strings.ToLower(x), y: strings.ToLower(y)}, nil
}

type evidence struct {
	matches int64
	weight  float64
	sources []string
}

type pairKey struct {
	pattern string
	context string
}

type collector struct {
	maxSources int
	pairs      map[pairKey]*evidence
}

func (c *collector) add(pattern, context string, weight float64, s corpus.Sentence) {
	k := pairKey{pattern, context}
	ev, ok := c.pairs[k]
	if !ok {
		ev = &evidence{weight: weight}
		c.pairs[k] = ev
	}
	ev.matches++
	if len(ev.sources) < c.maxSources {
		loc := s.Location()
		if len(ev.sources) == 0 || ev.sources[len(ev.sources)-1] != loc {
			ev.sources = append(ev.sources, loc)
		}
	}
}

func (c *collector) examples(minMatches int) []types.Example {
	out := make([]types.Example, 0, len(c.pairs))
	for k, ev := range c.pairs {
		if ev.matches < int64(minMatches) {
			continue
		}
		out = append(out, types.Example{
			Pattern: k.pattern,
			Context: k.context,
			Matches: ev.matches,
			Weight:  ev.weight,
			Sources: ev.sources,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Context < out[j].Context
	})
	return out
}

// Extract implements Extractor.
func (e *slotExtractor) Extract(ctx context.Context, seeds []types.Example, c corpus.Corpus, target types.SplitKey, minMatches int) ([]types.Example, error) {
	col := &collector{maxSources: e.maxSources, pairs: make(map[pairKey]*evidence)}

	var visit func(s corpus.Sentence, terms []string)
	switch target {
	case types.KeyContext:
		templates := make([]*template, 0, len(seeds))
		weights := make([]float64, 0, len(seeds))
		for _, seed := range seeds {
			t, err := parseTemplate(seed.Pattern, e.analyzer)
			if err != nil {
				return nil, err
			}
			templates = append(templates, t)
			weights = append(weights, seed.Score)
		}
		visit = func(s corpus.Sentence, terms []string) {
			for i, t := range templates {
				t.match(terms, func(x, y string) {
					col.add(t.text, types.PairKey(x, y), weights[i], s)
				})
			}
		}
	case types.KeyPattern:
		byX := make(map[string][]int)
		instances := make([]instance, 0, len(seeds))
		weights := make([]float64, 0, len(seeds))
		for _, seed := range seeds {
			inst, err := parseInstance(seed.Context)
			if err != nil {
				return nil, err
			}
			byX[inst.x] = append(byX[inst.x], len(instances))
			instances = append(instances, inst)
			weights = append(weights, seed.Score)
		}
		visit = func(s corpus.Sentence, terms []string) {
			positions := termPositions(terms)
			for term, xs := range positions {
				for _, idx := range byX[term] {
					inst := instances[idx]
					ys, ok := positions[inst.y]
					if !ok {
						continue
					}
					for _, i := range xs {
						for _, j := range ys {
							if p, ok := e.between(terms, i, j); ok {
								col.add(p, inst.text, weights[idx], s)
							}
						}
					}
				}
			}
		}
	default:
		return nil, fmt.Errorf("invalid extraction target %q", target)
	}

	if err := e.scan(ctx, c, visit); err != nil {
		return nil, err
	}
	return col.examples(minMatches), nil
}

// between renders the pattern connecting an x at position i and a y at
// position j, if the gap between them is within bounds.
func (e *slotExtractor) between(terms []string, i, j int) (string, bool) {
	if !e.withinGap(i, j) {
		return "", false
	}
	first, second := SlotX, SlotY
	lo, hi := i, j
	if j < i {
		first, second = SlotY, SlotX
		lo, hi = j, i
	}
	parts := make([]string, 0, hi-lo+1)
	parts = append(parts, first)
	parts = append(parts, terms[lo+1:hi]...)
	parts = append(parts, second)
	return strings.Join(parts, " "), true
}

func (e *slotExtractor) withinGap(i, j int) bool {
	gap := j - i - 1
	if j < i {
		gap = i - j - 1
	}
	return gap >= e.minGap && gap <= e.maxGap
}

// Totals implements Extractor.
func (e *slotExtractor) Totals(ctx context.Context, c corpus.Corpus, side types.SplitKey, keys []string) (map[string]int64, int64, error) {
	totals := make(map[string]int64, len(keys))
	var visit func(s corpus.Sentence, terms []string)

	switch side {
	case types.KeyPattern:
		templates := make([]*template, 0, len(keys))
		for _, k := range keys {
			t, err := parseTemplate(k, e.analyzer)
			if err != nil {
				return nil, 0, err
			}
			templates = append(templates, t)
			totals[k] = 0
		}
		visit = func(_ corpus.Sentence, terms []string) {
			for _, t := range templates {
				t.match(terms, func(string, string) { totals[t.text]++ })
			}
		}
	case types.KeyContext:
		instances := make([]instance, 0, len(keys))
		for _, k := range keys {
			inst, err := parseInstance(k)
			if err != nil {
				return nil, 0, err
			}
			instances = append(instances, inst)
			totals[k] = 0
		}
		visit = func(_ corpus.Sentence, terms []string) {
			positions := termPositions(terms)
			for _, inst := range instances {
				if cooccur(positions[inst.x], positions[inst.y]) {
					totals[inst.text]++
				}
			}
		}
	default:
		return nil, 0, fmt.Errorf("invalid statistics side %q", side)
	}

	var size int64
	err := e.scan(ctx, c, func(s corpus.Sentence, terms []string) {
		size++
		visit(s, terms)
	})
	if err != nil {
		return nil, 0, err
	}
	return totals, size, nil
}

// cooccur reports whether x and y fill distinct positions of a sentence,
// at any distance. Every sentence a template can harvest a context from
// is counted.
func cooccur(xs, ys []int) bool {
	for _, i := range xs {
		for _, j := range ys {
			if i != j {
				return true
			}
		}
	}
	return false
}

func (e *slotExtractor) scan(ctx context.Context, c corpus.Corpus, visit func(corpus.Sentence, []string)) error {
	for _, shard := range c.Shards() {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := shard.Scan(ctx, func(s corpus.Sentence) error {
			visit(s, corpus.Terms(e.analyzer, s.Text))
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func termPositions(terms []string) map[string][]int {
	positions := make(map[string][]int, len(terms))
	for i, t := range terms {
		positions[t] = append(positions[t], i)
	}
	return positions
}
