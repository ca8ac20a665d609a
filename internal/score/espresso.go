package score

import (
	"fmt"
	"math"

	"github.com/steveyegge/espresso/internal/types"
)

// espressoScorer computes the reliability of a candidate t as the
// weight-averaged pointwise mutual information with the seeds S it was
// found with:
//
//	r(t) = Σ pmi(s,t) · w(s) / |S|
//	pmi(s,t) = log(matches · N / (total(p) · total(c)))
//
// where N is the corpus size. Negative PMI counts as zero. With discount
// set, each PMI is multiplied by (m/(m+1)) · (min(tp,tc)/(min(tp,tc)+1))
// to damp evidence from rare events.
type espressoScorer struct {
	discount bool
}

func newEspressoScorer(args types.Args) (Scorer, error) {
	if err := checkArgs(args, "discount"); err != nil {
		return nil, err
	}
	discount, err := args.Bool("discount", false)
	if err != nil {
		return nil, err
	}
	return &espressoScorer{discount: discount}, nil
}

func (s *espressoScorer) Score(c *Candidate, stats *types.GlobalStats) (float64, error) {
	if stats == nil || stats.CorpusSize <= 0 {
		return 0, &types.ScoringError{Key: c.Key, Reason: "global statistics are required"}
	}
	if c.SeedCount <= 0 {
		return 0, &types.ScoringError{Key: c.Key, Reason: "seed count must be positive"}
	}

	n := float64(stats.CorpusSize)
	var sum float64
	for _, ev := range c.Evidence {
		tp, tc := ev.PatternTotal, ev.ContextTotal
		if tp <= 0 || tc <= 0 {
			return 0, &types.ScoringError{
				Key:    c.Key,
				Reason: fmt.Sprintf("missing totals for pattern %q and context %q", ev.Pattern, ev.Context),
			}
		}
		m := float64(ev.Matches)
		pmi := math.Log(m * n / (float64(tp) * float64(tc)))
		if pmi < 0 {
			pmi = 0
		}
		if s.discount {
			mn := float64(min(tp, tc))
			pmi *= (m / (m + 1)) * (mn / (mn + 1))
		}
		sum += pmi * ev.Weight
	}
	return sum / float64(c.SeedCount), nil
}
