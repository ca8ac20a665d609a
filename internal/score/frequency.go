package score

import "github.com/steveyegge/espresso/internal/types"

// frequencyScorer scores a candidate by its total match count, optionally
// weighted by the seed scores.
type frequencyScorer struct {
	weighted bool
}

func newFrequencyScorer(args types.Args) (Scorer, error) {
	if err := checkArgs(args, "weighted"); err != nil {
		return nil, err
	}
	weighted, err := args.Bool("weighted", false)
	if err != nil {
		return nil, err
	}
	return &frequencyScorer{weighted: weighted}, nil
}

func (s *frequencyScorer) Score(c *Candidate, _ *types.GlobalStats) (float64, error) {
	var sum float64
	for _, ev := range c.Evidence {
		if s.weighted {
			sum += float64(ev.Matches) * ev.Weight
		} else {
			sum += float64(ev.Matches)
		}
	}
	return sum, nil
}
