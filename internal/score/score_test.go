package score

import (
	"bufio"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/combine"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/types"
)

func mustScorer(t *testing.T, class, args string) Scorer {
	t.Helper()
	s, err := New(class, args)
	require.NoError(t, err)
	return s
}

func TestNew_Registry(t *testing.T) {
	assert.Equal(t, []string{"espresso", "frequency"}, Classes())

	_, err := New("tfidf", "")
	assert.Error(t, err)
	_, err = New("espresso", "discount=sometimes")
	assert.Error(t, err)
	_, err = New("frequency", "alpha=1")
	assert.Error(t, err)
}

func TestConfigs(t *testing.T) {
	ctxCfg, patCfg, err := Configs("frequency", "")
	require.NoError(t, err)
	assert.IsType(t, ContextScorer{}, ctxCfg)
	assert.IsType(t, PatternScorer{}, patCfg)

	ctxCfg, patCfg, err = Configs(NoneClass, "")
	require.NoError(t, err)
	assert.Equal(t, NoScorer{Side: types.KeyContext}, ctxCfg)
	assert.Equal(t, NoScorer{Side: types.KeyPattern}, patCfg)

	_, _, err = Configs(NoneClass, "alpha=1")
	assert.Error(t, err)
	_, _, err = Configs("tfidf", "")
	assert.ErrorContains(t, err, NoneClass)
}

func TestEspresso_Score(t *testing.T) {
	stats := &types.GlobalStats{CorpusSize: 100}
	c := &Candidate{
		Key:       "paris|city",
		Side:      types.KeyContext,
		SeedCount: 2,
		Evidence: []types.Example{
			{Pattern: "X is a Y", Context: "paris|city", Matches: 4, Weight: 1, PatternTotal: 10, ContextTotal: 8},
			// PMI below zero is clipped.
			{Pattern: "X and Y", Context: "paris|city", Matches: 1, Weight: 1, PatternTotal: 50, ContextTotal: 8},
		},
	}

	got, err := mustScorer(t, "espresso", "").Score(c, stats)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(4*100.0/80)/2, got, 1e-12)

	discounted, err := mustScorer(t, "espresso", "discount=true").Score(c, stats)
	require.NoError(t, err)
	want := math.Log(4*100.0/80) * (4.0 / 5) * (8.0 / 9) / 2
	assert.InDelta(t, want, discounted, 1e-12)
}

func TestEspresso_WeightsBySeedScore(t *testing.T) {
	stats := &types.GlobalStats{CorpusSize: 100}
	ev := types.Example{Pattern: "X is a Y", Context: "a|b", Matches: 4, PatternTotal: 10, ContextTotal: 8}
	s := mustScorer(t, "espresso", "")

	ev.Weight = 1
	full, err := s.Score(&Candidate{Key: "a|b", SeedCount: 1, Evidence: []types.Example{ev}}, stats)
	require.NoError(t, err)
	ev.Weight = 0.5
	half, err := s.Score(&Candidate{Key: "a|b", SeedCount: 1, Evidence: []types.Example{ev}}, stats)
	require.NoError(t, err)
	assert.InDelta(t, full/2, half, 1e-12)
}

func TestEspresso_Errors(t *testing.T) {
	s := mustScorer(t, "espresso", "")
	c := &Candidate{
		Key:       "a|b",
		SeedCount: 1,
		Evidence:  []types.Example{{Pattern: "X is a Y", Context: "a|b", Matches: 1, Weight: 1}},
	}

	var scoringErr *types.ScoringError
	_, err := s.Score(c, nil)
	require.True(t, errors.As(err, &scoringErr))
	assert.Contains(t, err.Error(), "statistics")

	_, err = s.Score(c, &types.GlobalStats{CorpusSize: 10})
	require.True(t, errors.As(err, &scoringErr))
	assert.Equal(t, "a|b", scoringErr.Key)
}

func TestFrequency_Score(t *testing.T) {
	c := &Candidate{Evidence: []types.Example{
		{Matches: 3, Weight: 2},
		{Matches: 1, Weight: 0.5},
	}}

	got, err := mustScorer(t, "frequency", "").Score(c, nil)
	require.NoError(t, err)
	assert.Equal(t, 4.0, got)

	got, err = mustScorer(t, "frequency", "weighted=true").Score(c, nil)
	require.NoError(t, err)
	assert.Equal(t, 6.5, got)
}

func TestCandidates_Regroup(t *testing.T) {
	groups := []types.Group{
		{Key: "X is a Y", SplitKey: types.KeyPattern, Examples: []types.Example{
			{Pattern: "X is a Y", Context: "paris|city", Matches: 2},
			{Pattern: "X is a Y", Context: "rome|city", Matches: 1},
		}},
		{Key: "X and Y", SplitKey: types.KeyPattern, Examples: []types.Example{
			{Pattern: "X and Y", Context: "paris|city", Matches: 1},
		}},
	}

	candidates, err := Candidates(groups, types.KeyContext)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "paris|city", candidates[0].Key)
	assert.Len(t, candidates[0].Evidence, 2)
	assert.Equal(t, 2, candidates[0].SeedCount)
	assert.Equal(t, "rome|city", candidates[1].Key)
}

func TestCandidates_MalformedEvidence(t *testing.T) {
	var scoringErr *types.ScoringError

	_, err := Candidates([]types.Group{{Key: "p", Examples: []types.Example{{Pattern: "p", Context: "a|b"}}}}, types.KeyContext)
	assert.True(t, errors.As(err, &scoringErr))

	_, err = Candidates([]types.Group{{Key: "p", Examples: []types.Example{{Pattern: "p", Matches: 1}}}}, types.KeyContext)
	assert.True(t, errors.As(err, &scoringErr))
}

// StageSuite runs the scoring stage over a small combined collection.
type StageSuite struct {
	suite.Suite
	dir   string
	in    string
	stage *Stage
}

func (s *StageSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.in = filepath.Join(s.dir, "contexts")
	log := zaptest.NewLogger(s.T())
	s.stage = NewStage(batch.NewLocalProcessor(batch.Config{Parallelism: 2, Logger: log}), 3, log)

	groups := []types.Group{
		{Key: "X is a Y", SplitKey: types.KeyPattern, Total: 10, Examples: []types.Example{
			{Pattern: "X is a Y", Context: "paris|city", Matches: 8, Weight: 1, PatternTotal: 10, ContextTotal: 8},
			{Pattern: "X is a Y", Context: "rome|city", Matches: 2, Weight: 1, PatternTotal: 10, ContextTotal: 4},
			{Pattern: "X is a Y", Context: "oslo|city", Matches: 2, Weight: 1, PatternTotal: 10, ContextTotal: 4},
		}},
	}
	s.Require().NoError(seqfile.Write(filepath.Join(s.in, seqfile.PartName(0)), groups))
	s.Require().NoError(seqfile.WriteJSON(filepath.Join(s.in, combine.StatsFile), &types.GlobalStats{CorpusSize: 100}))
}

func (s *StageSuite) TestFrequencyRanking() {
	out := filepath.Join(s.dir, "contexts-scored")
	n, err := s.stage.Run(context.Background(), ContextScorer{Scorer: mustScorer(s.T(), "frequency", "")}, s.in, out)
	s.Require().NoError(err)
	s.Equal(3, n)

	ranked, err := seqfile.Read[types.Example](filepath.Join(out, RawName(types.KeyContext)))
	s.Require().NoError(err)
	s.Require().Len(ranked, 3)
	s.Equal("paris|city", ranked[0].Context)
	s.Equal(8.0, ranked[0].Score)
	s.Equal(int64(8), ranked[0].ContextTotal)
	// Ties are broken by key.
	s.Equal("oslo|city", ranked[1].Context)
	s.Equal("rome|city", ranked[2].Context)

	lines := readLines(s.T(), filepath.Join(out, ListingName(types.KeyContext)))
	s.Equal([]string{"paris|city\t8\t8", "oslo|city\t2\t2", "rome|city\t2\t2"}, lines)
}

func (s *StageSuite) TestEspressoUsesStats() {
	out := filepath.Join(s.dir, "contexts-scored")
	_, err := s.stage.Run(context.Background(), ContextScorer{Scorer: mustScorer(s.T(), "espresso", "")}, s.in, out)
	s.Require().NoError(err)

	ranked, err := seqfile.Read[types.Example](filepath.Join(out, RawName(types.KeyContext)))
	s.Require().NoError(err)
	s.Equal("paris|city", ranked[0].Context)
	s.InDelta(math.Log(8*100.0/80), ranked[0].Score, 1e-12)
}

func (s *StageSuite) TestEspressoWithoutStatsFails() {
	s.Require().NoError(os.Remove(filepath.Join(s.in, combine.StatsFile)))
	_, err := s.stage.Run(context.Background(), ContextScorer{Scorer: mustScorer(s.T(), "espresso", "")}, s.in, filepath.Join(s.dir, "out"))
	var scoringErr *types.ScoringError
	s.True(errors.As(err, &scoringErr), "got %v", err)
}

func (s *StageSuite) TestNoScorerOrdersByKey() {
	out := filepath.Join(s.dir, "patterns-scored")
	n, err := s.stage.Run(context.Background(), NoScorer{Side: types.KeyPattern}, s.in, out)
	s.Require().NoError(err)
	s.Equal(1, n)

	ranked, err := seqfile.Read[types.Example](filepath.Join(out, RawName(types.KeyPattern)))
	s.Require().NoError(err)
	s.Require().Len(ranked, 1)
	s.Equal("X is a Y", ranked[0].Pattern)
	s.Equal(int64(12), ranked[0].Matches)
	s.Equal(0.0, ranked[0].Score)
}

func (s *StageSuite) TestMissingScorer() {
	_, err := s.stage.Run(context.Background(), PatternScorer{}, s.in, filepath.Join(s.dir, "out"))
	s.Error(err)
	_, err = s.stage.Run(context.Background(), nil, s.in, filepath.Join(s.dir, "out"))
	s.Error(err)
}

func TestStageSuite(t *testing.T) {
	suite.Run(t, new(StageSuite))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, scanner.Err())
	return lines
}
