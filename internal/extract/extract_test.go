package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/combine"
	"github.com/steveyegge/espresso/internal/corpus"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/types"
)

var testSentences = []string{
	"Paris is a city in France.",
	"Rome is a city in Italy.",
	"Paris is a city with many museums.",
	"Rome is a city of seven hills.",
	"Paris is located in France.",
	"Rome is located in Italy.",
	"Paris is located in France according to maps.",
}

func writeCorpus(t *testing.T) types.CorpusRef {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(testSentences, "\n")+"\n"), 0644))
	return types.CorpusRef{Path: path, Class: "text"}
}

func openCorpus(t *testing.T, ref types.CorpusRef) corpus.Corpus {
	t.Helper()
	c, err := corpus.Open(ref)
	require.NoError(t, err)
	return c
}

func newSlot(t *testing.T, args string) Extractor {
	t.Helper()
	ex, err := New("slot", args, Options{MaxSources: 3})
	require.NoError(t, err)
	return ex
}

func TestNew_Registry(t *testing.T) {
	assert.Equal(t, []string{"slot"}, Classes())

	_, err := New("regex", "", Options{})
	assert.Error(t, err)

	_, err = New("slot", "mingap=5,maxgap=2", Options{})
	assert.Error(t, err)

	_, err = New("slot", "window=3", Options{})
	assert.Error(t, err)

	_, err = New("slot", "mingap", Options{})
	assert.Error(t, err)
}

func TestSlot_PatternsToContexts(t *testing.T) {
	c := openCorpus(t, writeCorpus(t))
	seeds := []types.Example{
		{Pattern: "X is a Y", Score: 1},
		{Pattern: "X is located in Y", Score: 0.5},
	}

	got, err := newSlot(t, "").Extract(context.Background(), seeds, c, types.KeyContext, 2)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "X is a Y", got[0].Pattern)
	assert.Equal(t, "paris|city", got[0].Context)
	assert.Equal(t, int64(2), got[0].Matches)
	assert.Equal(t, 1.0, got[0].Weight)
	assert.Equal(t, []string{"corpus.txt:1", "corpus.txt:3"}, got[0].Sources)

	assert.Equal(t, "rome|city", got[1].Context)

	assert.Equal(t, "X is located in Y", got[2].Pattern)
	assert.Equal(t, "paris|france", got[2].Context)
	assert.Equal(t, 0.5, got[2].Weight)
}

func TestSlot_ContextsToPatterns(t *testing.T) {
	c := openCorpus(t, writeCorpus(t))
	seeds := []types.Example{{Context: "paris|france", Score: 2}}

	got, err := newSlot(t, "mingap=1,maxgap=4").Extract(context.Background(), seeds, c, types.KeyPattern, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "X is a city in Y", got[0].Pattern)
	assert.Equal(t, int64(1), got[0].Matches)
	assert.Equal(t, "X is located in Y", got[1].Pattern)
	assert.Equal(t, int64(2), got[1].Matches)
	assert.Equal(t, 2.0, got[1].Weight)

	// A narrower window drops the longer connection.
	got, err = newSlot(t, "maxgap=3").Extract(context.Background(), seeds, c, types.KeyPattern, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "X is located in Y", got[0].Pattern)
}

func TestSlot_ReversedOrder(t *testing.T) {
	c := openCorpus(t, writeCorpus(t))
	got, err := newSlot(t, "").Extract(context.Background(), []types.Example{{Context: "city|rome"}}, c, types.KeyPattern, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Y is a X", got[0].Pattern)
	assert.Equal(t, int64(2), got[0].Matches)
}

func TestSlot_InvalidSeeds(t *testing.T) {
	c := openCorpus(t, writeCorpus(t))
	ex := newSlot(t, "")

	_, err := ex.Extract(context.Background(), []types.Example{{Pattern: "is a city"}}, c, types.KeyContext, 1)
	assert.ErrorIs(t, err, ErrInvalidSeed)

	_, err = ex.Extract(context.Background(), []types.Example{{Pattern: "X X Y"}}, c, types.KeyContext, 1)
	assert.ErrorIs(t, err, ErrInvalidSeed)

	_, err = ex.Extract(context.Background(), []types.Example{{Context: "paris"}}, c, types.KeyPattern, 1)
	assert.ErrorIs(t, err, ErrInvalidSeed)
}

func TestSlot_Totals(t *testing.T) {
	c := openCorpus(t, writeCorpus(t))
	ex := newSlot(t, "")

	totals, size, err := ex.Totals(context.Background(), c, types.KeyPattern, []string{"X is a Y", "X is located in Y", "Y of X"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
	assert.Equal(t, map[string]int64{"X is a Y": 4, "X is located in Y": 3, "Y of X": 1}, totals)

	totals, _, err = ex.Totals(context.Background(), c, types.KeyContext, []string{"paris|france", "paris|city", "rome|france"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"paris|france": 3, "paris|city": 2, "rome|france": 0}, totals)
}

func TestSlot_ContextTotalsCoverEveryHarvestedContext(t *testing.T) {
	c := openCorpus(t, writeCorpus(t))
	ex := newSlot(t, "")

	// Both seeds have slots outside the default 1..4 gap window.
	seeds := []types.Example{
		{Pattern: "X is located in France according to Y", Score: 1},
		{Pattern: "X Y a city", Score: 1},
	}
	got, err := ex.Extract(context.Background(), seeds, c, types.KeyContext, 1)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	keys := make([]string, 0, len(got))
	for _, e := range got {
		keys = append(keys, e.Context)
	}
	totals, _, err := ex.Totals(context.Background(), c, types.KeyContext, keys)
	require.NoError(t, err)
	for _, k := range keys {
		assert.Positive(t, totals[k], "context %s", k)
	}
	assert.Equal(t, int64(1), totals["paris|maps"])
	assert.Equal(t, int64(3), totals["rome|is"])

	totals, _, err = ex.Totals(context.Background(), c, types.KeyContext, []string{"paris|paris"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), totals["paris|paris"], "one occurrence cannot fill both slots")
}

func newStage(t *testing.T) *Stage {
	t.Helper()
	log := zaptest.NewLogger(t)
	st, err := NewStage(StageConfig{
		Processor:  batch.NewLocalProcessor(batch.Config{Parallelism: 2, Logger: log}),
		Extractor:  newSlot(t, ""),
		ChunkSize:  1,
		MaxSources: 2,
		Logger:     log,
	})
	require.NoError(t, err)
	return st
}

func TestStage_Run(t *testing.T) {
	ref := writeCorpus(t)
	dir := t.TempDir()
	seeds := filepath.Join(dir, "seeds")
	require.NoError(t, seqfile.Write(seeds, []types.Example{
		{Pattern: "X is a Y", Score: 1},
		{Pattern: "X is located in Y", Score: 1},
	}))

	out := filepath.Join(dir, "1", "contexts")
	res, err := newStage(t).Run(context.Background(), seeds, ref, types.KeyContext, 2, true, out)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, 2, res.Groups)
	assert.NoDirExists(t, SplitDir(out))

	groups, err := seqfile.Read[types.Group](out)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "X is a Y", groups[0].Key)
	assert.Equal(t, int64(4), groups[0].Total)
	require.Len(t, groups[0].Examples, 2)
	assert.Equal(t, int64(2), groups[0].Examples[0].ContextTotal)
	assert.Equal(t, "X is located in Y", groups[1].Key)

	stats := types.NewGlobalStats()
	require.NoError(t, seqfile.ReadJSON(filepath.Join(out, combine.StatsFile), stats))
	assert.Equal(t, int64(7), stats.CorpusSize)
}

func TestStage_NoMatchesIsNotAnError(t *testing.T) {
	ref := writeCorpus(t)
	dir := t.TempDir()
	seeds := filepath.Join(dir, "seeds")
	require.NoError(t, seqfile.Write(seeds, []types.Example{{Pattern: "X was founded by Y"}}))

	out := filepath.Join(dir, "contexts")
	res, err := newStage(t).Run(context.Background(), seeds, ref, types.KeyContext, 1, false, out)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Groups)

	groups, err := seqfile.Read[types.Group](out)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestStage_ExhaustedSeeds(t *testing.T) {
	ref := writeCorpus(t)
	dir := t.TempDir()
	seeds := filepath.Join(dir, "top")
	require.NoError(t, seqfile.Write[types.Example](filepath.Join(seeds, seqfile.PartName(0)), nil))

	out := filepath.Join(dir, "patterns")
	res, err := newStage(t).Run(context.Background(), seeds, ref, types.KeyPattern, 1, true, out)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.FileExists(t, filepath.Join(out, seqfile.PartName(0)))
}

func TestStage_MissingCorpus(t *testing.T) {
	dir := t.TempDir()
	seeds := filepath.Join(dir, "seeds")
	require.NoError(t, seqfile.Write(seeds, []types.Example{{Pattern: "X is a Y"}}))

	ref := types.CorpusRef{Path: filepath.Join(dir, "missing"), Class: "text"}
	_, err := newStage(t).Run(context.Background(), seeds, ref, types.KeyContext, 1, true, filepath.Join(dir, "contexts"))
	var accessErr *types.CorpusAccessError
	assert.True(t, errors.As(err, &accessErr), "got %v", err)
}

func TestStage_InvalidSeedIsInvalidInput(t *testing.T) {
	ref := writeCorpus(t)
	dir := t.TempDir()
	seeds := filepath.Join(dir, "seeds")
	require.NoError(t, seqfile.Write(seeds, []types.Example{{Pattern: "no slots"}}))

	_, err := newStage(t).Run(context.Background(), seeds, ref, types.KeyContext, 1, false, filepath.Join(dir, "contexts"))
	var inputErr *types.InvalidInputError
	assert.True(t, errors.As(err, &inputErr), "got %v", err)
}

func TestNewStage_Validation(t *testing.T) {
	_, err := NewStage(StageConfig{})
	assert.Error(t, err)
	_, err = NewStage(StageConfig{Processor: batch.NewLocalProcessor(batch.Config{})})
	assert.Error(t, err)
}
