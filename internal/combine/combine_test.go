package combine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/types"
)

func writeChunk(t *testing.T, root string, n int, examples []types.Example) {
	t.Helper()
	require.NoError(t, seqfile.Write(filepath.Join(root, strconv.Itoa(n), seqfile.PartName(0)), examples))
}

func newCombiner(t *testing.T, maxSources int) *Combiner {
	log := zaptest.NewLogger(t)
	return New(batch.NewLocalProcessor(batch.Config{Logger: log}), maxSources, log)
}

func TestRun_MergesAndFoldsStats(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "contexts")
	writeChunk(t, root, 0, []types.Example{
		{Pattern: "X is a Y", Context: "paris|city", Matches: 2, Weight: 1, Sources: []string{"a:1", "a:2"}},
		{Pattern: "X is a Y", Context: "rome|city", Matches: 1, Weight: 1, Sources: []string{"a:3"}},
	})
	writeChunk(t, root, 1, []types.Example{
		{Pattern: "X is a Y", Context: "paris|city", Matches: 3, Weight: 0.5, Sources: []string{"b:1", "a:1"}},
		{Pattern: "X is located in Y", Context: "paris|france", Matches: 2, Weight: 1},
	})

	stats := types.NewGlobalStats()
	stats.CorpusSize = 100
	stats.Patterns["X is a Y"] = 10
	stats.Patterns["X is located in Y"] = 4
	stats.Contexts["paris|city"] = 6
	statsPath := filepath.Join(dir, "stats")
	require.NoError(t, seqfile.WriteJSON(statsPath, stats))

	out := filepath.Join(dir, "out")
	n, err := newCombiner(t, 2).Run(context.Background(), root, statsPath, types.KeyPattern, 2, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	groups, err := seqfile.Read[types.Group](out)
	require.NoError(t, err)
	want := []types.Group{
		{
			Key: "X is a Y", SplitKey: types.KeyPattern, Total: 10,
			Examples: []types.Example{
				{Pattern: "X is a Y", Context: "paris|city", Matches: 5, Weight: 1, Sources: []string{"a:1", "a:2"}, PatternTotal: 10, ContextTotal: 6},
				{Pattern: "X is a Y", Context: "rome|city", Matches: 1, Weight: 1, Sources: []string{"a:3"}, PatternTotal: 10},
			},
		},
		{
			Key: "X is located in Y", SplitKey: types.KeyPattern, Total: 4,
			Examples: []types.Example{
				{Pattern: "X is located in Y", Context: "paris|france", Matches: 2, Weight: 1, PatternTotal: 4},
			},
		},
	}
	assert.Empty(t, cmp.Diff(want, groups))

	copied := types.NewGlobalStats()
	require.NoError(t, seqfile.ReadJSON(filepath.Join(out, StatsFile), copied))
	assert.Equal(t, int64(100), copied.CorpusSize)
	assert.FileExists(t, filepath.Join(out, batch.SuccessMarker))
}

func TestRun_Idempotent(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "patterns")
	writeChunk(t, root, 0, []types.Example{
		{Pattern: "Y and X", Context: "b|a", Matches: 1},
		{Pattern: "X or Y", Context: "a|b", Matches: 2},
	})

	out := filepath.Join(dir, "out")
	c := newCombiner(t, 3)
	_, err := c.Run(context.Background(), root, "", types.KeyContext, 1, out)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(out, seqfile.PartName(0)))
	require.NoError(t, err)

	_, err = c.Run(context.Background(), root, "", types.KeyContext, 1, out)
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(out, seqfile.PartName(0)))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.NoFileExists(t, filepath.Join(out, StatsFile))
}

func TestRun_ConsistencyError(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "contexts")
	writeChunk(t, root, 0, []types.Example{{Pattern: "X is a Y", Context: "a|b", Matches: 1}})
	writeChunk(t, root, 1, nil)

	_, err := newCombiner(t, 3).Run(context.Background(), root, "", types.KeyPattern, 3, filepath.Join(dir, "out"))
	var consistency *types.ConsistencyError
	require.True(t, errors.As(err, &consistency))
	assert.Equal(t, 3, consistency.Expected)
	assert.Equal(t, 2, consistency.Actual)
}

func TestRun_IgnoresNonNumericEntries(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "contexts")
	writeChunk(t, root, 0, []types.Example{{Pattern: "X is a Y", Context: "a|b", Matches: 1}})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "_tmp"), 0755))

	n, err := newCombiner(t, 3).Run(context.Background(), root, "", types.KeyPattern, 1, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMerge_UnlimitedSources(t *testing.T) {
	parts := [][]types.Example{
		{{Pattern: "p", Context: "c", Matches: 1, Sources: []string{"d:3", "d:1"}}},
		{{Pattern: "p", Context: "c", Matches: 1, Sources: []string{"d:2"}}},
	}
	groups := Merge(parts, types.KeyContext, nil, 0)
	require.Len(t, groups, 1)
	assert.Equal(t, "c", groups[0].Key)
	assert.Equal(t, []string{"d:1", "d:2", "d:3"}, groups[0].Examples[0].Sources)
	assert.Equal(t, int64(0), groups[0].Total)
}
