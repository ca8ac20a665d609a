package topk

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/types"
)

func scored() []types.Example {
	return []types.Example{
		{Context: "b|x", Score: 0.5},
		{Context: "a|x", Score: 0.9},
		{Context: "c|x", Score: 0.5},
		{Context: "d|x", Score: 0.1},
		{Context: "e|x", Score: 0.7},
	}
}

func keys(items []types.Example) []string {
	out := make([]string, len(items))
	for i := range items {
		out[i] = items[i].Context
	}
	return out
}

func TestSelect_Order(t *testing.T) {
	got := Select(scored(), types.KeyContext, 3)
	assert.Equal(t, []string{"a|x", "e|x", "b|x"}, keys(got))
}

func TestSelect_Monotonic(t *testing.T) {
	items := scored()
	for k := 0; k < len(items); k++ {
		smaller := Select(items, types.KeyContext, k)
		larger := Select(items, types.KeyContext, k+1)
		require.Len(t, smaller, k)
		assert.Empty(t, cmp.Diff(smaller, larger[:k]), "top-%d must be a prefix of top-%d", k, k+1)
	}
}

func TestSelect_NegativeBudgetPassesThrough(t *testing.T) {
	items := scored()
	got := Select(items, types.KeyContext, Unbounded)
	assert.Len(t, got, len(items))
	assert.Equal(t, []string{"a|x", "e|x", "b|x", "c|x", "d|x"}, keys(got))
}

func TestSelect_BudgetAboveSize(t *testing.T) {
	assert.Len(t, Select(scored(), types.KeyContext, 100), 5)
	assert.Empty(t, Select(nil, types.KeyContext, 3))
}

func TestSelect_DoesNotModifyInput(t *testing.T) {
	items := scored()
	Select(items, types.KeyContext, 2)
	assert.Equal(t, "b|x", items[0].Context)
}

func TestStage_Select(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "scored-contexts-raw")
	var items []types.Example
	for i := 0; i < 10; i++ {
		items = append(items, types.Example{Context: fmt.Sprintf("c%d|y", i), Score: float64(i)})
	}
	require.NoError(t, seqfile.Write(in, items))

	log := zaptest.NewLogger(t)
	stage := NewStage(batch.NewLocalProcessor(batch.Config{Logger: log}), log)
	out := filepath.Join(dir, "contexts-scored-top")

	kept, err := stage.Select(context.Background(), in, out, types.KeyContext, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, kept)

	top, err := seqfile.ReadExamples(out, types.KeyContext)
	require.NoError(t, err)
	assert.Equal(t, []string{"c9|y", "c8|y", "c7|y", "c6|y"}, keys(top))
	assert.FileExists(t, filepath.Join(out, batch.SuccessMarker))
}

func TestStage_SelectMissingInput(t *testing.T) {
	dir := t.TempDir()
	stage := NewStage(batch.NewLocalProcessor(batch.Config{}), nil)
	_, err := stage.Select(context.Background(), filepath.Join(dir, "missing"), filepath.Join(dir, "out"), types.KeyContext, 1)
	assert.Error(t, err)
}
