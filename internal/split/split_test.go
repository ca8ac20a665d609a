package split

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/types"
)

func newSplitter(t *testing.T) *Splitter {
	log := zaptest.NewLogger(t)
	return New(batch.NewLocalProcessor(batch.Config{Parallelism: 2, Logger: log}), log)
}

func TestRun_PartitionCompleteness(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")

	// Two part files; key "p3" is spread across both.
	var all []types.Example
	var first, second []types.Example
	for i := 0; i < 20; i++ {
		ex := types.Example{Pattern: fmt.Sprintf("p%d", i%7), Context: fmt.Sprintf("c%d", i)}
		all = append(all, ex)
		if i%2 == 0 {
			first = append(first, ex)
		} else {
			second = append(second, ex)
		}
	}
	require.NoError(t, seqfile.Write(filepath.Join(in, "part-00000"), first))
	require.NoError(t, seqfile.Write(filepath.Join(in, "part-00001"), second))

	out := filepath.Join(dir, "split")
	n, err := newSplitter(t).Run(context.Background(), in, types.KeyPattern, out, 5)
	require.NoError(t, err)
	assert.Greater(t, n, 1)

	chunks, err := Chunks(out)
	require.NoError(t, err)
	require.Len(t, chunks, n)

	var got []types.Example
	owner := make(map[string]string)
	for _, c := range chunks {
		examples, err := seqfile.Read[types.Example](c)
		require.NoError(t, err)
		for _, ex := range examples {
			if prev, ok := owner[ex.Pattern]; ok {
				assert.Equal(t, prev, c, "key %s split across chunks", ex.Pattern)
			}
			owner[ex.Pattern] = c
		}
		got = append(got, examples...)
	}

	byContext := func(s []types.Example) {
		sort.Slice(s, func(i, j int) bool { return s[i].Context < s[j].Context })
	}
	byContext(all)
	byContext(got)
	assert.Empty(t, cmp.Diff(all, got), "every example must land in exactly one chunk")
	assert.FileExists(t, filepath.Join(out, ChunkName(0)+KeysExt))
}

func TestRun_OversizedKeyGetsOwnChunk(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "seeds")
	var examples []types.Example
	for i := 0; i < 4; i++ {
		examples = append(examples, types.Example{Pattern: "big", Context: fmt.Sprintf("c%d", i)})
	}
	examples = append(examples, types.Example{Pattern: "small"})
	require.NoError(t, seqfile.Write(in, examples))

	out := filepath.Join(dir, "split")
	n, err := newSplitter(t).Run(context.Background(), in, types.KeyPattern, out, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := os.ReadFile(filepath.Join(out, ChunkName(0)+KeysExt))
	require.NoError(t, err)
	assert.Equal(t, "big\n", string(keys))
}

func TestRun_EmptyInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "empty")
	require.NoError(t, seqfile.Write[types.Example](in, nil))

	_, err := newSplitter(t).Run(context.Background(), in, types.KeyPattern, filepath.Join(dir, "split"), 10)
	var inputErr *types.InvalidInputError
	assert.True(t, errors.As(err, &inputErr), "got %v", err)
}

func TestRun_MissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := newSplitter(t).Run(context.Background(), filepath.Join(dir, "nope"), types.KeyPattern, filepath.Join(dir, "split"), 10)
	var inputErr *types.InvalidInputError
	assert.True(t, errors.As(err, &inputErr))
}

func TestRun_MalformedInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "bad")
	require.NoError(t, os.WriteFile(in, []byte("{\"pattern\": 12}\n"), 0644))

	_, err := newSplitter(t).Run(context.Background(), in, types.KeyPattern, filepath.Join(dir, "split"), 10)
	var inputErr *types.InvalidInputError
	assert.True(t, errors.As(err, &inputErr))
}

func TestRun_MissingKeyField(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "contexts")
	require.NoError(t, seqfile.Write(in, []types.Example{{Pattern: "X is a Y"}}))

	_, err := newSplitter(t).Run(context.Background(), in, types.KeyContext, filepath.Join(dir, "split"), 10)
	var inputErr *types.InvalidInputError
	assert.True(t, errors.As(err, &inputErr))
}

func TestRun_InvalidArguments(t *testing.T) {
	s := newSplitter(t)
	_, err := s.Run(context.Background(), "in", types.SplitKey("doc"), "out", 10)
	assert.Error(t, err)
	_, err = s.Run(context.Background(), "in", types.KeyPattern, "out", 0)
	assert.Error(t, err)
}
