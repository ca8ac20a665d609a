// Package split partitions a keyed example collection into bounded chunks.
//
// Every example sharing a split-key value lands in the same chunk, so the
// extraction that runs per chunk sees all evidence for a key at once. A
// key with more examples than the chunk size gets a chunk of its own.
package split

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/types"
)

const (
	// ExamplesExt is the suffix of a chunk's example file.
	ExamplesExt = ".examples"
	// KeysExt is the suffix of a chunk's key listing.
	KeysExt = ".keys"
)

// ChunkName returns the base name (without suffix) of chunk n.
func ChunkName(n int) string {
	return fmt.Sprintf("split-%05d", n)
}

// Splitter runs split jobs on a batch processor.
type Splitter struct {
	proc batch.Processor
	log  *zap.Logger
}

// New creates a splitter. A nil logger disables logging.
func New(proc batch.Processor, log *zap.Logger) *Splitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Splitter{proc: proc, log: log}
}

// Run partitions the collection at in by key into chunks of at most
// chunkSize examples under out. It returns the number of chunks written.
func (s *Splitter) Run(ctx context.Context, in string, key types.SplitKey, out string, chunkSize int) (int, error) {
	if !key.IsValid() {
		return 0, fmt.Errorf("invalid split key %q", key)
	}
	if chunkSize < 1 {
		return 0, fmt.Errorf("chunk size must be positive (got %d)", chunkSize)
	}

	files, err := seqfile.Files(in)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, &types.InvalidInputError{Path: in, Reason: "collection does not exist"}
		}
		return 0, err
	}
	if len(files) == 0 {
		return 0, &types.InvalidInputError{Path: in, Reason: "collection is empty"}
	}

	// Each map task decodes one part file into its own slot.
	parts := make([][]types.Example, len(files))
	tasks := make([]batch.Task, len(files))
	for i, f := range files {
		i, f := i, f
		tasks[i] = func(ctx context.Context) error {
			examples, err := readPart(f, key)
			if err != nil {
				return err
			}
			parts[i] = examples
			return nil
		}
	}

	chunks := 0
	job := batch.Job{
		Name:   "split-" + string(key),
		Input:  in,
		Output: out,
		Map:    tasks,
		Reduce: func(ctx context.Context) error {
			n, err := writeChunks(out, key, parts, chunkSize)
			if err != nil {
				return err
			}
			if n == 0 {
				return &types.InvalidInputError{Path: in, Reason: "collection is empty"}
			}
			chunks = n
			return nil
		},
	}
	if err := s.proc.RunJob(ctx, job); err != nil {
		return 0, err
	}

	s.log.Debug("split complete",
		zap.String("input", in),
		zap.String("key", string(key)),
		zap.Int("chunks", chunks))
	return chunks, nil
}

func readPart(path string, key types.SplitKey) ([]types.Example, error) {
	examples, err := seqfile.Read[types.Example](path)
	if err != nil {
		var decErr *seqfile.DecodeError
		if errors.As(err, &decErr) {
			return nil, &types.InvalidInputError{Path: path, Reason: decErr.Error()}
		}
		return nil, err
	}
	for i := range examples {
		if err := examples[i].Validate(key); err != nil {
			return nil, &types.InvalidInputError{Path: path, Reason: fmt.Sprintf("record %d: %v", i+1, err)}
		}
	}
	return examples, nil
}

// writeChunks groups examples by key and packs whole groups, in key order,
// into chunks.
func writeChunks(out string, key types.SplitKey, parts [][]types.Example, chunkSize int) (int, error) {
	groups := make(map[string][]types.Example)
	for _, part := range parts {
		for _, ex := range part {
			k := ex.Key(key)
			groups[k] = append(groups[k], ex)
		}
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := 0
	var chunk []types.Example
	var chunkKeys []string
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		base := filepath.Join(out, ChunkName(n))
		if err := seqfile.Write(base+ExamplesExt, chunk); err != nil {
			return err
		}
		if err := os.WriteFile(base+KeysExt, []byte(strings.Join(chunkKeys, "\n")+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write keys for chunk %d: %w", n, err)
		}
		n++
		chunk = nil
		chunkKeys = nil
		return nil
	}

	for _, k := range keys {
		group := groups[k]
		if len(chunk) > 0 && len(chunk)+len(group) > chunkSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
		chunk = append(chunk, group...)
		chunkKeys = append(chunkKeys, k)
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return n, nil
}

// Chunks returns the example files of a split directory in chunk order.
func Chunks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list split directory %s: %w", dir, err)
	}
	var chunks []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ExamplesExt) {
			continue
		}
		chunks = append(chunks, filepath.Join(dir, e.Name()))
	}
	sort.Strings(chunks)
	return chunks, nil
}
