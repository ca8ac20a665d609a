package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/combine"
	"github.com/steveyegge/espresso/internal/corpus"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/split"
	"github.com/steveyegge/espresso/internal/types"
)

// DefaultChunkSize is the number of examples per split chunk.
const DefaultChunkSize = 1000

// StageConfig configures an extraction Stage.
type StageConfig struct {
	Processor  batch.Processor
	Extractor  Extractor
	ChunkSize  int
	MaxSources int
	Logger     *zap.Logger
}

// Stage runs one extraction: seeds of one type in, a combined collection
// of evidence for the other type out.
type Stage struct {
	proc      batch.Processor
	extractor Extractor
	splitter  *split.Splitter
	combiner  *combine.Combiner
	chunkSize int
	log       *zap.Logger
}

// NewStage creates an extraction stage.
func NewStage(cfg StageConfig) (*Stage, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Stage{
		proc:      cfg.Processor,
		extractor: cfg.Extractor,
		splitter:  split.New(cfg.Processor, log),
		combiner:  combine.New(cfg.Processor, cfg.MaxSources, log),
		chunkSize: cfg.ChunkSize,
		log:       log,
	}, nil
}

// Result summarizes a finished extraction.
type Result struct {
	Chunks int
	Groups int
}

// SplitDir returns the temporary split directory used while producing out.
func SplitDir(out string) string {
	return filepath.Join(filepath.Dir(out), "_split-"+filepath.Base(out))
}

// Run extracts target examples for the seeds at in and writes the
// combined collection to out. The seeds are keyed by the opposite of
// target. With globalStats set, corpus-wide totals are computed for every
// extracted key and folded into the output. The temporary split directory
// is removed once the combined output exists.
func (s *Stage) Run(ctx context.Context, in string, ref types.CorpusRef, target types.SplitKey, minMatches int, globalStats bool, out string) (Result, error) {
	if !target.IsValid() {
		return Result{}, fmt.Errorf("invalid extraction target %q", target)
	}
	key := target.Opposite()
	splitDir := SplitDir(out)
	start := time.Now()

	s.log.Info("extraction started",
		zap.String("input", in),
		zap.String("corpus", ref.String()),
		zap.String("target", string(target)),
		zap.String("split_key", string(key)),
		zap.Int("min_matches", minMatches),
		zap.Bool("global_stats", globalStats),
		zap.String("output", out))

	if err := os.RemoveAll(splitDir); err != nil {
		return Result{}, fmt.Errorf("failed to clear split directory: %w", err)
	}

	// A round can legitimately retain nothing; that is not an input error.
	if exhausted(in) {
		s.log.Warn("no seeds to extract from", zap.String("input", in))
		if err := seqfile.Write[types.Group](filepath.Join(out, seqfile.PartName(0)), nil); err != nil {
			return Result{}, err
		}
		return Result{}, nil
	}

	chunks, err := s.splitter.Run(ctx, in, key, splitDir, s.chunkSize)
	if err != nil {
		return Result{}, fmt.Errorf("split %s: %w", in, err)
	}

	c, err := corpus.Open(ref)
	if err != nil {
		return Result{}, err
	}

	outputs := filepath.Join(splitDir, string(target)+"s")
	if err := s.extractChunks(ctx, c, splitDir, outputs, target, minMatches); err != nil {
		return Result{}, err
	}

	statsPath := ""
	if globalStats {
		statsPath = filepath.Join(splitDir, "stats")
		if _, err := s.runStats(ctx, c, outputs, statsPath); err != nil {
			return Result{}, err
		}
	}

	groups, err := s.combiner.Run(ctx, outputs, statsPath, key, chunks, out)
	if err != nil {
		return Result{}, err
	}

	if err := os.RemoveAll(splitDir); err != nil {
		return Result{}, fmt.Errorf("failed to remove split directory: %w", err)
	}

	s.log.Info("extraction finished",
		zap.String("target", string(target)),
		zap.Int("chunks", chunks),
		zap.Int("groups", groups),
		zap.Duration("elapsed", time.Since(start)))
	return Result{Chunks: chunks, Groups: groups}, nil
}

// exhausted reports whether in is an existing collection whose data files
// are all empty.
func exhausted(in string) bool {
	files, err := seqfile.Files(in)
	if err != nil || len(files) == 0 {
		return false
	}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || info.Size() > 0 {
			return false
		}
	}
	return true
}

// extractChunks runs the extractor over every chunk of splitDir as the map
// tasks of one job. Chunk n's output goes to <outputs>/<n>/part-00000.
func (s *Stage) extractChunks(ctx context.Context, c corpus.Corpus, splitDir, outputs string, target types.SplitKey, minMatches int) error {
	chunks, err := split.Chunks(splitDir)
	if err != nil {
		return err
	}

	tasks := make([]batch.Task, len(chunks))
	for n, chunk := range chunks {
		n, chunk := n, chunk
		tasks[n] = func(ctx context.Context) error {
			seeds, err := seqfile.Read[types.Example](chunk)
			if err != nil {
				return fmt.Errorf("reading chunk %s: %w", chunk, err)
			}
			examples, err := s.extractor.Extract(ctx, seeds, c, target, minMatches)
			if err != nil {
				if errors.Is(err, ErrInvalidSeed) {
					return &types.InvalidInputError{Path: chunk, Reason: err.Error()}
				}
				return err
			}
			part := filepath.Join(outputs, strconv.Itoa(n), seqfile.PartName(0))
			if err := seqfile.Write(part, examples); err != nil {
				return err
			}
			s.log.Debug("chunk extracted",
				zap.String("chunk", filepath.Base(chunk)),
				zap.Int("seeds", len(seeds)),
				zap.Int("examples", len(examples)))
			return nil
		}
	}

	return s.proc.RunJob(ctx, batch.Job{
		Name:   "extract-" + string(target) + "s",
		Input:  splitDir,
		Output: outputs,
		Map:    tasks,
	})
}
