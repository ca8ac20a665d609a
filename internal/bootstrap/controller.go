package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/steveyegge/espresso/internal/batch"
	"github.com/steveyegge/espresso/internal/config"
	"github.com/steveyegge/espresso/internal/corpus"
	"github.com/steveyegge/espresso/internal/extract"
	"github.com/steveyegge/espresso/internal/score"
	"github.com/steveyegge/espresso/internal/seqfile"
	"github.com/steveyegge/espresso/internal/storage"
	"github.com/steveyegge/espresso/internal/topk"
	"github.com/steveyegge/espresso/internal/types"
	"github.com/steveyegge/espresso/internal/workspace"
)

// Config wires a Controller. Only Harvest is required.
type Config struct {
	Harvest config.HarvestConfig

	// Processor runs every stage. Nil builds a local processor from
	// Harvest.Parallelism and Harvest.TaskRate.
	Processor batch.Processor

	// Selector keeps the best contexts of a round. Nil uses a top-K stage
	// on Processor.
	Selector topk.Selector

	// Journal records the run and its rounds. Nil disables the journal.
	Journal storage.Journal

	// Metrics receives per-round measurements. Nil disables collection.
	Metrics MetricsCollector

	Logger *zap.Logger
}

// Controller runs the bootstrapping rounds of one harvest.
type Controller struct {
	cfg     config.HarvestConfig
	ref     types.CorpusRef
	growth  GrowthPolicy
	journal storage.Journal
	metrics MetricsCollector
	log     *zap.Logger

	workspace *workspace.Manager
	extractor *extract.Stage
	scorer    *score.Stage
	selector  topk.Selector

	contextScorer score.ScorerConfig
	patternScorer score.ScorerConfig

	runID string
	state State
}

// Result describes a successful harvest.
type Result struct {
	RunID          string
	Rounds         int
	Patterns       string
	Listing        string
	PatternsScored int
	Elapsed        time.Duration
}

// New validates the configuration and resolves the corpus, extractor and
// scorer classes. Every failure is a *types.ConfigurationError and no
// stage has run yet.
func New(cfg Config) (*Controller, error) {
	h := cfg.Harvest
	if err := h.Validate(); err != nil {
		return nil, err
	}

	growth, err := GrowthFor(h.Growth)
	if err != nil {
		return nil, &types.ConfigurationError{Field: "growth", Reason: err.Error()}
	}
	if _, err := corpus.Lookup(h.CorpusClass); err != nil {
		return nil, &types.ConfigurationError{Field: "corpus_class", Reason: err.Error()}
	}
	ex, err := extract.New(h.ExtractorClass, h.ExtractorArgs, extract.Options{MaxSources: h.MaxSources})
	if err != nil {
		return nil, &types.ConfigurationError{Field: "extractor", Reason: err.Error()}
	}
	contextScorer, patternScorer, err := score.Configs(h.ScorerClass, h.ScorerArgs)
	if err != nil {
		return nil, &types.ConfigurationError{Field: "scorer", Reason: err.Error()}
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	proc := cfg.Processor
	if proc == nil {
		proc = batch.NewLocalProcessor(batch.Config{
			Parallelism: h.Parallelism,
			TaskRate:    h.TaskRate,
			Logger:      log.Named("batch"),
		})
	}

	ws, err := workspace.New(h.OutputPath, workspace.RetentionPolicy(h.Retention), log.Named("workspace"))
	if err != nil {
		return nil, &types.ConfigurationError{Field: "output", Reason: err.Error()}
	}

	stage, err := extract.NewStage(extract.StageConfig{
		Processor:  proc,
		Extractor:  ex,
		ChunkSize:  h.ChunkSize,
		MaxSources: h.MaxSources,
		Logger:     log.Named("extract"),
	})
	if err != nil {
		return nil, err
	}

	selector := cfg.Selector
	if selector == nil {
		selector = topk.NewStage(proc, log.Named("topk"))
	}

	return &Controller{
		cfg:           h,
		ref:           types.CorpusRef{Path: h.CorpusPath, Class: h.CorpusClass},
		growth:        growth,
		journal:       cfg.Journal,
		metrics:       cfg.Metrics,
		log:           log,
		workspace:     ws,
		extractor:     stage,
		scorer:        score.NewStage(proc, h.Parallelism, log.Named("score")),
		selector:      selector,
		contextScorer: contextScorer,
		patternScorer: patternScorer,
		runID:         uuid.New().String(),
		state:         StateInit,
	}, nil
}

// RunID returns the identifier under which the run is journaled.
func (c *Controller) RunID() string { return c.runID }

// State returns the controller's current state.
func (c *Controller) State() State { return c.state }

// Workspace returns the manager of the run's round directories.
func (c *Controller) Workspace() *workspace.Manager { return c.workspace }

// Run executes Init and every round. It can be called once.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	if c.state != StateInit {
		return nil, fmt.Errorf("controller already ran (state %s)", c.state)
	}
	start := time.Now()
	c.logParameters()

	if c.journal != nil {
		if err := c.journal.StartRun(ctx, &types.Run{
			ID:         c.runID,
			Status:     types.RunRunning,
			Config:     c.cfg.String(),
			Output:     c.cfg.OutputPath,
			Iterations: c.cfg.Iterations,
			StartedAt:  start,
		}); err != nil {
			return nil, fmt.Errorf("failed to journal run start: %w", err)
		}
	}

	var rounds []*RoundMetrics
	lastRound := 0
	fail := func(err error) (*Result, error) {
		c.state = StateFailed
		c.log.Error("harvest failed",
			zap.String("run_id", c.runID),
			zap.Int("last_completed_round", lastRound),
			zap.String("error_kind", types.Kind(err)),
			zap.Error(err))
		if pending := c.workspace.Pending(); len(pending) > 0 {
			c.log.Warn("retired rounds kept on disk", zap.Strings("dirs", pending))
		}
		c.finish(ctx, types.RunFailed, lastRound, err, rounds, time.Since(start))
		return nil, err
	}

	if err := c.init(); err != nil {
		return fail(err)
	}

	c.state = StateRoundRunning
	scored := 0
	for i := 1; i <= c.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("harvest canceled after %d rounds: %w", i-1, err))
		}

		rs := c.roundState(i)
		m, err := c.runRound(ctx, rs)
		rounds = append(rounds, m)
		if err != nil {
			return fail(fmt.Errorf("round %d: %w", i, err))
		}
		lastRound = i
		scored = m.PatternsScored
	}

	if c.workspace.Policy() == workspace.RetainDeferred {
		removed, err := c.workspace.Collect()
		if err != nil {
			return fail(err)
		}
		c.log.Debug("retired rounds collected", zap.Int("removed", removed))
	}

	c.state = StateDone
	elapsed := time.Since(start)
	c.finish(ctx, types.RunSucceeded, lastRound, nil, rounds, elapsed)

	final := c.workspace.Paths(lastRound)
	result := &Result{
		RunID:          c.runID,
		Rounds:         lastRound,
		Patterns:       final.ScoredPatternsRaw(),
		Listing:        filepath.Join(final.PatternsScored, score.ListingName(types.KeyPattern)),
		PatternsScored: scored,
		Elapsed:        elapsed,
	}
	c.log.Info("harvest finished",
		zap.String("run_id", c.runID),
		zap.Int("rounds", result.Rounds),
		zap.Int("patterns", result.PatternsScored),
		zap.String("result", result.Patterns),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

func (c *Controller) logParameters() {
	h := c.cfg
	c.log.Info("harvest started",
		zap.String("run_id", c.runID),
		zap.String("seeds", h.SeedPath),
		zap.String("corpus", c.ref.String()),
		zap.String("extractor", h.ExtractorClass),
		zap.String("extractor_args", h.ExtractorArgs),
		zap.String("scorer", h.ScorerClass),
		zap.String("scorer_args", h.ScorerArgs),
		zap.Int("num_contexts", h.NumContexts),
		zap.Int("min_matches", h.MinMatches),
		zap.Int("iterations", h.Iterations),
		zap.String("growth", h.Growth),
		zap.String("retention", h.Retention),
		zap.String("output", h.OutputPath))
}

// init creates the output root, discards rounds left by an earlier run and
// ingests the seeds as round 0's scored patterns. A foreign directory at
// any round location is a configuration error and nothing is removed.
func (c *Controller) init() error {
	for i := 0; i <= c.cfg.Iterations; i++ {
		if err := c.workspace.CheckRound(i); err != nil {
			var foreign *workspace.ForeignDirError
			if errors.As(err, &foreign) {
				return &types.ConfigurationError{Field: "output", Reason: foreign.Error()}
			}
			return err
		}
	}
	if err := c.workspace.CreateDirectory(c.workspace.Root()); err != nil {
		return err
	}

	stale, err := c.workspace.Rounds()
	if err != nil {
		return err
	}
	for _, i := range stale {
		c.log.Warn("removing stale round directory", zap.Int("round", i))
		if err := c.workspace.RemoveDirectory(c.workspace.RoundDir(i)); err != nil {
			return err
		}
	}

	paths, err := c.workspace.PrepareRound(0)
	if err != nil {
		return err
	}
	if err := c.workspace.CreateDirectory(paths.PatternsScored); err != nil {
		return err
	}
	n, err := seqfile.IngestSeeds(c.cfg.SeedPath, paths.ScoredPatternsRaw())
	if err != nil {
		return err
	}
	c.log.Info("seeds ingested", zap.Int("seeds", n), zap.String("path", paths.ScoredPatternsRaw()))
	return nil
}

func (c *Controller) roundState(i int) RoundState {
	prev := c.workspace.Paths(i - 1)
	return RoundState{
		Round:    i,
		Dir:      c.workspace.RoundDir(i),
		PrevDir:  prev.Root,
		SeedPath: prev.ScoredPatternsRaw(),
		Budget:   c.growth.Budget(c.cfg.NumContexts, i),
	}
}

// runRound executes every stage of one round. The returned metrics are
// never nil, even on failure.
func (c *Controller) runRound(ctx context.Context, rs RoundState) (*RoundMetrics, error) {
	start := time.Now()
	m := &RoundMetrics{Round: rs.Round, Budget: rs.Budget}
	rec := &types.RoundRecord{
		RunID:     c.runID,
		Round:     rs.Round,
		Status:    types.RoundRunning,
		Budget:    rs.Budget,
		Dir:       rs.Dir,
		StartedAt: start,
	}
	if c.metrics != nil {
		c.metrics.RecordRoundStart(rs.Round, rs.Budget)
	}
	c.recordRound(ctx, rec)
	c.log.Info("round started",
		zap.Int("round", rs.Round),
		zap.Int("budget", rs.Budget),
		zap.String("seeds", rs.SeedPath))

	err := c.stages(ctx, rs, m)

	m.Duration = time.Since(start)
	finished := time.Now()
	rec.FinishedAt = &finished
	rec.ContextsScored = m.ContextsScored
	rec.ContextsKept = m.ContextsKept
	rec.PatternsScored = m.PatternsScored
	if err != nil {
		m.Failed = true
		rec.Status = types.RoundFailed
		rec.Error = err.Error()
	} else {
		rec.Status = types.RoundCompleted
	}
	c.recordRound(ctx, rec)
	if c.metrics != nil {
		c.metrics.RecordRoundEnd(rs.Round, m)
	}

	if err == nil {
		c.log.Info("round finished",
			zap.Int("round", rs.Round),
			zap.Int("contexts_scored", m.ContextsScored),
			zap.Int("contexts_kept", m.ContextsKept),
			zap.Int("patterns_scored", m.PatternsScored),
			zap.Duration("elapsed", m.Duration))
	}
	return m, err
}

func (c *Controller) stages(ctx context.Context, rs RoundState, m *RoundMetrics) error {
	paths, err := c.workspace.PrepareRound(rs.Round)
	if err != nil {
		return err
	}
	minMatches := c.cfg.MinMatches

	if err := c.stage(rs, "extract-contexts", func() error {
		_, err := c.extractor.Run(ctx, rs.SeedPath, c.ref, types.KeyContext, minMatches, true, paths.Contexts)
		return err
	}); err != nil {
		return err
	}

	if err := c.stage(rs, "score-contexts", func() error {
		n, err := c.scorer.Run(ctx, c.contextScorer, paths.Contexts, paths.ContextsScored)
		m.ContextsScored = n
		m.ContextsKept = n
		return err
	}); err != nil {
		return err
	}

	contexts := paths.ScoredContextsRaw()
	if rs.Bounded() {
		if err := c.stage(rs, "select-contexts", func() error {
			n, err := c.selector.Select(ctx, paths.ScoredContextsRaw(), paths.ContextsTop, types.KeyContext, rs.Budget)
			m.ContextsKept = n
			return err
		}); err != nil {
			return err
		}
		contexts = paths.ContextsTop
	}

	if err := c.stage(rs, "extract-patterns", func() error {
		_, err := c.extractor.Run(ctx, contexts, c.ref, types.KeyPattern, minMatches, true, paths.Patterns)
		return err
	}); err != nil {
		return err
	}

	if err := c.stage(rs, "score-patterns", func() error {
		n, err := c.scorer.Run(ctx, c.patternScorer, paths.Patterns, paths.PatternsScored)
		m.PatternsScored = n
		return err
	}); err != nil {
		return err
	}

	return c.workspace.Retire(rs.Round - 1)
}

// stage runs one step of a round with start/finish logging.
func (c *Controller) stage(rs RoundState, name string, fn func() error) error {
	start := time.Now()
	c.log.Debug("stage started", zap.Int("round", rs.Round), zap.String("stage", name))
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	c.log.Info("stage finished",
		zap.Int("round", rs.Round),
		zap.String("stage", name),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// recordRound writes a round record. Journal failures are logged and do
// not abort the run.
func (c *Controller) recordRound(ctx context.Context, rec *types.RoundRecord) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordRound(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Warn("failed to journal round", zap.Int("round", rec.Round), zap.Error(err))
	}
}

func (c *Controller) finish(ctx context.Context, status types.RunStatus, lastRound int, runErr error, rounds []*RoundMetrics, elapsed time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordRunComplete(&RunMetrics{
			RunID:         c.runID,
			Rounds:        rounds,
			Succeeded:     status == types.RunSucceeded,
			TotalDuration: elapsed,
		})
	}
	if c.journal == nil {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := c.journal.FinishRun(context.WithoutCancel(ctx), c.runID, status, lastRound, msg); err != nil {
		c.log.Warn("failed to journal run outcome", zap.String("run_id", c.runID), zap.Error(err))
	}
}
