// Package batch is the local stand-in for the distributed batch processor
// the harvest stages submit their work to.
//
// A Job is a set of independent map tasks followed by a single reduce step.
// RunJob blocks until the job has finished or failed: the map tasks run
// concurrently (bounded by Parallelism and optionally paced by TaskRate),
// the first failing task cancels its siblings, and the reduce step only
// runs once every map task has succeeded. A successful job leaves a
// _SUCCESS marker in its output directory.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// SuccessMarker is written into a job's output directory when it completes.
const SuccessMarker = "_SUCCESS"

// Task is one unit of parallel work within a job.
type Task func(ctx context.Context) error

// Job describes a batch computation.
type Job struct {
	// Name identifies the job in logs (e.g., "extract-contexts/3").
	Name string

	// Input is the collection the job reads. Informational only.
	Input string

	// Output is the directory the job writes. It is created before any
	// task runs. Empty means the job writes nothing of its own.
	Output string

	// Map tasks run concurrently.
	Map []Task

	// Reduce runs once after every map task succeeded. Optional.
	Reduce Task
}

// Processor runs batch jobs. Implementations must block until the job has
// completed or failed.
type Processor interface {
	RunJob(ctx context.Context, job Job) error
}

// Config configures a LocalProcessor.
type Config struct {
	// Parallelism bounds the number of concurrently running map tasks.
	// Zero or negative means runtime.NumCPU().
	Parallelism int

	// TaskRate limits how many map tasks start per second. Zero means
	// unlimited.
	TaskRate float64

	// Logger receives job lifecycle events. Nil disables logging.
	Logger *zap.Logger
}

// LocalProcessor executes jobs in-process.
type LocalProcessor struct {
	parallelism int
	limiter     *rate.Limiter
	log         *zap.Logger
}

// NewLocalProcessor creates a processor from cfg.
func NewLocalProcessor(cfg Config) *LocalProcessor {
	p := &LocalProcessor{
		parallelism: cfg.Parallelism,
		log:         cfg.Logger,
	}
	if p.parallelism <= 0 {
		p.parallelism = runtime.NumCPU()
	}
	if cfg.TaskRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.TaskRate), 1)
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

// Parallelism returns the map task concurrency limit.
func (p *LocalProcessor) Parallelism() int { return p.parallelism }

// RunJob implements Processor.
func (p *LocalProcessor) RunJob(ctx context.Context, job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	start := time.Now()
	log := p.log.With(zap.String("job", job.Name))
	log.Debug("job started",
		zap.String("input", job.Input),
		zap.String("output", job.Output),
		zap.Int("tasks", len(job.Map)))

	if job.Output != "" {
		if err := os.MkdirAll(job.Output, 0755); err != nil {
			return fmt.Errorf("job %s: failed to create output directory: %w", job.Name, err)
		}
	}

	if err := p.runMap(ctx, job.Map); err != nil {
		log.Warn("job failed in map phase", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return fmt.Errorf("job %s: %w", job.Name, err)
	}

	if job.Reduce != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("job %s canceled before reduce: %w", job.Name, err)
		}
		if err := job.Reduce(ctx); err != nil {
			log.Warn("job failed in reduce phase", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
	}

	if job.Output != "" {
		if err := os.WriteFile(filepath.Join(job.Output, SuccessMarker), nil, 0644); err != nil {
			return fmt.Errorf("job %s: failed to write success marker: %w", job.Name, err)
		}
	}

	log.Debug("job finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (p *LocalProcessor) runMap(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for _, task := range tasks {
		if p.limiter != nil {
			if err := p.limiter.Wait(gctx); err != nil {
				// Either the parent was canceled or a sibling failed;
				// Wait below reports the root cause.
				break
			}
		}
		if gctx.Err() != nil {
			break
		}
		task := task
		g.Go(func() error {
			return task(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
