// Package config holds the harvest configuration and its layered loading:
// defaults, then an optional YAML file, then ESPRESSO_* environment
// variables. Command-line flags are applied last by the CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/steveyegge/espresso/internal/types"
)

// Growth policies for the per-round context budget.
const (
	GrowthLinear = "linear"
	GrowthFixed  = "fixed"
)

// Retention policies for retired round directories.
const (
	RetentionImmediate = "immediate"
	RetentionDeferred  = "deferred"
)

// DefaultJournalName is the journal file created under the output path
// when no journal path is configured.
const DefaultJournalName = "_journal.db"

// HarvestConfig holds every parameter of a harvest run
type HarvestConfig struct {
	// SeedPath is the plain-text seed pattern file (required)
	SeedPath string

	// CorpusPath and CorpusClass locate the corpus (path required)
	// Default class: text
	CorpusPath  string
	CorpusClass string

	// ExtractorClass and ExtractorArgs select the extractor
	// Default: slot with its own default arguments
	ExtractorClass string
	ExtractorArgs  string

	// ScorerClass and ScorerArgs select the scorer used on both sides
	// Default: espresso
	ScorerClass string
	ScorerArgs  string

	// NumContexts is the per-round context budget unit
	// Negative disables top-K selection (every scored context is kept)
	// Default: 100
	NumContexts int

	// MinMatches drops (pattern, context) pairs seen fewer times
	// Default: 1
	MinMatches int

	// Iterations is the number of bootstrapping rounds
	// Default: 1
	Iterations int

	// OutputPath is the workspace root (required)
	OutputPath string

	// Growth turns NumContexts into a round budget: "linear" or "fixed"
	Growth string

	// Retention controls when retired rounds are removed:
	// "immediate" or "deferred"
	Retention string

	// ChunkSize bounds the examples per split chunk
	// Default: 1000
	ChunkSize int

	// Parallelism bounds concurrently running batch tasks
	// Default: runtime.NumCPU()
	Parallelism int

	// TaskRate limits batch task starts per second (0 = unlimited)
	TaskRate float64

	// MaxSources caps the "doc:line" locations kept per example
	// Default: 3
	MaxSources int

	// JournalPath is the SQLite run journal
	// Default: <OutputPath>/_journal.db
	JournalPath string

	// NoJournal disables the run journal
	NoJournal bool
}

// DefaultHarvestConfig returns the default harvest configuration. Paths are
// left empty and must be supplied.
func DefaultHarvestConfig() HarvestConfig {
	return HarvestConfig{
		CorpusClass:    "text",
		ExtractorClass: "slot",
		ScorerClass:    "espresso",
		NumContexts:    100,
		MinMatches:     1,
		Iterations:     1,
		Growth:         GrowthLinear,
		Retention:      RetentionImmediate,
		ChunkSize:      1000,
		Parallelism:    runtime.NumCPU(),
		MaxSources:     3,
	}
}

func invalid(field, format string, args ...any) error {
	return &types.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks if the configuration has valid values. Failures are
// reported as *types.ConfigurationError.
func (c HarvestConfig) Validate() error {
	if c.SeedPath == "" {
		return invalid("seeds", "seed input path is required")
	}
	if c.CorpusPath == "" {
		return invalid("corpus", "corpus path is required")
	}
	if c.CorpusClass == "" {
		return invalid("corpus_class", "corpus class is required")
	}
	if c.ExtractorClass == "" {
		return invalid("extractor", "extractor class is required")
	}
	if c.ScorerClass == "" {
		return invalid("scorer", "scorer class is required")
	}
	if c.OutputPath == "" {
		return invalid("output", "output path is required")
	}
	if c.MinMatches < 1 {
		return invalid("min_matches", "must be at least 1 (got %d)", c.MinMatches)
	}
	if c.Iterations < 1 {
		return invalid("iterations", "must be at least 1 (got %d)", c.Iterations)
	}
	if c.Growth != GrowthLinear && c.Growth != GrowthFixed {
		return invalid("growth", "must be %q or %q (got %q)", GrowthLinear, GrowthFixed, c.Growth)
	}
	if c.Retention != RetentionImmediate && c.Retention != RetentionDeferred {
		return invalid("retention", "must be %q or %q (got %q)", RetentionImmediate, RetentionDeferred, c.Retention)
	}
	if c.ChunkSize < 1 {
		return invalid("chunk_size", "must be at least 1 (got %d)", c.ChunkSize)
	}
	if c.Parallelism < 1 {
		return invalid("parallelism", "must be at least 1 (got %d)", c.Parallelism)
	}
	if c.TaskRate < 0 {
		return invalid("task_rate", "cannot be negative (got %g)", c.TaskRate)
	}
	if c.MaxSources < 0 {
		return invalid("max_sources", "cannot be negative (got %d)", c.MaxSources)
	}
	if c.SeedPath == c.OutputPath || c.CorpusPath == c.OutputPath {
		return invalid("output", "output path must differ from the seed and corpus paths")
	}
	return nil
}

// Journal returns the journal path in effect, or "" when disabled.
func (c HarvestConfig) Journal() string {
	if c.NoJournal {
		return ""
	}
	if c.JournalPath != "" {
		return c.JournalPath
	}
	if c.OutputPath == "" {
		return ""
	}
	return filepath.Join(c.OutputPath, DefaultJournalName)
}

// String returns a human-readable representation of the config
func (c HarvestConfig) String() string {
	return fmt.Sprintf(
		"HarvestConfig{Seeds: %s, Corpus: %s (%s), Extractor: %s [%s], "+
			"Scorer: %s [%s], NumContexts: %d, MinMatches: %d, Iterations: %d, "+
			"Output: %s, Growth: %s, Retention: %s, ChunkSize: %d, "+
			"Parallelism: %d, TaskRate: %g, MaxSources: %d, Journal: %q}",
		c.SeedPath, c.CorpusPath, c.CorpusClass, c.ExtractorClass, c.ExtractorArgs,
		c.ScorerClass, c.ScorerArgs, c.NumContexts, c.MinMatches, c.Iterations,
		c.OutputPath, c.Growth, c.Retention, c.ChunkSize,
		c.Parallelism, c.TaskRate, c.MaxSources, c.Journal(),
	)
}

// ApplyEnv overrides cfg with any ESPRESSO_* environment variables that
// are set.
//
// Environment variables:
//   - ESPRESSO_SEEDS, ESPRESSO_CORPUS, ESPRESSO_CORPUS_CLASS, ESPRESSO_OUTPUT
//   - ESPRESSO_EXTRACTOR, ESPRESSO_EXTRACTOR_ARGS
//   - ESPRESSO_SCORER, ESPRESSO_SCORER_ARGS
//   - ESPRESSO_NUM_CONTEXTS, ESPRESSO_MIN_MATCHES, ESPRESSO_ITERATIONS
//   - ESPRESSO_GROWTH, ESPRESSO_RETENTION
//   - ESPRESSO_CHUNK_SIZE, ESPRESSO_PARALLELISM, ESPRESSO_TASK_RATE
//   - ESPRESSO_MAX_SOURCES, ESPRESSO_JOURNAL, ESPRESSO_NO_JOURNAL
func ApplyEnv(cfg *HarvestConfig) error {
	strs := []struct {
		key  string
		dest *string
	}{
		{"ESPRESSO_SEEDS", &cfg.SeedPath},
		{"ESPRESSO_CORPUS", &cfg.CorpusPath},
		{"ESPRESSO_CORPUS_CLASS", &cfg.CorpusClass},
		{"ESPRESSO_EXTRACTOR", &cfg.ExtractorClass},
		{"ESPRESSO_EXTRACTOR_ARGS", &cfg.ExtractorArgs},
		{"ESPRESSO_SCORER", &cfg.ScorerClass},
		{"ESPRESSO_SCORER_ARGS", &cfg.ScorerArgs},
		{"ESPRESSO_OUTPUT", &cfg.OutputPath},
		{"ESPRESSO_GROWTH", &cfg.Growth},
		{"ESPRESSO_RETENTION", &cfg.Retention},
		{"ESPRESSO_JOURNAL", &cfg.JournalPath},
	}
	for _, s := range strs {
		if err := parseEnvString(s.key, s.dest); err != nil {
			return err
		}
	}

	ints := []struct {
		key  string
		dest *int
	}{
		{"ESPRESSO_NUM_CONTEXTS", &cfg.NumContexts},
		{"ESPRESSO_MIN_MATCHES", &cfg.MinMatches},
		{"ESPRESSO_ITERATIONS", &cfg.Iterations},
		{"ESPRESSO_CHUNK_SIZE", &cfg.ChunkSize},
		{"ESPRESSO_PARALLELISM", &cfg.Parallelism},
		{"ESPRESSO_MAX_SOURCES", &cfg.MaxSources},
	}
	for _, i := range ints {
		if err := parseEnvInt(i.key, i.dest); err != nil {
			return err
		}
	}

	if err := parseEnvFloat("ESPRESSO_TASK_RATE", &cfg.TaskRate); err != nil {
		return err
	}
	return parseEnvBool("ESPRESSO_NO_JOURNAL", &cfg.NoJournal)
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return invalid(key, "invalid integer %q", value)
	}
	*dest = parsed
	return nil
}

// parseEnvFloat parses a float from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return invalid(key, "invalid number %q", value)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return invalid(key, "invalid boolean %q", value)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	*dest = value
	return nil
}
