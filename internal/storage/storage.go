package storage

import (
	"context"

	"github.com/steveyegge/espresso/internal/storage/sqlite"
	"github.com/steveyegge/espresso/internal/types"
)

// Journal records harvest runs and their rounds
type Journal interface {
	// Runs
	StartRun(ctx context.Context, run *types.Run) error
	FinishRun(ctx context.Context, id string, status types.RunStatus, lastRound int, errMsg string) error
	GetRun(ctx context.Context, id string) (*types.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*types.Run, error)

	// Rounds
	RecordRound(ctx context.Context, r *types.RoundRecord) error
	GetRounds(ctx context.Context, runID string) ([]*types.RoundRecord, error)

	// Lifecycle
	Close() error
}

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = sqlite.ErrNotFound

// Config holds journal database configuration
type Config struct {
	// Path is the SQLite database file path
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string
}

// NewJournal opens the SQLite journal at cfg.Path, creating it if needed.
// The ctx parameter is currently unused but kept for API consistency.
func NewJournal(ctx context.Context, cfg *Config) (Journal, error) {
	if cfg == nil || cfg.Path == "" {
		cfg = &Config{Path: ":memory:"}
	}
	return sqlite.New(cfg.Path)
}
