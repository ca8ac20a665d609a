package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/espresso/internal/types"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStorage implements the run journal using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite journal. The special path ":memory:" creates
// an in-memory database (useful for tests).
func New(path string) (*SQLiteStorage, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// StartRun records a new run.
func (s *SQLiteStorage) StartRun(ctx context.Context, run *types.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, status, config, output, iterations, last_round, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Status, run.Config, run.Output, run.Iterations, run.LastRound, run.Error, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run succeeded or failed and records its last
// completed round.
func (s *SQLiteStorage) FinishRun(ctx context.Context, id string, status types.RunStatus, lastRound int, errMsg string) error {
	if status != types.RunSucceeded && status != types.RunFailed {
		return fmt.Errorf("invalid final status: %s", status)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, last_round = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, lastRound, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordRound inserts or updates the record of one round.
func (s *SQLiteStorage) RecordRound(ctx context.Context, r *types.RoundRecord) error {
	if r.RunID == "" {
		return fmt.Errorf("round record needs a run ID")
	}
	if r.Round < 1 {
		return fmt.Errorf("round must be at least 1 (got %d)", r.Round)
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	var finished sql.NullTime
	if r.FinishedAt != nil {
		finished = sql.NullTime{Time: r.FinishedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rounds (run_id, round, status, budget, contexts_scored, contexts_kept,
		                    patterns_scored, dir, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, round) DO UPDATE SET
			status = excluded.status,
			budget = excluded.budget,
			contexts_scored = excluded.contexts_scored,
			contexts_kept = excluded.contexts_kept,
			patterns_scored = excluded.patterns_scored,
			dir = excluded.dir,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, r.RunID, r.Round, r.Status, r.Budget, r.ContextsScored, r.ContextsKept,
		r.PatternsScored, r.Dir, r.Error, r.StartedAt.UTC(), finished)
	if err != nil {
		return fmt.Errorf("failed to record round %d: %w", r.Round, err)
	}

	if r.Status == types.RoundCompleted {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE runs SET last_round = MAX(last_round, ?) WHERE id = ?
		`, r.Round, r.RunID); err != nil {
			return fmt.Errorf("failed to advance last round: %w", err)
		}
	}
	return nil
}

const runColumns = `id, status, config, output, iterations, last_round, error, started_at, finished_at`

func scanRun(row interface{ Scan(...any) error }) (*types.Run, error) {
	run := &types.Run{}
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &run.Status, &run.Config, &run.Output, &run.Iterations,
		&run.LastRound, &run.Error, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]*types.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// GetRounds returns the rounds of a run in order.
func (s *SQLiteStorage) GetRounds(ctx context.Context, runID string) ([]*types.RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, round, status, budget, contexts_scored, contexts_kept,
		       patterns_scored, dir, error, started_at, finished_at
		FROM rounds
		WHERE run_id = ?
		ORDER BY round ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rounds []*types.RoundRecord
	for rows.Next() {
		r := &types.RoundRecord{}
		var finished sql.NullTime
		err := rows.Scan(&r.RunID, &r.Round, &r.Status, &r.Budget, &r.ContextsScored,
			&r.ContextsKept, &r.PatternsScored, &r.Dir, &r.Error, &r.StartedAt, &finished)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating round rows: %w", err)
	}
	return rounds, nil
}
