package types

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a harvest run in the journal.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// IsValid checks if the run status value is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunRunning, RunSucceeded, RunFailed:
		return true
	}
	return false
}

// Run is the journal record of one harvest invocation.
type Run struct {
	ID         string
	Status     RunStatus
	Config     string // human-readable parameter summary
	Output     string
	Iterations int
	// LastRound is the latest fully completed round (0 before round 1
	// completes). After a failure it names the recovery point.
	LastRound  int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Validate checks if the run has valid field values
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid run status: %s", r.Status)
	}
	if r.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1 (got %d)", r.Iterations)
	}
	return nil
}

// RoundStatus is the state of one round in the journal.
type RoundStatus string

const (
	RoundRunning   RoundStatus = "running"
	RoundCompleted RoundStatus = "completed"
	RoundFailed    RoundStatus = "failed"
)

// RoundRecord is the journal record of one bootstrapping round.
type RoundRecord struct {
	RunID          string
	Round          int
	Status         RoundStatus
	Budget         int
	ContextsScored int
	ContextsKept   int
	PatternsScored int
	Dir            string
	Error          string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// Duration returns how long the round ran, or zero while it is running.
func (r *RoundRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
