package bootstrap

import (
	"fmt"
	"math"

	"github.com/steveyegge/espresso/internal/config"
	"github.com/steveyegge/espresso/internal/topk"
)

// State is a position in the controller's state machine.
type State int

const (
	StateInit State = iota
	StateRoundRunning
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRoundRunning:
		return "round-running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RoundState describes one round. It is built once per round and passed by
// value to every stage of that round.
type RoundState struct {
	Round    int
	Dir      string
	PrevDir  string
	SeedPath string
	Budget   int
}

// Bounded reports whether the round keeps only its best contexts.
func (r RoundState) Bounded() bool { return r.Budget >= 0 }

// GrowthPolicy turns the configured context budget unit into the budget of
// a given round (1-based).
type GrowthPolicy interface {
	Budget(numContexts, round int) int
}

// LinearGrowth keeps numContexts × round contexts, saturating at
// math.MaxInt.
type LinearGrowth struct{}

func (LinearGrowth) Budget(numContexts, round int) int {
	if numContexts < 0 {
		return topk.Unbounded
	}
	if round > 0 && numContexts > math.MaxInt/round {
		return math.MaxInt
	}
	return numContexts * round
}

// FixedGrowth keeps numContexts contexts every round.
type FixedGrowth struct{}

func (FixedGrowth) Budget(numContexts, round int) int {
	if numContexts < 0 {
		return topk.Unbounded
	}
	return numContexts
}

// GrowthFor resolves a growth policy by its configuration name.
func GrowthFor(name string) (GrowthPolicy, error) {
	switch name {
	case "", config.GrowthLinear:
		return LinearGrowth{}, nil
	case config.GrowthFixed:
		return FixedGrowth{}, nil
	default:
		return nil, fmt.Errorf("unknown growth policy %q", name)
	}
}
