package bootstrap

import (
	"sort"
	"time"
)

// MetricsCollector receives round and run measurements from the
// controller. Implementations must tolerate being called from a single
// goroutine only; the controller never calls them concurrently.
type MetricsCollector interface {
	// RecordRoundStart is called before the first stage of a round. A round
	// started but never ended is in flight.
	RecordRoundStart(round, budget int)

	// RecordRoundEnd is called after a round completes or fails
	RecordRoundEnd(round int, metrics *RoundMetrics)

	// RecordRunComplete is called once when the run ends
	RecordRunComplete(metrics *RunMetrics)

	// GetAggregateMetrics summarizes everything recorded so far
	GetAggregateMetrics() *AggregateMetrics
}

// RoundMetrics captures the outcome of one round.
type RoundMetrics struct {
	// Round is the 1-based round index
	Round int

	// Budget is the number of contexts the round may keep (-1 = unbounded)
	Budget int

	// ContextsScored is the number of distinct contexts scored this round
	ContextsScored int

	// ContextsKept is the number of contexts that seeded pattern extraction
	ContextsKept int

	// PatternsScored is the number of distinct patterns scored this round
	PatternsScored int

	// Duration is the wall-clock time of the round
	Duration time.Duration

	// Failed is set when a stage of the round returned an error
	Failed bool
}

// RunMetrics captures the outcome of one run.
type RunMetrics struct {
	RunID         string
	Rounds        []*RoundMetrics
	Succeeded     bool
	TotalDuration time.Duration
}

// AggregateMetrics summarizes all runs recorded by a collector.
type AggregateMetrics struct {
	TotalRuns     int
	SucceededRuns int
	FailedRuns    int

	TotalRounds  int
	FailedRounds int

	// Totals across completed rounds
	TotalContextsScored int
	TotalContextsKept   int
	TotalPatternsScored int

	// Round duration statistics over completed rounds
	MeanRoundDuration time.Duration
	P50RoundDuration  time.Duration
	P95RoundDuration  time.Duration

	TotalDuration time.Duration

	// InFlightRounds is the number of rounds started but not yet ended
	InFlightRounds int
}

// InMemoryMetricsCollector keeps metrics in memory. Useful for tests and
// for the CLI's end-of-run summary.
type InMemoryMetricsCollector struct {
	runs     []*RunMetrics
	current  []*RoundMetrics
	inFlight map[int]roundStart
}

type roundStart struct {
	budget int
	at     time.Time
}

// NewInMemoryMetricsCollector creates a new in-memory metrics collector
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{inFlight: make(map[int]roundStart)}
}

// RecordRoundStart implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordRoundStart(round, budget int) {
	if m.inFlight == nil {
		m.inFlight = make(map[int]roundStart)
	}
	m.inFlight[round] = roundStart{budget: budget, at: time.Now()}
}

// RecordRoundEnd implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordRoundEnd(round int, metrics *RoundMetrics) {
	started, ok := m.inFlight[round]
	delete(m.inFlight, round)
	if metrics == nil {
		return
	}
	if ok && metrics.Duration == 0 {
		metrics.Duration = time.Since(started.at)
	}
	m.current = append(m.current, metrics)
}

// InFlight returns the rounds started but not yet ended, ascending.
func (m *InMemoryMetricsCollector) InFlight() []int {
	rounds := make([]int, 0, len(m.inFlight))
	for r := range m.inFlight {
		rounds = append(rounds, r)
	}
	sort.Ints(rounds)
	return rounds
}

// RecordRunComplete implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordRunComplete(metrics *RunMetrics) {
	if metrics == nil {
		return
	}
	// A round that never reported its end did not complete.
	for _, r := range m.InFlight() {
		started := m.inFlight[r]
		m.current = append(m.current, &RoundMetrics{
			Round:    r,
			Budget:   started.budget,
			Duration: time.Since(started.at),
			Failed:   true,
		})
		delete(m.inFlight, r)
	}
	metrics.Rounds = m.current
	m.runs = append(m.runs, metrics)
	m.current = nil
}

// GetRuns returns every recorded run.
func (m *InMemoryMetricsCollector) GetRuns() []*RunMetrics {
	return m.runs
}

// GetAggregateMetrics implements MetricsCollector
func (m *InMemoryMetricsCollector) GetAggregateMetrics() *AggregateMetrics {
	agg := &AggregateMetrics{InFlightRounds: len(m.inFlight)}
	var durations []time.Duration

	for _, run := range m.runs {
		agg.TotalRuns++
		agg.TotalDuration += run.TotalDuration
		if run.Succeeded {
			agg.SucceededRuns++
		} else {
			agg.FailedRuns++
		}

		for _, r := range run.Rounds {
			agg.TotalRounds++
			if r.Failed {
				agg.FailedRounds++
				continue
			}
			agg.TotalContextsScored += r.ContextsScored
			agg.TotalContextsKept += r.ContextsKept
			agg.TotalPatternsScored += r.PatternsScored
			durations = append(durations, r.Duration)
		}
	}

	if len(durations) > 0 {
		var sum time.Duration
		for _, d := range durations {
			sum += d
		}
		agg.MeanRoundDuration = sum / time.Duration(len(durations))

		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		agg.P50RoundDuration = percentile(durations, 50)
		agg.P95RoundDuration = percentile(durations, 95)
	}

	return agg
}

// percentile returns the p-th percentile of a sorted slice
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := (len(sorted) * p) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
