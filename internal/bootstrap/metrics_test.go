package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryMetricsCollector_BasicCollection(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	collector.RecordRoundStart(1, 100)
	collector.RecordRoundEnd(1, &RoundMetrics{
		Round: 1, Budget: 100, ContextsScored: 250, ContextsKept: 100, PatternsScored: 40,
		Duration: 100 * time.Millisecond,
	})
	collector.RecordRoundStart(2, 200)
	collector.RecordRoundEnd(2, &RoundMetrics{
		Round: 2, Budget: 200, ContextsScored: 300, ContextsKept: 200, PatternsScored: 60,
		Duration: 300 * time.Millisecond,
	})
	collector.RecordRunComplete(&RunMetrics{RunID: "run-1", Succeeded: true, TotalDuration: 400 * time.Millisecond})

	runs := collector.GetRuns()
	require.Len(t, runs, 1)
	assert.Len(t, runs[0].Rounds, 2, "round metrics are attached to the run")

	agg := collector.GetAggregateMetrics()
	assert.Equal(t, 1, agg.TotalRuns)
	assert.Equal(t, 1, agg.SucceededRuns)
	assert.Equal(t, 2, agg.TotalRounds)
	assert.Equal(t, 550, agg.TotalContextsScored)
	assert.Equal(t, 300, agg.TotalContextsKept)
	assert.Equal(t, 100, agg.TotalPatternsScored)
	assert.Equal(t, 200*time.Millisecond, agg.MeanRoundDuration)
	assert.Equal(t, 300*time.Millisecond, agg.P50RoundDuration)
	assert.Equal(t, 300*time.Millisecond, agg.P95RoundDuration)
	assert.Equal(t, 400*time.Millisecond, agg.TotalDuration)
}

func TestInMemoryMetricsCollector_FailedRound(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	collector.RecordRoundEnd(1, &RoundMetrics{Round: 1, ContextsScored: 10, Duration: time.Second})
	collector.RecordRoundEnd(2, &RoundMetrics{Round: 2, ContextsScored: 99, Failed: true})
	collector.RecordRunComplete(&RunMetrics{RunID: "run-2"})

	agg := collector.GetAggregateMetrics()
	assert.Equal(t, 1, agg.FailedRuns)
	assert.Equal(t, 1, agg.FailedRounds)
	assert.Equal(t, 10, agg.TotalContextsScored, "failed rounds do not count toward totals")
	assert.Equal(t, time.Second, agg.MeanRoundDuration)
}

func TestInMemoryMetricsCollector_Empty(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	collector.RecordRoundEnd(1, nil)
	collector.RecordRunComplete(nil)

	agg := collector.GetAggregateMetrics()
	assert.Equal(t, 0, agg.TotalRuns)
	assert.Equal(t, time.Duration(0), agg.P95RoundDuration)
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
	sorted := []time.Duration{1, 2, 3, 4}
	assert.Equal(t, time.Duration(3), percentile(sorted, 50))
	assert.Equal(t, time.Duration(4), percentile(sorted, 95))
}

func TestInMemoryMetricsCollector_InFlightRounds(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	collector.RecordRoundStart(1, 10)
	collector.RecordRoundStart(2, 20)
	assert.Equal(t, []int{1, 2}, collector.InFlight())
	assert.Equal(t, 2, collector.GetAggregateMetrics().InFlightRounds)

	time.Sleep(time.Millisecond)
	collector.RecordRoundEnd(1, &RoundMetrics{Round: 1, Budget: 10, ContextsScored: 5})
	assert.Equal(t, []int{2}, collector.InFlight())

	collector.RecordRunComplete(&RunMetrics{RunID: "run-1"})
	assert.Empty(t, collector.InFlight())

	rounds := collector.GetRuns()[0].Rounds
	require.Len(t, rounds, 2)
	assert.Greater(t, rounds[0].Duration, time.Duration(0), "duration is measured from the recorded start")
	assert.False(t, rounds[0].Failed)
	assert.Equal(t, 2, rounds[1].Round)
	assert.Equal(t, 20, rounds[1].Budget)
	assert.True(t, rounds[1].Failed, "a round that never ended is counted as failed")

	agg := collector.GetAggregateMetrics()
	assert.Equal(t, 0, agg.InFlightRounds)
	assert.Equal(t, 1, agg.FailedRounds)
}
