package poolx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRingBelowCapacity(t *testing.T) {
	ring := newSampleRing(5)

	ring.add(sample{Duration: time.Millisecond, Success: true})
	ring.add(sample{Duration: 2 * time.Millisecond, Success: false})

	assert.Equal(t, 2, ring.size())

	snapshot := ring.snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, time.Millisecond, snapshot[0].Duration)
	assert.True(t, snapshot[0].Success)
	assert.False(t, snapshot[1].Success)
}

func TestSampleRingOverwritesOldest(t *testing.T) {
	ring := newSampleRing(3)

	for i := 1; i <= 5; i++ {
		ring.add(sample{Duration: time.Duration(i) * time.Millisecond, Success: true})
	}

	assert.Equal(t, 3, ring.size())

	snapshot := ring.snapshot()
	require.Len(t, snapshot, 3)
	// oldest first: samples 3, 4, 5 survive
	assert.Equal(t, 3*time.Millisecond, snapshot[0].Duration)
	assert.Equal(t, 4*time.Millisecond, snapshot[1].Duration)
	assert.Equal(t, 5*time.Millisecond, snapshot[2].Duration)
}

func TestWorkerMetricsHealthTransition(t *testing.T) {
	metrics := NewWorkerMetrics(1)
	assert.True(t, metrics.IsHealthy())

	for i := 0; i < UnhealthyFailureThreshold-1; i++ {
		metrics.UpdatePerformance(time.Millisecond, false)
	}
	assert.True(t, metrics.IsHealthy())
	assert.Equal(t, int64(UnhealthyFailureThreshold-1), metrics.ConsecutiveFailures())

	metrics.UpdatePerformance(time.Millisecond, false)
	assert.False(t, metrics.IsHealthy())
}

func TestWorkerMetricsSuccessResetsFailureStreak(t *testing.T) {
	metrics := NewWorkerMetrics(1)

	for i := 0; i < UnhealthyFailureThreshold; i++ {
		metrics.UpdatePerformance(time.Millisecond, false)
	}
	require.False(t, metrics.IsHealthy())

	metrics.UpdatePerformance(time.Millisecond, true)
	assert.True(t, metrics.IsHealthy())
	assert.Equal(t, int64(0), metrics.ConsecutiveFailures())
}

func TestWorkerMetricsAverageDuration(t *testing.T) {
	metrics := NewWorkerMetrics(1)

	metrics.UpdatePerformance(10*time.Millisecond, true)
	metrics.UpdatePerformance(20*time.Millisecond, true)
	// failures do not contribute to the average
	metrics.UpdatePerformance(100*time.Millisecond, false)

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(2), snapshot.TasksCompleted)
	assert.Equal(t, int64(1), snapshot.TasksFailed)
	assert.Equal(t, 15*time.Millisecond, snapshot.AvgDuration)
}

func TestPoolMetricsCounters(t *testing.T) {
	metrics := NewPoolMetrics()
	metrics.markStarted()

	for i := 0; i < 10; i++ {
		metrics.RecordSubmission()
	}
	for i := 0; i < 8; i++ {
		metrics.RecordOutcome(Outcome{Success: true, Duration: time.Millisecond})
	}
	metrics.RecordOutcome(Outcome{Success: false, Duration: time.Millisecond})

	assert.Equal(t, int64(10), metrics.TasksSubmitted())
	assert.Equal(t, int64(9), metrics.TasksCompleted())
	assert.Equal(t, int64(1), metrics.TasksFailed())
	assert.InDelta(t, 8.0/9.0, metrics.SuccessRate(), 1e-9)
}

func TestPoolMetricsSnapshotRecentWindow(t *testing.T) {
	metrics := NewPoolMetrics()
	metrics.markStarted()

	metrics.RecordSubmission()
	metrics.RecordSubmission()
	metrics.RecordOutcome(Outcome{Success: true, Duration: 2 * time.Millisecond})
	metrics.RecordOutcome(Outcome{Success: false, Duration: 4 * time.Millisecond})

	snapshot := metrics.Snapshot()
	assert.Equal(t, int64(2), snapshot.TasksSubmitted)
	assert.Equal(t, int64(2), snapshot.TasksCompleted)
	assert.Equal(t, int64(1), snapshot.TasksFailed)
	assert.InDelta(t, 0.5, snapshot.RecentSuccessRate, 1e-9)
	assert.Equal(t, 3*time.Millisecond, snapshot.RecentAvgDuration)
}

func TestPoolMetricsSuccessRateNoOutcomes(t *testing.T) {
	metrics := NewPoolMetrics()
	assert.Equal(t, 1.0, metrics.SuccessRate())
}
