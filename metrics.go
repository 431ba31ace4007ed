package poolx

import (
	"sync"
	"sync/atomic"
	"time"
)

// Production constants
const (
	WorkerHistoryCapacity = 100
	PoolHistoryCapacity   = 1000
	RecentWindowSize      = 100

	// UnhealthyFailureThreshold is the circuit breaker: a worker whose
	// consecutive failure count reaches this value is unhealthy until its
	// next success.
	UnhealthyFailureThreshold = 5
)

// sample is one recorded task execution.
type sample struct {
	Duration  time.Duration
	Success   bool
	Timestamp time.Time
}

// sampleRing is a fixed-capacity ring of recent samples.
type sampleRing struct {
	mu   sync.Mutex
	buf  []sample
	next int
	full bool
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{buf: make([]sample, capacity)}
}

func (r *sampleRing) add(s sample) {
	r.mu.Lock()
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// snapshot returns the recorded samples oldest first.
func (r *sampleRing) snapshot() []sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]sample, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]sample, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

func (r *sampleRing) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// WorkerMetrics tracks one worker's execution record. Counters are written
// only by the owning worker; the monitor and stats readers see snapshots.
type WorkerMetrics struct {
	workerID            int
	tasksCompleted      atomic.Int64
	tasksFailed         atomic.Int64
	totalDuration       atomic.Int64 // nanoseconds, successful tasks only
	consecutiveFailures atomic.Int64
	lastHeartbeat       atomic.Int64 // unix nanoseconds
	history             *sampleRing
}

// NewWorkerMetrics creates a fresh metrics record for the given worker id.
func NewWorkerMetrics(workerID int) *WorkerMetrics {
	m := &WorkerMetrics{
		workerID: workerID,
		history:  newSampleRing(WorkerHistoryCapacity),
	}
	m.lastHeartbeat.Store(time.Now().UnixNano())
	return m
}

// UpdatePerformance records one task execution and re-evaluates health.
// Any success resets the consecutive failure count.
func (m *WorkerMetrics) UpdatePerformance(duration time.Duration, success bool) {
	now := time.Now()
	m.history.add(sample{Duration: duration, Success: success, Timestamp: now})
	if success {
		m.tasksCompleted.Add(1)
		m.totalDuration.Add(int64(duration))
		m.consecutiveFailures.Store(0)
	} else {
		m.tasksFailed.Add(1)
		m.consecutiveFailures.Add(1)
	}
	m.lastHeartbeat.Store(now.UnixNano())
}

// IsHealthy reports whether the worker is below the circuit breaker
// threshold.
func (m *WorkerMetrics) IsHealthy() bool {
	return m.consecutiveFailures.Load() < UnhealthyFailureThreshold
}

func (m *WorkerMetrics) TasksCompleted() int64 {
	return m.tasksCompleted.Load()
}

func (m *WorkerMetrics) TasksFailed() int64 {
	return m.tasksFailed.Load()
}

func (m *WorkerMetrics) ConsecutiveFailures() int64 {
	return m.consecutiveFailures.Load()
}

// AvgDuration is the mean duration over successful tasks.
func (m *WorkerMetrics) AvgDuration() time.Duration {
	completed := m.tasksCompleted.Load()
	if completed == 0 {
		return 0
	}
	return time.Duration(m.totalDuration.Load() / completed)
}

func (m *WorkerMetrics) LastHeartbeat() time.Time {
	return time.Unix(0, m.lastHeartbeat.Load())
}

// WorkerMetricsSnapshot is a point-in-time copy of a worker's metrics.
type WorkerMetricsSnapshot struct {
	WorkerID            int           `json:"worker_id"`
	TasksCompleted      int64         `json:"tasks_completed"`
	TasksFailed         int64         `json:"tasks_failed"`
	AvgDuration         time.Duration `json:"avg_duration"`
	ConsecutiveFailures int64         `json:"consecutive_failures"`
	IsHealthy           bool          `json:"is_healthy"`
	SuccessRate         float64       `json:"success_rate"`
	LastHeartbeat       time.Time     `json:"last_heartbeat"`
}

// Snapshot copies the current counters.
func (m *WorkerMetrics) Snapshot() WorkerMetricsSnapshot {
	completed := m.tasksCompleted.Load()
	failed := m.tasksFailed.Load()
	successRate := 1.0
	if completed+failed > 0 {
		successRate = float64(completed) / float64(completed+failed)
	}
	return WorkerMetricsSnapshot{
		WorkerID:            m.workerID,
		TasksCompleted:      completed,
		TasksFailed:         failed,
		AvgDuration:         m.AvgDuration(),
		ConsecutiveFailures: m.consecutiveFailures.Load(),
		IsHealthy:           m.IsHealthy(),
		SuccessRate:         successRate,
		LastHeartbeat:       m.LastHeartbeat(),
	}
}

// PoolMetrics aggregates counters across the pool. Submission counters are
// written on submit; completion counters are written only when results are
// drained.
type PoolMetrics struct {
	startTime      atomic.Int64 // unix nanoseconds, 0 until started
	tasksSubmitted atomic.Int64
	tasksCompleted atomic.Int64
	tasksFailed    atomic.Int64
	totalDuration  atomic.Int64 // nanoseconds
	history        *sampleRing
}

// NewPoolMetrics creates an empty pool metrics record.
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{history: newSampleRing(PoolHistoryCapacity)}
}

func (m *PoolMetrics) markStarted() {
	m.startTime.Store(time.Now().UnixNano())
}

// RecordSubmission counts one accepted task.
func (m *PoolMetrics) RecordSubmission() {
	m.tasksSubmitted.Add(1)
}

// RecordOutcome counts one drained outcome. Completed counts every outcome;
// failed additionally counts unsuccessful ones.
func (m *PoolMetrics) RecordOutcome(o Outcome) {
	m.tasksCompleted.Add(1)
	if !o.Success {
		m.tasksFailed.Add(1)
	}
	m.totalDuration.Add(int64(o.Duration))
	m.history.add(sample{Duration: o.Duration, Success: o.Success, Timestamp: o.CompletedAt})
}

func (m *PoolMetrics) TasksSubmitted() int64 {
	return m.tasksSubmitted.Load()
}

func (m *PoolMetrics) TasksCompleted() int64 {
	return m.tasksCompleted.Load()
}

func (m *PoolMetrics) TasksFailed() int64 {
	return m.tasksFailed.Load()
}

// Uptime is the time since the pool started, zero if it never started.
func (m *PoolMetrics) Uptime() time.Duration {
	start := m.startTime.Load()
	if start == 0 {
		return 0
	}
	return time.Since(time.Unix(0, start))
}

// TasksPerMinute is the completion throughput over the pool's uptime.
func (m *PoolMetrics) TasksPerMinute() float64 {
	uptime := m.Uptime().Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(m.tasksCompleted.Load()) / uptime * 60
}

// SuccessRate is the fraction of drained outcomes that succeeded.
func (m *PoolMetrics) SuccessRate() float64 {
	completed := m.tasksCompleted.Load()
	if completed == 0 {
		return 1.0
	}
	return float64(completed-m.tasksFailed.Load()) / float64(completed)
}

// PoolMetricsSnapshot is a point-in-time copy of the pool counters plus
// aggregates over the recent sample window.
type PoolMetricsSnapshot struct {
	TasksSubmitted    int64         `json:"tasks_submitted"`
	TasksCompleted    int64         `json:"tasks_completed"`
	TasksFailed       int64         `json:"tasks_failed"`
	TasksPending      int64         `json:"tasks_pending"`
	AvgDuration       time.Duration `json:"avg_duration"`
	TasksPerMinute    float64       `json:"tasks_per_minute"`
	SuccessRate       float64       `json:"success_rate"`
	RecentAvgDuration time.Duration `json:"recent_avg_duration"`
	RecentSuccessRate float64       `json:"recent_success_rate"`
	Uptime            time.Duration `json:"uptime"`
}

// Snapshot copies the current counters and computes recent-window
// aggregates over the last RecentWindowSize samples.
func (m *PoolMetrics) Snapshot() PoolMetricsSnapshot {
	completed := m.tasksCompleted.Load()
	submitted := m.tasksSubmitted.Load()

	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(m.totalDuration.Load() / completed)
	}

	recent := m.history.snapshot()
	if len(recent) > RecentWindowSize {
		recent = recent[len(recent)-RecentWindowSize:]
	}
	recentAvg := time.Duration(0)
	recentSuccessRate := 1.0
	if len(recent) > 0 {
		var total time.Duration
		successes := 0
		for _, s := range recent {
			total += s.Duration
			if s.Success {
				successes++
			}
		}
		recentAvg = total / time.Duration(len(recent))
		recentSuccessRate = float64(successes) / float64(len(recent))
	}

	return PoolMetricsSnapshot{
		TasksSubmitted:    submitted,
		TasksCompleted:    completed,
		TasksFailed:       m.tasksFailed.Load(),
		TasksPending:      submitted - completed,
		AvgDuration:       avg,
		TasksPerMinute:    m.TasksPerMinute(),
		SuccessRate:       m.SuccessRate(),
		RecentAvgDuration: recentAvg,
		RecentSuccessRate: recentSuccessRate,
		Uptime:            m.Uptime(),
	}
}
