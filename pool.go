package poolx

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/seasbee/go-logx"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Production constants
const (
	MinWorkersLimit        = 1
	MaxWorkersLimit        = 32
	MinQueueSizeLimit      = 1
	MaxQueueSizeLimit      = 100000
	DefaultMinWorkers      = 2
	DefaultQueueSize       = 10000
	DefaultSubmitTimeout   = 5 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMonitorInterval = 5 * time.Second
	DefaultScalingInterval = 30 * time.Second

	DefaultScaleUpThreshold   = 0.8
	DefaultScaleDownThreshold = 0.3
	ScaleUpStep               = 2
	ScaleDownStep             = 1

	// ScaleUpThroughputFloor: the pool only scales up when recent throughput
	// exceeds this, so a stalled pool does not add workers.
	ScaleUpThroughputFloor = 100.0 // tasks per minute

	autoDetectMaxWorkers  = 16
	workerStopTimeout     = 5 * time.Second
	completionPollBackoff = 100 * time.Millisecond
	defaultResultTimeout  = 1 * time.Second

	healthWarnQueueUtilization     = 0.7
	healthCriticalQueueUtilization = 0.9
	healthSuccessRateFloor         = 0.95
	healthThroughputFloor          = 100.0
	healthThroughputMinSample      = 100
	healthActiveWorkerRatio        = 0.8
	healthMemoryWarnPercent        = 90.0
)

// Config defines worker pool configuration. Immutable after construction
// except MaxWorkers, which ScaleWorkers updates.
type Config struct {
	MaxWorkers            int           `json:"max_workers"`
	QueueSize             int           `json:"queue_size"`
	MinWorkers            int           `json:"min_workers"`
	EnableRecovery        bool          `json:"enable_recovery"`
	EnableAdaptiveScaling bool          `json:"enable_adaptive_scaling"`
	SubmitTimeout         time.Duration `json:"submit_timeout"`
	ShutdownTimeout       time.Duration `json:"shutdown_timeout"`
	MonitorInterval       time.Duration `json:"monitoring_interval"`
	ScalingInterval       time.Duration `json:"adaptive_scaling_interval"`
	ScaleUpThreshold      float64       `json:"scale_up_threshold"`
	ScaleDownThreshold    float64       `json:"scale_down_threshold"`
	StuckTimeout          time.Duration `json:"stuck_timeout"`
}

// DefaultConfig returns a default configuration with the worker count
// detected from available CPU cores and memory.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:            DetectWorkerCount(),
		QueueSize:             DefaultQueueSize,
		MinWorkers:            DefaultMinWorkers,
		EnableRecovery:        true,
		EnableAdaptiveScaling: true,
		SubmitTimeout:         DefaultSubmitTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		MonitorInterval:       DefaultMonitorInterval,
		ScalingInterval:       DefaultScalingInterval,
		ScaleUpThreshold:      DefaultScaleUpThreshold,
		ScaleDownThreshold:    DefaultScaleDownThreshold,
		StuckTimeout:          DefaultStuckTimeout,
	}
}

// HighThroughputConfig returns a configuration optimized for bulk workloads.
func HighThroughputConfig() Config {
	config := DefaultConfig()
	config.MaxWorkers = autoDetectMaxWorkers
	config.QueueSize = MaxQueueSizeLimit
	config.ScalingInterval = 15 * time.Second
	return config
}

// ResourceConstrainedConfig returns a configuration for constrained
// environments.
func ResourceConstrainedConfig() Config {
	config := DefaultConfig()
	config.MaxWorkers = DefaultMinWorkers
	config.QueueSize = 1000
	config.EnableAdaptiveScaling = false
	return config
}

// DetectWorkerCount picks a worker count from logical CPU cores and total
// memory, clamped to [2,16].
func DetectWorkerCount() int {
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}

	optimal := cores * 2
	if vm, err := mem.VirtualMemory(); err == nil {
		memGB := int(vm.Total / (1 << 30))
		if memGB*2 < optimal {
			optimal = memGB * 2
		}
	}

	if optimal < DefaultMinWorkers {
		optimal = DefaultMinWorkers
	}
	if optimal > autoDetectMaxWorkers {
		optimal = autoDetectMaxWorkers
	}
	return optimal
}

func applyConfigDefaults(config *Config) {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DetectWorkerCount()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.MinWorkers <= 0 {
		config.MinWorkers = DefaultMinWorkers
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = DefaultSubmitTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if config.MonitorInterval <= 0 {
		config.MonitorInterval = DefaultMonitorInterval
	}
	if config.ScalingInterval <= 0 {
		config.ScalingInterval = DefaultScalingInterval
	}
	if config.ScaleUpThreshold <= 0 {
		config.ScaleUpThreshold = DefaultScaleUpThreshold
	}
	if config.ScaleDownThreshold <= 0 {
		config.ScaleDownThreshold = DefaultScaleDownThreshold
	}
	if config.StuckTimeout <= 0 {
		config.StuckTimeout = DefaultStuckTimeout
	}
}

func validateConfig(config Config) error {
	if config.MaxWorkers < MinWorkersLimit || config.MaxWorkers > MaxWorkersLimit {
		return fmt.Errorf("max workers must be between %d and %d, got %d",
			MinWorkersLimit, MaxWorkersLimit, config.MaxWorkers)
	}
	if config.MinWorkers < MinWorkersLimit || config.MinWorkers > MaxWorkersLimit {
		return fmt.Errorf("min workers must be between %d and %d, got %d",
			MinWorkersLimit, MaxWorkersLimit, config.MinWorkers)
	}
	if config.MinWorkers > config.MaxWorkers {
		return fmt.Errorf("min workers (%d) cannot exceed max workers (%d)",
			config.MinWorkers, config.MaxWorkers)
	}
	if config.QueueSize < MinQueueSizeLimit || config.QueueSize > MaxQueueSizeLimit {
		return fmt.Errorf("queue size must be between %d and %d, got %d",
			MinQueueSizeLimit, MaxQueueSizeLimit, config.QueueSize)
	}
	if config.ScaleUpThreshold <= 0 || config.ScaleUpThreshold > 1 {
		return fmt.Errorf("scale up threshold must be in (0,1], got %v", config.ScaleUpThreshold)
	}
	if config.ScaleDownThreshold < 0 || config.ScaleDownThreshold >= config.ScaleUpThreshold {
		return fmt.Errorf("scale down threshold must be below scale up threshold, got %v", config.ScaleDownThreshold)
	}
	return nil
}

// Manager owns the shared queue, the result channel, the worker set and the
// background monitor.
type Manager struct {
	mu     sync.RWMutex
	config Config

	workers []*Worker
	nextID  int

	taskQueue chan Task
	results   chan Outcome

	// pending holds drained outcomes that GetResults has not returned yet.
	// The drain goroutine moves outcomes here continuously, so the result
	// backlog is bounded only by memory and workers never block on a full
	// result channel.
	pendingMu   sync.Mutex
	pending     []Outcome
	resultReady chan struct{}

	metrics *PoolMetrics

	running int32

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
	drainStop     chan struct{}
	drainDone     chan struct{}
}

// New creates a worker pool manager with the given configuration.
func New(config Config) (*Manager, error) {
	applyConfigDefaults(&config)
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Manager{
		config:      config,
		taskQueue:   make(chan Task, config.QueueSize),
		results:     make(chan Outcome, config.QueueSize),
		resultReady: make(chan struct{}, 1),
		metrics:     NewPoolMetrics(),
	}, nil
}

// Start creates and starts the workers, the result drain goroutine and,
// when recovery or adaptive scaling is enabled, one monitor goroutine.
// Idempotent.
func (m *Manager) Start() {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return
	}

	m.mu.Lock()
	if atomic.LoadInt32(&m.running) == 0 {
		// a concurrent Stop won the lock race before setup began
		m.mu.Unlock()
		return
	}
	m.metrics.markStarted()
	for i := 0; i < m.config.MaxWorkers; i++ {
		w := NewWorker(m.nextID, m.taskQueue, m.results)
		m.nextID++
		w.Start()
		m.workers = append(m.workers, w)
	}
	count := len(m.workers)
	recovery := m.config.EnableRecovery
	scaling := m.config.EnableAdaptiveScaling

	m.drainStop = make(chan struct{})
	m.drainDone = make(chan struct{})
	go m.drainLoop(m.drainStop, m.drainDone)

	if recovery || scaling {
		ctx, cancel := context.WithCancel(context.Background())
		m.monitorCancel = cancel
		m.monitorDone = make(chan struct{})
		go m.monitor(ctx)
	}
	m.mu.Unlock()

	logx.Info("worker pool started",
		logx.Int("workers", count),
		logx.Bool("recovery", recovery),
		logx.Bool("adaptive_scaling", scaling))
}

// Stop stops the monitor, pushes one shutdown sentinel per worker, stops
// each worker within the timeout budget, then stops the drain goroutine.
// The drain goroutine outlives the workers so a worker mid-send can always
// finish its outcome. Idempotent; a second call is a no-op.
func (m *Manager) Stop(timeout time.Duration) {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return
	}
	if timeout <= 0 {
		timeout = m.config.ShutdownTimeout
	}

	m.mu.Lock()
	monitorCancel := m.monitorCancel
	monitorDone := m.monitorDone
	m.monitorCancel = nil
	m.monitorDone = nil
	drainStop := m.drainStop
	drainDone := m.drainDone
	m.drainStop = nil
	m.drainDone = nil
	workers := m.workers
	m.workers = nil
	m.mu.Unlock()

	if monitorCancel != nil {
		monitorCancel()
		<-monitorDone
	}

	// one sentinel per worker so idle workers unblock promptly
	for range workers {
		select {
		case m.taskQueue <- Task{poison: true}:
		default:
		}
	}

	deadline := time.Now().Add(timeout)
	for _, w := range workers {
		if !w.Stop(time.Until(deadline)) {
			logx.Warn("worker leaked during shutdown", logx.Int("worker_id", w.ID()))
		}
	}

	if drainStop != nil {
		close(drainStop)
		<-drainDone
	}

	logx.Info("worker pool stopped", logx.Int("workers_stopped", len(workers)))
}

// drainLoop continuously moves outcomes from the result channel into the
// pending buffer. The channel capacity is only a handoff buffer; the
// backlog a slow caller accumulates lives in pending, so workers never
// wedge on the outcome send.
func (m *Manager) drainLoop(stop, done chan struct{}) {
	defer close(done)

	for {
		select {
		case o := <-m.results:
			m.recordPending(o)
		case <-stop:
			m.drainAvailable()
			return
		}
	}
}

// IsRunning reports whether the pool is started.
func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

// WorkerCount returns the current size of the worker set.
func (m *Manager) WorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// SubmitTask attaches submission metadata and attempts a bounded-wait
// enqueue. Returns false when the queue is still full after the wait; this
// is the pool's backpressure signal and the task was not accepted.
func (m *Manager) SubmitTask(task Task, priority Priority) bool {
	if !m.IsRunning() {
		return false
	}
	if task.Handler == nil {
		logx.Warn("task rejected: nil handler", logx.String("kind", task.Kind))
		return false
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Priority = priority
	task.SubmittedAt = time.Now()

	select {
	case m.taskQueue <- task:
		m.metrics.RecordSubmission()
		return true
	default:
	}

	timer := time.NewTimer(m.config.SubmitTimeout)
	defer timer.Stop()
	select {
	case m.taskQueue <- task:
		m.metrics.RecordSubmission()
		return true
	case <-timer.C:
		logx.Warn("task queue full, submission rejected",
			logx.String("task_id", task.ID),
			logx.String("kind", task.Kind))
		return false
	}
}

// SubmitTasks submits sequentially, stopping at the first rejection, and
// returns the number accepted.
func (m *Manager) SubmitTasks(tasks []Task, priority Priority) int {
	submitted := 0
	for _, task := range tasks {
		if !m.SubmitTask(task, priority) {
			break
		}
		submitted++
	}
	return submitted
}

// drainAvailable moves every currently available outcome into the pending
// list, updating pool metrics once per outcome.
func (m *Manager) drainAvailable() {
	for {
		select {
		case o := <-m.results:
			m.recordPending(o)
		default:
			return
		}
	}
}

func (m *Manager) recordPending(o Outcome) {
	m.metrics.RecordOutcome(o)
	m.pendingMu.Lock()
	m.pending = append(m.pending, o)
	m.pendingMu.Unlock()
	select {
	case m.resultReady <- struct{}{}:
	default:
	}
}

func (m *Manager) takePending() []Outcome {
	m.pendingMu.Lock()
	out := m.pending
	m.pending = nil
	m.pendingMu.Unlock()
	return out
}

// GetResults drains all currently available outcomes. When none are
// immediately available it waits up to timeout for one before giving up.
// Never blocks waiting for a specific task.
func (m *Manager) GetResults(timeout time.Duration) []Outcome {
	if timeout <= 0 {
		timeout = defaultResultTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		m.drainAvailable()
		if out := m.takePending(); len(out) > 0 {
			return out
		}
		select {
		case <-m.resultReady:
			// the drain goroutine recorded something; loop and take it
		case <-timer.C:
			m.drainAvailable()
			return m.takePending()
		}
	}
}

// WaitForCompletion polls until every accepted task has an outcome.
// Outcomes drained while waiting stay buffered for the next GetResults
// call. Returns false on timeout or when all workers have gone inactive
// with tasks still pending. A timeout of zero or less waits indefinitely.
func (m *Manager) WaitForCompletion(timeout time.Duration) bool {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		m.drainAvailable()
		if m.metrics.TasksCompleted() >= m.metrics.TasksSubmitted() {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		if m.activeWorkerCount() == 0 {
			logx.Error("all workers stopped with tasks pending",
				logx.Int("pending", int(m.metrics.TasksSubmitted()-m.metrics.TasksCompleted())))
			return false
		}
		time.Sleep(completionPollBackoff)
	}
}

func (m *Manager) activeWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := 0
	for _, w := range m.workers {
		if w.IsActive() {
			active++
		}
	}
	return active
}

// ScaleWorkers resizes the worker set to target, clamped to [1,32]. Growing
// starts fresh workers with ids continuing the sequence; shrinking pops
// workers from the end and stops them, waiting for their in-flight task.
func (m *Manager) ScaleWorkers(target int) {
	if !m.IsRunning() {
		return
	}
	if target < MinWorkersLimit {
		target = MinWorkersLimit
	}
	if target > MaxWorkersLimit {
		target = MaxWorkersLimit
	}

	var removed []*Worker
	m.mu.Lock()
	current := len(m.workers)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			w := NewWorker(m.nextID, m.taskQueue, m.results)
			m.nextID++
			w.Start()
			m.workers = append(m.workers, w)
		}
	case target < current:
		removed = append(removed, m.workers[target:]...)
		m.workers = m.workers[:target]
	}
	m.config.MaxWorkers = target
	m.mu.Unlock()

	for _, w := range removed {
		w.Stop(workerStopTimeout)
	}

	if target != current {
		logx.Info("scaled worker pool",
			logx.Int("from", current),
			logx.Int("to", target))
	}
}

// monitor is the single long-lived background loop: worker health and
// recovery every MonitorInterval, adaptive scaling every ScalingInterval.
func (m *Manager) monitor(ctx context.Context) {
	defer close(m.monitorDone)

	ticker := time.NewTicker(m.config.MonitorInterval)
	defer ticker.Stop()

	lastScalingCheck := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runMonitorCycle(&lastScalingCheck)
		}
	}
}

// runMonitorCycle never lets one failed cycle stop monitoring.
func (m *Manager) runMonitorCycle(lastScalingCheck *time.Time) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error("monitor cycle failed", logx.Any("panic", r))
		}
	}()

	if m.config.EnableRecovery {
		m.checkWorkerHealth()
	}
	if m.config.EnableAdaptiveScaling && time.Since(*lastScalingCheck) >= m.config.ScalingInterval {
		m.adaptiveScale()
		*lastScalingCheck = time.Now()
	}
}

// checkWorkerHealth replaces workers that tripped the circuit breaker,
// exhausted loop recovery, or appear stuck. Replacement keeps the worker id
// and resets its metrics.
func (m *Manager) checkWorkerHealth() {
	m.mu.RLock()
	workers := append([]*Worker(nil), m.workers...)
	m.mu.RUnlock()

	for index, w := range workers {
		if w.NeedsRestart() || w.IsStuck(m.config.StuckTimeout) {
			logx.Warn("worker needs restart",
				logx.Int("worker_id", w.ID()),
				logx.Bool("stuck", w.IsStuck(m.config.StuckTimeout)),
				logx.Int("consecutive_failures", int(w.Metrics().ConsecutiveFailures())),
				logx.Int("recovery_attempts", w.RecoveryAttempts()))
			m.restartWorker(index, w)
		}
	}
}

func (m *Manager) restartWorker(index int, old *Worker) {
	old.Stop(workerStopTimeout)

	replacement := NewWorker(old.ID(), m.taskQueue, m.results)
	replacement.Start()

	m.mu.Lock()
	if index < len(m.workers) && m.workers[index] == old {
		m.workers[index] = replacement
		m.mu.Unlock()
		logx.Info("worker restarted", logx.Int("worker_id", old.ID()))
		return
	}
	m.mu.Unlock()

	// the set changed underneath us (scale down or stop); drop the spare
	replacement.Stop(workerStopTimeout)
}

// adaptiveScale adjusts the worker count from observed utilization and
// throughput. Advisory: a slow cycle may leave the pool mis-sized until the
// next check.
func (m *Manager) adaptiveScale() {
	m.mu.RLock()
	count := len(m.workers)
	busy := 0
	for _, w := range m.workers {
		if w.CurrentTask() != nil {
			busy++
		}
	}
	minWorkers := m.config.MinWorkers
	scaleUp := m.config.ScaleUpThreshold
	scaleDown := m.config.ScaleDownThreshold
	m.mu.RUnlock()

	if count == 0 {
		return
	}

	utilization := float64(busy) / float64(count)
	throughput := m.metrics.TasksPerMinute()

	logx.Info("adaptive scaling check",
		logx.Float64("utilization", utilization),
		logx.Float64("tasks_per_minute", throughput),
		logx.Int("workers", count))

	if utilization > scaleUp && throughput > ScaleUpThroughputFloor {
		target := count + ScaleUpStep
		if target > MaxWorkersLimit {
			target = MaxWorkersLimit
		}
		if target > count {
			m.ScaleWorkers(target)
		}
	} else if utilization < scaleDown && count > minWorkers {
		target := count - ScaleDownStep
		if target < minWorkers {
			target = minWorkers
		}
		m.ScaleWorkers(target)
	}
}

// QueueStats describes the shared queue and result channel.
type QueueStats struct {
	TaskQueueDepth   int     `json:"task_queue_depth"`
	ResultQueueDepth int     `json:"result_queue_depth"`
	QueueCapacity    int     `json:"queue_capacity"`
	QueueUtilization float64 `json:"queue_utilization"`
}

// SystemStats describes process and host resource usage, best effort.
type SystemStats struct {
	ProcessCPUPercent   float64 `json:"process_cpu_percent"`
	ProcessMemoryMB     float64 `json:"process_memory_mb"`
	SystemCPUPercent    float64 `json:"system_cpu_percent"`
	SystemMemoryPercent float64 `json:"system_memory_percent"`
}

// Stats is a full read-only snapshot of the pool.
type Stats struct {
	IsRunning             bool                `json:"is_running"`
	MaxWorkers            int                 `json:"max_workers"`
	Pool                  PoolMetricsSnapshot `json:"pool_stats"`
	Workers               []WorkerSnapshot    `json:"worker_stats"`
	Queue                 QueueStats          `json:"queue_stats"`
	System                SystemStats         `json:"system_stats"`
	RecoveryEnabled       bool                `json:"recovery_enabled"`
	AdaptiveScalingEnable bool                `json:"adaptive_scaling_enabled"`
}

// GetStats returns a snapshot of pool, worker, queue and system counters.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	workers := append([]*Worker(nil), m.workers...)
	maxWorkers := m.config.MaxWorkers
	recovery := m.config.EnableRecovery
	scaling := m.config.EnableAdaptiveScaling
	queueCapacity := m.config.QueueSize
	m.mu.RUnlock()

	workerStats := make([]WorkerSnapshot, 0, len(workers))
	for _, w := range workers {
		workerStats = append(workerStats, w.Snapshot())
	}

	depth := len(m.taskQueue)
	utilization := 0.0
	if queueCapacity > 0 {
		utilization = float64(depth) / float64(queueCapacity)
	}

	m.pendingMu.Lock()
	pendingResults := len(m.pending)
	m.pendingMu.Unlock()

	return Stats{
		IsRunning:  m.IsRunning(),
		MaxWorkers: maxWorkers,
		Pool:       m.metrics.Snapshot(),
		Workers:    workerStats,
		Queue: QueueStats{
			TaskQueueDepth:   depth,
			ResultQueueDepth: len(m.results) + pendingResults,
			QueueCapacity:    queueCapacity,
			QueueUtilization: utilization,
		},
		System:                collectSystemStats(),
		RecoveryEnabled:       recovery,
		AdaptiveScalingEnable: scaling,
	}
}

// collectSystemStats samples process and host usage; zeros on failure. A
// sampling error must never fail stats collection.
func collectSystemStats() SystemStats {
	var stats SystemStats

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			stats.ProcessCPUPercent = pct
		}
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			stats.ProcessMemoryMB = float64(info.RSS) / (1 << 20)
		}
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		stats.SystemCPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.SystemMemoryPercent = vm.UsedPercent
	}

	return stats
}

// HealthReport is the result of a pool health check. Status is "critical"
// when any issue exists, "degraded" when only warnings exist, otherwise
// "healthy".
type HealthReport struct {
	Healthy          bool     `json:"healthy"`
	Status           string   `json:"status"`
	Issues           []string `json:"issues"`
	Warnings         []string `json:"warnings"`
	Recommendations  []string `json:"recommendations"`
	ActiveWorkers    int      `json:"active_workers"`
	HealthyWorkers   int      `json:"healthy_workers"`
	StuckWorkers     int      `json:"stuck_workers"`
	QueueUtilization float64  `json:"queue_utilization"`
}

// HealthCheck evaluates worker, queue and throughput conditions and
// classifies the pool's overall status.
func (m *Manager) HealthCheck() HealthReport {
	m.mu.RLock()
	workers := append([]*Worker(nil), m.workers...)
	maxWorkers := m.config.MaxWorkers
	queueCapacity := m.config.QueueSize
	stuckTimeout := m.config.StuckTimeout
	m.mu.RUnlock()

	var report HealthReport

	for _, w := range workers {
		switch {
		case !w.IsActive():
			report.Issues = append(report.Issues,
				fmt.Sprintf("worker %d is not active", w.ID()))
		case !w.Metrics().IsHealthy():
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("worker %d is unhealthy (%d consecutive failures)",
					w.ID(), w.Metrics().ConsecutiveFailures()))
			report.ActiveWorkers++
		default:
			report.HealthyWorkers++
			report.ActiveWorkers++
		}

		if w.IsStuck(stuckTimeout) {
			report.StuckWorkers++
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("worker %d appears stuck on task", w.ID()))
		}
	}

	if float64(report.ActiveWorkers) < float64(maxWorkers)*healthActiveWorkerRatio {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("only %d/%d workers are active", report.ActiveWorkers, maxWorkers))
		report.Recommendations = append(report.Recommendations,
			"consider restarting the pool to recover workers")
	}

	if queueCapacity > 0 {
		report.QueueUtilization = float64(len(m.taskQueue)) / float64(queueCapacity)
	}
	switch {
	case report.QueueUtilization >= healthCriticalQueueUtilization:
		report.Issues = append(report.Issues, "task queue is nearly full (90%+ utilization)")
		report.Recommendations = append(report.Recommendations,
			"increase queue size or add more workers")
	case report.QueueUtilization >= healthWarnQueueUtilization:
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("task queue is at %.1f%% capacity", report.QueueUtilization*100))
	}

	poolSnap := m.metrics.Snapshot()
	if poolSnap.TasksCompleted > 0 && poolSnap.SuccessRate < healthSuccessRateFloor {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("success rate is low (%.1f%%)", poolSnap.SuccessRate*100))
		report.Recommendations = append(report.Recommendations,
			"check task configuration and worker health")
	}
	if poolSnap.TasksCompleted > healthThroughputMinSample && poolSnap.TasksPerMinute < healthThroughputFloor {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("throughput is low (%.1f tasks/minute)", poolSnap.TasksPerMinute))
		report.Recommendations = append(report.Recommendations,
			"consider scaling up workers or optimizing task processing")
	}

	if vm, err := mem.VirtualMemory(); err == nil && vm.UsedPercent > healthMemoryWarnPercent {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("system memory is at %.1f%%", vm.UsedPercent))
		report.Recommendations = append(report.Recommendations,
			"consider reducing worker count or memory usage")
	}

	report.Healthy = len(report.Issues) == 0 &&
		float64(report.HealthyWorkers) >= float64(report.ActiveWorkers)*healthActiveWorkerRatio
	switch {
	case len(report.Issues) > 0:
		report.Status = "critical"
	case len(report.Warnings) > 0:
		report.Status = "degraded"
	default:
		report.Status = "healthy"
	}

	return report
}
