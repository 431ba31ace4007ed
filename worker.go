package poolx

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/seasbee/go-logx"
)

// Production constants
const (
	MaxRecoveryAttemptsWorker = 3
	DefaultStuckTimeout       = 30 * time.Second
	QueuePollInterval         = 1 * time.Second
	workerRestartBackoff      = 10 * time.Millisecond
)

// Worker pulls tasks from the shared queue and executes them sequentially.
// A worker never runs two tasks concurrently; its metrics are written only
// by its own loop.
type Worker struct {
	id      int
	tasks   <-chan Task
	results chan<- Outcome

	metrics *WorkerMetrics

	stopChan chan struct{}
	done     chan struct{}

	started       int32
	stopRequested int32
	active        int32

	recoveryAttempts atomic.Int32
	inFlight         atomic.Int64

	currentTask  atomic.Pointer[Task]
	lastActivity atomic.Int64 // unix nanoseconds
	startTime    atomic.Int64 // unix nanoseconds, 0 until started
}

// NewWorker creates a worker bound to the shared task queue and result
// channel. The id stays stable across monitor restarts; a restart replaces
// the Worker instance, not the id.
func NewWorker(id int, tasks <-chan Task, results chan<- Outcome) *Worker {
	w := &Worker{
		id:       id,
		tasks:    tasks,
		results:  results,
		metrics:  NewWorkerMetrics(id),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	w.lastActivity.Store(time.Now().UnixNano())
	return w
}

// Start begins the dequeue loop on its own goroutine. Calling Start on a
// running worker is a no-op.
func (w *Worker) Start() {
	if !atomic.CompareAndSwapInt32(&w.started, 0, 1) {
		return
	}
	w.startTime.Store(time.Now().UnixNano())
	atomic.StoreInt32(&w.active, 1)
	go w.run()
}

// Stop signals the loop to exit and waits up to timeout for it to finish.
// Returns false if the worker did not stop in time; the caller treats it as
// leaked and proceeds.
func (w *Worker) Stop(timeout time.Duration) bool {
	if atomic.LoadInt32(&w.started) == 0 {
		return true
	}
	if atomic.CompareAndSwapInt32(&w.stopRequested, 0, 1) {
		close(w.stopChan)
	}
	if timeout <= 0 {
		select {
		case <-w.done:
			return true
		default:
			return false
		}
	}
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		logx.Warn("worker did not stop within timeout",
			logx.Int("worker_id", w.id),
			logx.String("timeout", timeout.String()))
		return false
	}
}

// run is the dequeue loop. A panic in the loop itself (not in a task) is an
// infrastructure failure: the loop restarts up to MaxRecoveryAttemptsWorker
// times, then the worker deactivates and leaves replacement to the monitor.
func (w *Worker) run() {
	defer func() {
		if r := recover(); r != nil {
			attempts := w.recoveryAttempts.Add(1)
			logx.Error("worker loop failure",
				logx.Int("worker_id", w.id),
				logx.Any("panic", r),
				logx.Int("recovery_attempts", int(attempts)))
			if int(attempts) < MaxRecoveryAttemptsWorker && atomic.LoadInt32(&w.stopRequested) == 0 {
				time.Sleep(workerRestartBackoff)
				go w.run()
				return
			}
			logx.Error("worker exceeded max recovery attempts, deactivating",
				logx.Int("worker_id", w.id))
		}
		atomic.StoreInt32(&w.active, 0)
		close(w.done)
	}()

	poll := time.NewTicker(QueuePollInterval)
	defer poll.Stop()

	for {
		select {
		case task := <-w.tasks:
			if task.poison {
				logx.Info("worker received shutdown sentinel", logx.Int("worker_id", w.id))
				return
			}
			w.execute(task)

		case <-w.stopChan:
			return

		case <-poll.C:
			// idle heartbeat so staleness checks see a live worker
			w.lastActivity.Store(time.Now().UnixNano())
		}
	}
}

// execute runs one task and emits exactly one outcome. Task failures never
// terminate the loop; they are reported as failed outcomes.
func (w *Worker) execute(task Task) {
	start := time.Now()
	w.currentTask.Store(&task)
	w.lastActivity.Store(start.UnixNano())
	w.inFlight.Add(1)

	result, err := w.invoke(task)
	duration := time.Since(start)

	outcome := Outcome{
		WorkerID:    w.id,
		Task:        task,
		Result:      result,
		Duration:    duration,
		Success:     err == nil,
		CompletedAt: time.Now(),
	}
	if err != nil {
		outcome.Err = err.Error()
		logx.Warn("task failed",
			logx.Int("worker_id", w.id),
			logx.String("task_id", task.ID),
			logx.String("kind", task.Kind),
			logx.ErrorField(err))
	}

	w.metrics.UpdatePerformance(duration, err == nil)
	if !w.metrics.IsHealthy() {
		logx.Warn("worker marked unhealthy",
			logx.Int("worker_id", w.id),
			logx.Int("consecutive_failures", int(w.metrics.ConsecutiveFailures())))
	}

	w.results <- outcome

	w.inFlight.Add(-1)
	w.currentTask.Store(nil)
	w.lastActivity.Store(time.Now().UnixNano())
}

// invoke calls the task handler, converting a panic into an error.
func (w *Worker) invoke(task Task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()

	if task.Handler == nil {
		return nil, ErrNilHandler
	}
	return task.Handler(task.Payload)
}

// ID returns the stable worker id.
func (w *Worker) ID() int {
	return w.id
}

// IsActive reports whether the loop is running.
func (w *Worker) IsActive() bool {
	return atomic.LoadInt32(&w.active) == 1
}

// Metrics returns the worker's metrics record.
func (w *Worker) Metrics() *WorkerMetrics {
	return w.metrics
}

// CurrentTask returns the task being executed, or nil when idle.
func (w *Worker) CurrentTask() *Task {
	return w.currentTask.Load()
}

// InFlight returns the number of tasks this worker is executing (0 or 1);
// kept as a counter purely for reporting.
func (w *Worker) InFlight() int64 {
	return w.inFlight.Load()
}

// RecoveryAttempts returns the infrastructure failure count.
func (w *Worker) RecoveryAttempts() int {
	return int(w.recoveryAttempts.Load())
}

// IsStuck reports whether the worker has held a task longer than timeout.
// Detection only; the worker never self-enforces this.
func (w *Worker) IsStuck(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultStuckTimeout
	}
	if w.currentTask.Load() == nil {
		return false
	}
	return time.Since(time.Unix(0, w.lastActivity.Load())) > timeout
}

// NeedsRestart reports whether the monitor should replace this worker.
func (w *Worker) NeedsRestart() bool {
	return !w.metrics.IsHealthy() || w.RecoveryAttempts() >= MaxRecoveryAttemptsWorker
}

// WorkerSnapshot is a point-in-time view of one worker.
type WorkerSnapshot struct {
	WorkerID          int                   `json:"worker_id"`
	IsActive          bool                  `json:"is_active"`
	Uptime            time.Duration         `json:"uptime"`
	SinceLastActivity time.Duration         `json:"since_last_activity"`
	CurrentTaskID     string                `json:"current_task_id,omitempty"`
	InFlight          int64                 `json:"in_flight"`
	RecoveryAttempts  int                   `json:"recovery_attempts"`
	Metrics           WorkerMetricsSnapshot `json:"metrics"`
}

// Snapshot copies the worker's current state.
func (w *Worker) Snapshot() WorkerSnapshot {
	snap := WorkerSnapshot{
		WorkerID:          w.id,
		IsActive:          w.IsActive(),
		SinceLastActivity: time.Since(time.Unix(0, w.lastActivity.Load())),
		InFlight:          w.inFlight.Load(),
		RecoveryAttempts:  w.RecoveryAttempts(),
		Metrics:           w.metrics.Snapshot(),
	}
	if start := w.startTime.Load(); start != 0 {
		snap.Uptime = time.Since(time.Unix(0, start))
	}
	if task := w.currentTask.Load(); task != nil {
		snap.CurrentTaskID = task.ID
	}
	return snap
}
