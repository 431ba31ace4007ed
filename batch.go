package poolx

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/seasbee/go-logx"
)

// Production constants
const (
	DefaultChunkSize    = 1000
	DefaultMinChunkSize = 100
	DefaultMaxChunkSize = 5000
	DefaultBatchMaxAge  = 1 * time.Hour

	// KindBatchProcess is the task kind the dispatcher stamps on chunk tasks.
	KindBatchProcess = "batch_process"

	chunkHistoryCapacity   = 50
	adaptiveSampleFloor    = 5
	adaptiveSampleWindow   = 10
	targetChunkDuration    = 1 * time.Second
	sizingAdjustmentFactor = 0.2
)

// DispatcherConfig defines batch chunking behavior.
type DispatcherConfig struct {
	ChunkSize      int  `json:"chunk_size"`
	MinChunkSize   int  `json:"min_chunk_size"`
	MaxChunkSize   int  `json:"max_chunk_size"`
	AdaptiveSizing bool `json:"adaptive_sizing"`
}

// DefaultDispatcherConfig returns a default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		ChunkSize:      DefaultChunkSize,
		MinChunkSize:   DefaultMinChunkSize,
		MaxChunkSize:   DefaultMaxChunkSize,
		AdaptiveSizing: true,
	}
}

func validateDispatcherConfig(config DispatcherConfig) error {
	if config.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}
	if config.MinChunkSize <= 0 || config.MaxChunkSize < config.MinChunkSize {
		return fmt.Errorf("chunk size bounds invalid: min %d, max %d",
			config.MinChunkSize, config.MaxChunkSize)
	}
	return nil
}

type pendingBatch struct {
	batchID        string
	totalItems     int
	chunks         int
	submittedTasks int
	completedTasks int
	startTime      time.Time
	priority       Priority
	outcomes       []Outcome
}

// BatchResult is the completion record for one batch.
type BatchResult struct {
	BatchID     string        `json:"batch_id"`
	Results     []Outcome     `json:"results"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	TotalItems  int           `json:"total_items"`
	Chunks      int           `json:"chunks"`
}

// BatchStatus is a progress snapshot for a batch: "pending" with partial
// progress, or "completed" with the full result attached.
type BatchStatus struct {
	BatchID        string        `json:"batch_id"`
	Status         string        `json:"status"`
	Progress       float64       `json:"progress"`
	CompletedTasks int           `json:"completed_tasks"`
	TotalTasks     int           `json:"total_tasks"`
	ElapsedTime    time.Duration `json:"elapsed_time"`
	Result         *BatchResult  `json:"result,omitempty"`
}

// Dispatcher splits item collections into adaptively sized chunks, submits
// one task per chunk through the pool, and tracks completion per batch.
// The dispatcher assumes it is the sole consumer of the pool's results.
type Dispatcher struct {
	pool   *Manager
	config DispatcherConfig

	mu        sync.Mutex
	pending   map[string]*pendingBatch
	completed map[string]*BatchResult

	// ring of recent chunk durations feeding adaptive sizing
	chunkDurations []time.Duration
	chunkNext      int
	chunkFull      bool
}

// NewDispatcher creates a batch dispatcher on top of the pool.
func NewDispatcher(pool *Manager, config DispatcherConfig) (*Dispatcher, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pool cannot be nil", ErrInvalidConfig)
	}
	if err := validateDispatcherConfig(config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Dispatcher{
		pool:           pool,
		config:         config,
		pending:        make(map[string]*pendingBatch),
		completed:      make(map[string]*BatchResult),
		chunkDurations: make([]time.Duration, chunkHistoryCapacity),
	}, nil
}

// SubmitBatch splits items into chunks and submits one task per chunk. Each
// chunk task's payload is the []interface{} slice of its items; the handler
// processes a whole chunk. Returns the batch id for progress tracking.
func (d *Dispatcher) SubmitBatch(items []interface{}, handler Handler, priority Priority) (string, error) {
	if len(items) == 0 {
		return "", ErrEmptyBatch
	}
	if handler == nil {
		return "", ErrNilHandler
	}
	if !d.pool.IsRunning() {
		return "", ErrPoolNotRunning
	}

	chunkSize := d.optimalChunkSize()
	batchID := "batch-" + uuid.NewString()

	var chunks [][]interface{}
	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}

	// register before submitting so outcomes drained by a concurrent
	// GetBatchResults call are never dropped; submittedTasks starts at the
	// planned chunk count so early outcomes cannot complete the batch
	// before the accepted count is known
	batch := &pendingBatch{
		batchID:        batchID,
		totalItems:     len(items),
		chunks:         len(chunks),
		submittedTasks: len(chunks),
		startTime:      time.Now(),
		priority:       priority,
	}
	d.mu.Lock()
	d.pending[batchID] = batch
	d.mu.Unlock()

	submitted := 0
	for index, chunk := range chunks {
		task := NewTask(KindBatchProcess, chunk, handler)
		task.BatchID = batchID
		task.ChunkIndex = index
		task.ChunkSize = len(chunk)
		task.TotalChunks = len(chunks)
		if d.pool.SubmitTask(task, priority) {
			submitted++
		}
	}

	d.mu.Lock()
	if submitted == 0 {
		delete(d.pending, batchID)
		d.mu.Unlock()
		return "", ErrBatchRejected
	}
	batch.submittedTasks = submitted
	d.maybeComplete(batch)
	d.mu.Unlock()

	logx.Info("batch submitted",
		logx.String("batch_id", batchID),
		logx.Int("items", len(items)),
		logx.Int("chunks", len(chunks)),
		logx.Int("chunk_size", chunkSize),
		logx.Int("submitted_tasks", submitted),
		logx.String("priority", priority.String()))

	return batchID, nil
}

// GetBatchResults drains new outcomes, attributes them to their batches and
// reports the given batch's status. A completed batch's stored record is
// returned on subsequent calls without re-draining.
func (d *Dispatcher) GetBatchResults(batchID string, timeout time.Duration) (*BatchStatus, error) {
	d.mu.Lock()
	if result, ok := d.completed[batchID]; ok {
		d.mu.Unlock()
		return completedStatus(result), nil
	}
	d.mu.Unlock()

	outcomes := d.pool.GetResults(timeout)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range outcomes {
		d.attribute(o)
	}

	if result, ok := d.completed[batchID]; ok {
		return completedStatus(result), nil
	}
	if b, ok := d.pending[batchID]; ok {
		progress := 0.0
		if b.submittedTasks > 0 {
			progress = float64(b.completedTasks) / float64(b.submittedTasks)
		}
		return &BatchStatus{
			BatchID:        batchID,
			Status:         "pending",
			Progress:       progress,
			CompletedTasks: b.completedTasks,
			TotalTasks:     b.submittedTasks,
			ElapsedTime:    time.Since(b.startTime),
		}, nil
	}
	return nil, ErrBatchNotFound
}

func completedStatus(result *BatchResult) *BatchStatus {
	return &BatchStatus{
		BatchID:        result.BatchID,
		Status:         "completed",
		Progress:       1.0,
		CompletedTasks: len(result.Results),
		TotalTasks:     len(result.Results),
		ElapsedTime:    result.Duration,
		Result:         result,
	}
}

// attribute assigns one outcome to its batch; d.mu must be held. Outcomes
// without a batch id are ignored.
func (d *Dispatcher) attribute(o Outcome) {
	if o.Task.BatchID == "" {
		return
	}
	b, ok := d.pending[o.Task.BatchID]
	if !ok {
		return
	}

	b.completedTasks++
	b.outcomes = append(b.outcomes, o)
	d.recordChunkDuration(o.Duration)
	d.maybeComplete(b)
}

// maybeComplete moves the batch to completed once every accepted chunk has
// an outcome; d.mu must be held.
func (d *Dispatcher) maybeComplete(b *pendingBatch) {
	if _, done := d.completed[b.batchID]; done {
		return
	}
	if b.completedTasks < b.submittedTasks {
		return
	}

	result := &BatchResult{
		BatchID:     b.batchID,
		Results:     b.outcomes,
		CompletedAt: time.Now(),
		Duration:    time.Since(b.startTime),
		TotalItems:  b.totalItems,
		Chunks:      b.chunks,
	}
	d.completed[b.batchID] = result
	delete(d.pending, b.batchID)

	logx.Info("batch completed",
		logx.String("batch_id", b.batchID),
		logx.Int("chunks", b.chunks),
		logx.Int("items", b.totalItems),
		logx.String("duration", result.Duration.String()))
}

// recordChunkDuration feeds the adaptive sizing history; d.mu must be held.
func (d *Dispatcher) recordChunkDuration(duration time.Duration) {
	d.chunkDurations[d.chunkNext] = duration
	d.chunkNext = (d.chunkNext + 1) % len(d.chunkDurations)
	if d.chunkNext == 0 {
		d.chunkFull = true
	}
}

// optimalChunkSize derives the next chunk size from the mean of recent
// chunk durations, aiming at targetChunkDuration per chunk. Falls back to
// the configured size until enough samples exist.
func (d *Dispatcher) optimalChunkSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.config.AdaptiveSizing {
		return d.config.ChunkSize
	}

	recorded := d.chunkNext
	if d.chunkFull {
		recorded = len(d.chunkDurations)
	}
	if recorded < adaptiveSampleFloor {
		return d.config.ChunkSize
	}

	window := adaptiveSampleWindow
	if recorded < window {
		window = recorded
	}
	var total time.Duration
	for i := 1; i <= window; i++ {
		index := (d.chunkNext - i + len(d.chunkDurations)) % len(d.chunkDurations)
		total += d.chunkDurations[index]
	}
	avg := total / time.Duration(window)
	if avg <= 0 {
		return d.config.ChunkSize
	}

	adjustment := (float64(targetChunkDuration)/float64(avg) - 1) * sizingAdjustmentFactor
	size := int(float64(d.config.ChunkSize) * (1 + adjustment))
	if size < d.config.MinChunkSize {
		size = d.config.MinChunkSize
	}
	if size > d.config.MaxChunkSize {
		size = d.config.MaxChunkSize
	}
	return size
}

// PendingBatches returns progress snapshots for every pending batch.
func (d *Dispatcher) PendingBatches() []BatchStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	statuses := make([]BatchStatus, 0, len(d.pending))
	for _, b := range d.pending {
		progress := 0.0
		if b.submittedTasks > 0 {
			progress = float64(b.completedTasks) / float64(b.submittedTasks)
		}
		statuses = append(statuses, BatchStatus{
			BatchID:        b.batchID,
			Status:         "pending",
			Progress:       progress,
			CompletedTasks: b.completedTasks,
			TotalTasks:     b.submittedTasks,
			ElapsedTime:    time.Since(b.startTime),
		})
	}
	return statuses
}

// CleanupCompletedBatches evicts completed records older than maxAge to
// bound memory. Returns the number evicted.
func (d *Dispatcher) CleanupCompletedBatches(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultBatchMaxAge
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for id, result := range d.completed {
		if time.Since(result.CompletedAt) >= maxAge {
			delete(d.completed, id)
			evicted++
		}
	}
	if evicted > 0 {
		logx.Info("cleaned up completed batches", logx.Int("evicted", evicted))
	}
	return evicted
}
