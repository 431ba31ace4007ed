package poolx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		ChunkSize:      5,
		MinChunkSize:   2,
		MaxChunkSize:   50,
		AdaptiveSizing: false,
	}
}

func chunkCountHandler(chunk interface{}) (interface{}, error) {
	return len(chunk.([]interface{})), nil
}

func makeItems(n int) []interface{} {
	items := make([]interface{}, n)
	for i := range items {
		items[i] = i
	}
	return items
}

// waitForBatch polls GetBatchResults until the batch completes.
func waitForBatch(t *testing.T, d *Dispatcher, batchID string) *BatchStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := d.GetBatchResults(batchID, 100*time.Millisecond)
		require.NoError(t, err)
		if status.Status == "completed" {
			return status
		}
	}
	t.Fatalf("batch %s did not complete", batchID)
	return nil
}

func TestNewDispatcherValidation(t *testing.T) {
	pool, err := New(quietConfig())
	require.NoError(t, err)

	_, err = NewDispatcher(nil, testDispatcherConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad := testDispatcherConfig()
	bad.ChunkSize = 0
	_, err = NewDispatcher(pool, bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad = testDispatcherConfig()
	bad.MaxChunkSize = 1
	_, err = NewDispatcher(pool, bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewDispatcher(pool, testDispatcherConfig())
	assert.NoError(t, err)
}

func TestSubmitBatchRejectsBadInput(t *testing.T) {
	pool := startTestPool(t, quietConfig())
	dispatcher, err := NewDispatcher(pool, testDispatcherConfig())
	require.NoError(t, err)

	_, err = dispatcher.SubmitBatch(nil, chunkCountHandler, PriorityNormal)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = dispatcher.SubmitBatch(makeItems(10), nil, PriorityNormal)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestSubmitBatchRequiresRunningPool(t *testing.T) {
	pool, err := New(quietConfig())
	require.NoError(t, err)
	dispatcher, err := NewDispatcher(pool, testDispatcherConfig())
	require.NoError(t, err)

	_, err = dispatcher.SubmitBatch(makeItems(10), chunkCountHandler, PriorityNormal)
	assert.ErrorIs(t, err, ErrPoolNotRunning)
}

func TestBatchChunking(t *testing.T) {
	pool := startTestPool(t, quietConfig())
	dispatcher, err := NewDispatcher(pool, testDispatcherConfig())
	require.NoError(t, err)

	// 23 items with chunk size 5: four full chunks plus one of three
	batchID, err := dispatcher.SubmitBatch(makeItems(23), chunkCountHandler, PriorityNormal)
	require.NoError(t, err)
	assert.Contains(t, batchID, "batch-")

	status := waitForBatch(t, dispatcher, batchID)
	require.NotNil(t, status.Result)
	assert.Equal(t, 5, status.Result.Chunks)
	assert.Equal(t, 23, status.Result.TotalItems)
	assert.Len(t, status.Result.Results, 5)

	// every chunk task carries the batch envelope, and chunk sizes add up
	totalItems := 0
	chunkIndexes := make(map[int]bool)
	for _, o := range status.Result.Results {
		require.True(t, o.Success)
		assert.Equal(t, batchID, o.Task.BatchID)
		assert.Equal(t, KindBatchProcess, o.Task.Kind)
		assert.Equal(t, 5, o.Task.TotalChunks)
		totalItems += o.Task.ChunkSize
		chunkIndexes[o.Task.ChunkIndex] = true
	}
	assert.Equal(t, 23, totalItems)
	assert.Len(t, chunkIndexes, 5)
}

func TestBatchSmallerThanChunkSize(t *testing.T) {
	pool := startTestPool(t, quietConfig())
	dispatcher, err := NewDispatcher(pool, testDispatcherConfig())
	require.NoError(t, err)

	batchID, err := dispatcher.SubmitBatch(makeItems(3), chunkCountHandler, PriorityNormal)
	require.NoError(t, err)

	status := waitForBatch(t, dispatcher, batchID)
	assert.Equal(t, 1, status.Result.Chunks)
	assert.Equal(t, 3, status.Result.TotalItems)
}

func TestBatchStatusTransition(t *testing.T) {
	pool := startTestPool(t, quietConfig())
	dispatcher, err := NewDispatcher(pool, testDispatcherConfig())
	require.NoError(t, err)

	release := make(chan struct{})
	blocking := func(chunk interface{}) (interface{}, error) {
		<-release
		return len(chunk.([]interface{})), nil
	}

	batchID, err := dispatcher.SubmitBatch(makeItems(10), blocking, PriorityNormal)
	require.NoError(t, err)

	status, err := dispatcher.GetBatchResults(batchID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "pending", status.Status)
	assert.Equal(t, 2, status.TotalTasks)
	assert.Nil(t, status.Result)

	close(release)
	status = waitForBatch(t, dispatcher, batchID)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 1.0, status.Progress)

	// the stored record is returned on repeated calls
	again, err := dispatcher.GetBatchResults(batchID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "completed", again.Status)
	assert.Equal(t, status.Result, again.Result)
}

func TestBatchPartialAcceptanceStillCompletes(t *testing.T) {
	config := quietConfig()
	config.MaxWorkers = 1
	config.QueueSize = 1
	config.SubmitTimeout = 20 * time.Millisecond
	pool := startTestPool(t, config)

	release := make(chan struct{})
	require.True(t, pool.SubmitTask(NewTask("block", nil, func(payload interface{}) (interface{}, error) {
		<-release
		return nil, nil
	}), PriorityNormal))
	require.Eventually(t, func() bool {
		return len(pool.taskQueue) == 0
	}, time.Second, time.Millisecond)

	dispatcher, err := NewDispatcher(pool, testDispatcherConfig())
	require.NoError(t, err)

	// the busy worker and tiny queue reject most of the five chunks; the
	// batch must still complete once the accepted ones finish
	batchID, err := dispatcher.SubmitBatch(makeItems(23), chunkCountHandler, PriorityNormal)
	require.NoError(t, err)

	close(release)
	status := waitForBatch(t, dispatcher, batchID)
	assert.Equal(t, "completed", status.Status)
	assert.Less(t, status.TotalTasks, 5)
	assert.GreaterOrEqual(t, status.TotalTasks, 1)
	assert.Equal(t, 5, status.Result.Chunks, "planned chunk count is preserved in the record")
}

func TestGetBatchResultsUnknownBatch(t *testing.T) {
	pool := startTestPool(t, quietConfig())
	dispatcher, err := NewDispatcher(pool, testDispatcherConfig())
	require.NoError(t, err)

	_, err = dispatcher.GetBatchResults("batch-missing", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestPendingBatches(t *testing.T) {
	pool := startTestPool(t, quietConfig())
	dispatcher, err := NewDispatcher(pool, testDispatcherConfig())
	require.NoError(t, err)

	assert.Empty(t, dispatcher.PendingBatches())

	release := make(chan struct{})
	defer close(release)
	blocking := func(chunk interface{}) (interface{}, error) {
		<-release
		return nil, nil
	}

	batchID, err := dispatcher.SubmitBatch(makeItems(10), blocking, PriorityNormal)
	require.NoError(t, err)

	statuses := dispatcher.PendingBatches()
	require.Len(t, statuses, 1)
	assert.Equal(t, batchID, statuses[0].BatchID)
	assert.Equal(t, "pending", statuses[0].Status)
}

func TestCleanupCompletedBatches(t *testing.T) {
	pool := startTestPool(t, quietConfig())
	dispatcher, err := NewDispatcher(pool, testDispatcherConfig())
	require.NoError(t, err)

	batchID, err := dispatcher.SubmitBatch(makeItems(10), chunkCountHandler, PriorityNormal)
	require.NoError(t, err)
	waitForBatch(t, dispatcher, batchID)

	assert.Equal(t, 0, dispatcher.CleanupCompletedBatches(time.Hour))
	assert.Equal(t, 1, dispatcher.CleanupCompletedBatches(time.Nanosecond))

	_, err = dispatcher.GetBatchResults(batchID, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestBatchWithFailedChunks(t *testing.T) {
	pool := startTestPool(t, quietConfig())
	dispatcher, err := NewDispatcher(pool, testDispatcherConfig())
	require.NoError(t, err)

	handler := func(chunk interface{}) (interface{}, error) {
		n := len(chunk.([]interface{}))
		if n < 5 {
			return nil, ErrInvalidOperation
		}
		return n, nil
	}

	// 13 items: two full chunks succeed, the short chunk of three fails
	batchID, err := dispatcher.SubmitBatch(makeItems(13), handler, PriorityNormal)
	require.NoError(t, err)

	status := waitForBatch(t, dispatcher, batchID)
	require.Len(t, status.Result.Results, 3)

	failures := 0
	for _, o := range status.Result.Results {
		if !o.Success {
			failures++
		}
	}
	assert.Equal(t, 1, failures, "a failed chunk still counts toward batch completion")
}

func TestOptimalChunkSizeStaticUntilEnoughSamples(t *testing.T) {
	pool, err := New(quietConfig())
	require.NoError(t, err)

	config := testDispatcherConfig()
	config.AdaptiveSizing = true
	dispatcher, err := NewDispatcher(pool, config)
	require.NoError(t, err)

	assert.Equal(t, config.ChunkSize, dispatcher.optimalChunkSize())

	dispatcher.mu.Lock()
	for i := 0; i < adaptiveSampleFloor-1; i++ {
		dispatcher.recordChunkDuration(targetChunkDuration)
	}
	dispatcher.mu.Unlock()
	assert.Equal(t, config.ChunkSize, dispatcher.optimalChunkSize())
}

func TestOptimalChunkSizeAdapts(t *testing.T) {
	pool, err := New(quietConfig())
	require.NoError(t, err)

	config := DispatcherConfig{
		ChunkSize:      100,
		MinChunkSize:   10,
		MaxChunkSize:   1000,
		AdaptiveSizing: true,
	}
	dispatcher, err := NewDispatcher(pool, config)
	require.NoError(t, err)

	// chunks at the target duration keep the configured size
	dispatcher.mu.Lock()
	for i := 0; i < adaptiveSampleWindow; i++ {
		dispatcher.recordChunkDuration(targetChunkDuration)
	}
	dispatcher.mu.Unlock()
	assert.Equal(t, 100, dispatcher.optimalChunkSize())

	// slow chunks shrink the size
	dispatcher.mu.Lock()
	for i := 0; i < adaptiveSampleWindow; i++ {
		dispatcher.recordChunkDuration(2 * targetChunkDuration)
	}
	dispatcher.mu.Unlock()
	slow := dispatcher.optimalChunkSize()
	assert.Less(t, slow, 100)
	assert.GreaterOrEqual(t, slow, config.MinChunkSize)

	// fast chunks grow the size
	dispatcher.mu.Lock()
	for i := 0; i < adaptiveSampleWindow; i++ {
		dispatcher.recordChunkDuration(targetChunkDuration / 4)
	}
	dispatcher.mu.Unlock()
	fast := dispatcher.optimalChunkSize()
	assert.Greater(t, fast, 100)
	assert.LessOrEqual(t, fast, config.MaxChunkSize)
}

func TestOptimalChunkSizeClamped(t *testing.T) {
	pool, err := New(quietConfig())
	require.NoError(t, err)

	config := DispatcherConfig{
		ChunkSize:      100,
		MinChunkSize:   95,
		MaxChunkSize:   105,
		AdaptiveSizing: true,
	}
	dispatcher, err := NewDispatcher(pool, config)
	require.NoError(t, err)

	dispatcher.mu.Lock()
	for i := 0; i < adaptiveSampleWindow; i++ {
		dispatcher.recordChunkDuration(10 * targetChunkDuration)
	}
	dispatcher.mu.Unlock()
	assert.Equal(t, config.MinChunkSize, dispatcher.optimalChunkSize())

	dispatcher.mu.Lock()
	for i := 0; i < adaptiveSampleWindow; i++ {
		dispatcher.recordChunkDuration(targetChunkDuration / 10)
	}
	dispatcher.mu.Unlock()
	assert.Equal(t, config.MaxChunkSize, dispatcher.optimalChunkSize())
}
