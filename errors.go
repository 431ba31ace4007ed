package poolx

import "errors"

// Common errors
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidOperation = errors.New("invalid operation")
)

// Pool specific errors
var (
	ErrPoolNotRunning = errors.New("worker pool is not running")
	ErrNilHandler     = errors.New("task handler is nil")
	ErrTaskPanicked   = errors.New("task panicked")
)

// Retry specific errors
var (
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

// Batch specific errors
var (
	ErrEmptyBatch    = errors.New("batch cannot be empty")
	ErrBatchNotFound = errors.New("batch not found")
	ErrBatchRejected = errors.New("no batch tasks accepted")
)
