package poolx

import (
	"time"

	"github.com/google/uuid"
)

// Priority tags a task for reporting purposes. The shared queue is FIFO;
// priority never preempts and never reorders dispatch.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	case PriorityBackground:
		return "BACKGROUND"
	default:
		return "UNKNOWN"
	}
}

// Handler executes one task payload. The pool never interprets the payload
// or the result; both belong to the embedding application.
type Handler func(payload interface{}) (interface{}, error)

// Task is one opaque unit of work. The handler is resolved by the caller at
// construction time; workers invoke it without inspecting the kind.
// Immutable once submitted.
type Task struct {
	ID          string      `json:"id"`
	Kind        string      `json:"kind"`
	Payload     interface{} `json:"-"`
	Priority    Priority    `json:"priority"`
	SubmittedAt time.Time   `json:"submitted_at"`
	Handler     Handler     `json:"-"`

	// Batch envelope, set by the Dispatcher on chunk tasks.
	BatchID     string `json:"batch_id,omitempty"`
	ChunkIndex  int    `json:"chunk_index,omitempty"`
	ChunkSize   int    `json:"chunk_size,omitempty"`
	TotalChunks int    `json:"total_chunks,omitempty"`

	// poison marks the shutdown sentinel pushed once per worker on Stop.
	poison bool
}

// NewTask creates a task with a generated id and normal priority.
func NewTask(kind string, payload interface{}, handler Handler) Task {
	return Task{
		ID:       uuid.NewString(),
		Kind:     kind,
		Payload:  payload,
		Priority: PriorityNormal,
		Handler:  handler,
	}
}

// Outcome is the recorded result of executing one task. Exactly one outcome
// is produced per dequeued task; tasks are never re-queued automatically.
type Outcome struct {
	WorkerID    int           `json:"worker_id"`
	Task        Task          `json:"task"`
	Result      interface{}   `json:"result,omitempty"`
	Err         string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	CompletedAt time.Time     `json:"completed_at"`
}
