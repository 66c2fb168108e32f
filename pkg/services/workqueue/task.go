package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is where a task sits in its lifecycle.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task is one unit of batch work. The queue owns scheduling, retries and
// timeouts; implementations only run.
type Task interface {
	// ID uniquely identifies the task in logs.
	ID() string

	// Name is the human-readable label, typically "<action> batch <id>".
	Name() string

	// MutatesGraph reports whether the task rewrites shared match and
	// group rows. True puts it on the graph lane, whose width the
	// concurrency strategy bounds; false rides the data lane.
	MutatesGraph() bool

	// Execute runs the task under ctx. The enqueuer accepts follow-up
	// work. A returned error may be retried if the retry package deems
	// it transient.
	Execute(ctx context.Context, enqueuer TaskEnqueuer) error
}

// TaskEnqueuer lets a running task hand follow-up work back to the queue.
type TaskEnqueuer interface {
	Enqueue(task Task)
}

// TaskState pairs a task with its scheduling bookkeeping. The queue writes
// it from several goroutines; every accessor takes the state's own lock.
type TaskState struct {
	Task        Task
	Status      TaskStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       error

	retryCount int

	mu sync.RWMutex
}

// NewTaskState wraps a task in the pending state.
func NewTaskState(task Task) *TaskState {
	return &TaskState{
		Task:   task,
		Status: TaskStatusPending,
	}
}

// GetStatus returns the current status.
func (ts *TaskState) GetStatus() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Status
}

// SetStatus moves the task to status and stamps the matching timestamp.
func (ts *TaskState) SetStatus(status TaskStatus) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.Status = status
	now := time.Now()

	switch status {
	case TaskStatusRunning:
		ts.StartedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		ts.CompletedAt = &now
	}
}

// SetError records the terminal error.
func (ts *TaskState) SetError(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.Error = err
}

// GetError returns the terminal error, nil while the task is live.
func (ts *TaskState) GetError() error {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.Error
}

// IncrementRetryCount bumps the retry counter and returns the new value.
func (ts *TaskState) IncrementRetryCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.retryCount++
	return ts.retryCount
}

// GetRetryCount returns how many times the task has been retried.
func (ts *TaskState) GetRetryCount() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.retryCount
}

// Snapshot copies the state out under the read lock.
func (ts *TaskState) Snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	var errMsg string
	if ts.Error != nil {
		errMsg = ts.Error.Error()
	}

	return TaskSnapshot{
		ID:           ts.Task.ID(),
		Name:         ts.Task.Name(),
		MutatesGraph: ts.Task.MutatesGraph(),
		Status:       ts.Status,
		RetryCount:   ts.retryCount,
		StartedAt:    ts.StartedAt,
		CompletedAt:  ts.CompletedAt,
		Error:        errMsg,
	}
}

// TaskSnapshot is the serializable view of one task for status payloads.
type TaskSnapshot struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	MutatesGraph bool       `json:"mutates_graph"`
	Status       TaskStatus `json:"status"`
	RetryCount   int        `json:"retry_count,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// BaseTask carries the identity every task needs. Embed it and implement
// Execute.
type BaseTask struct {
	id           string
	name         string
	mutatesGraph bool
}

// NewBaseTask assigns a fresh uuid alongside the name and lane flag.
func NewBaseTask(name string, mutatesGraph bool) BaseTask {
	return BaseTask{
		id:           uuid.New().String(),
		name:         name,
		mutatesGraph: mutatesGraph,
	}
}

// ID returns the task id.
func (t BaseTask) ID() string {
	return t.id
}

// Name returns the task label.
func (t BaseTask) Name() string {
	return t.name
}

// MutatesGraph reports whether this task contends on the match graph.
func (t BaseTask) MutatesGraph() bool {
	return t.mutatesGraph
}
