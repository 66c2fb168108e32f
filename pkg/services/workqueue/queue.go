package workqueue

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/empiworks/empi-engine/pkg/retry"
)

// RetryConfig bounds how a failed task is retried.
type RetryConfig struct {
	MaxRetries     int           // attempts after the first run (0 = fail on first error)
	InitialBackoff time.Duration // delay before the first retry
	MaxBackoff     time.Duration // ceiling on any single delay
	BackoffFactor  float64       // growth factor between attempts
}

// DefaultRetryConfig spaces retries at roughly 500ms, 1s, 2s, 4s, 8s so a
// short database outage rides out without pinning a worker slot for long.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// backoff returns the delay before the given retry attempt, exponential with
// a +/-10% jitter so parallel lanes do not retry in lockstep.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	jitter := d * 0.1 * (rand.Float64()*2 - 1)
	return time.Duration(d + jitter)
}

// Queue runs batch tasks under a two-lane concurrency model. Tasks that
// rewrite shared match and group rows (MutatesGraph) contend on the graph
// lane, whose width the ConcurrencyStrategy sets; everything else rides the
// data lane. The queue lives for the life of the server and works batch by
// batch: once every task has finished, the next Enqueue drops the finished
// records and starts a fresh batch.
type Queue struct {
	mu        sync.Mutex
	tasks     []*TaskState
	cancelled bool

	strategy    ConcurrencyStrategy
	retryConfig RetryConfig

	// taskTimeout caps one task together with all of its retries.
	// Zero means no cap.
	taskTimeout time.Duration

	// done closes when every task has reached a terminal state and is
	// recreated when the next batch begins.
	done chan struct{}
	wg   sync.WaitGroup

	// Task contexts derive from ctx; Cancel cuts them all.
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// QueueOption customizes a Queue at construction.
type QueueOption func(*Queue)

// WithStrategy replaces the default serialized strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRetryConfig replaces the default retry policy.
func WithRetryConfig(config RetryConfig) QueueOption {
	return func(q *Queue) {
		q.retryConfig = config
	}
}

// WithTaskTimeout caps how long one task may run, retries included. Task
// contexts derive from the queue's own background context, so an abandoned
// HTTP client never stops a batch; this deadline is the only clock on it.
func WithTaskTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.taskTimeout = d
	}
}

// New creates a work queue with the given options. Without options it
// serializes each lane and retries with DefaultRetryConfig.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		strategy:    NewSerializedStrategy(),
		retryConfig: DefaultRetryConfig(),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue registers a task and starts whatever the lanes have room for.
// A cancelled queue drops the task; cancellation is terminal.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		q.logger.Warn("queue cancelled, dropping task",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return
	}

	q.rolloverLocked()

	q.tasks = append(q.tasks, NewTaskState(task))

	q.logger.Info("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.Bool("mutates_graph", task.MutatesGraph()))

	q.startEligibleLocked()
}

// rolloverLocked begins a new batch when the previous one has drained: the
// done channel is recreated and the finished task records dropped, so a
// long-lived engine does not hold history without bound. done only closes
// once every task is terminal, so nothing live is discarded.
func (q *Queue) rolloverLocked() {
	select {
	case <-q.done:
		q.done = make(chan struct{})
		q.tasks = nil
	default:
	}
}

// startEligibleLocked starts every pending task its lane has room for.
func (q *Queue) startEligibleLocked() {
	if q.cancelled {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}

		graph := ts.Task.MutatesGraph()
		if graph && !q.strategy.CanStartGraph() {
			continue
		}
		if !graph && !q.strategy.CanStartData() {
			continue
		}

		if graph {
			q.strategy.OnStartGraph()
		} else {
			q.strategy.OnStartData()
		}
		ts.SetStatus(TaskStatusRunning)

		q.logger.Info("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

// runTask drives one task through its retry loop in its own goroutine.
func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	ctx := q.ctx
	if q.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(q.ctx, q.taskTimeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= q.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := q.retryConfig.backoff(attempt)
			q.logger.Info("retrying task",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", q.retryConfig.MaxRetries),
				zap.Duration("backoff", delay))

			select {
			case <-ctx.Done():
				q.finishTask(ts, ctx.Err())
				return
			case <-time.After(delay):
			}
		}

		err := ts.Task.Execute(ctx, q)
		if err == nil {
			q.finishTask(ts, nil)
			return
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			break
		}
		if !retry.IsRetryable(err) {
			q.logger.Warn("permanent error, not retrying",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Error(err))
			break
		}

		count := ts.IncrementRetryCount()
		if attempt >= q.retryConfig.MaxRetries {
			q.logger.Error("task failed after max retries",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("retry_count", count),
				zap.Error(err))
			break
		}

		q.logger.Warn("transient error, will retry",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", q.retryConfig.MaxRetries),
			zap.Error(err))
	}

	q.finishTask(ts, lastErr)
}

// finishTask records a task's terminal state, releases its lane, and either
// seals the batch or starts the next eligible tasks.
func (q *Queue) finishTask(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if ts.Task.MutatesGraph() {
		q.strategy.OnCompleteGraph()
	} else {
		q.strategy.OnCompleteData()
	}

	switch {
	case err == nil:
		ts.SetStatus(TaskStatusCompleted)
		q.logger.Info("task completed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()))
	case errors.Is(err, context.Canceled):
		ts.SetStatus(TaskStatusCancelled)
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	default:
		ts.SetStatus(TaskStatusFailed)
		ts.SetError(err)
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("retry_count", ts.GetRetryCount()),
			zap.Error(err))
	}

	if q.allDoneLocked() {
		q.closeDoneLocked()
		return
	}

	q.startEligibleLocked()
}

// allDoneLocked reports whether every task is in a terminal state.
func (q *Queue) allDoneLocked() bool {
	for _, ts := range q.tasks {
		status := ts.GetStatus()
		if status == TaskStatusPending || status == TaskStatusRunning {
			return false
		}
	}
	return true
}

// closeDoneLocked closes the done channel if it is still open.
func (q *Queue) closeDoneLocked() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// GetTasks returns a snapshot of the current batch's tasks.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// Wait blocks until the current batch drains or ctx ends. It returns nil
// for an empty or fully successful batch, the first failed task's error
// otherwise. If ctx ends first the queue is cancelled and ctx.Err()
// returned.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.mu.Lock()
		defer q.mu.Unlock()
		for _, ts := range q.tasks {
			if ts.GetStatus() == TaskStatusFailed {
				return ts.GetError()
			}
		}
		return nil
	case <-ctx.Done():
		q.Cancel()
		return ctx.Err()
	}
}

// Cancel stops the queue for good: running tasks get their context cut,
// pending ones are marked cancelled, and later enqueues are dropped.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		return
	}

	q.cancelled = true
	q.logger.Info("queue cancelled, stopping running tasks")

	q.cancel()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
		}
	}

	if q.allDoneLocked() {
		q.closeDoneLocked()
	}
}

// IsComplete reports whether every task in the current batch has finished.
func (q *Queue) IsComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allDoneLocked()
}

// HasFailures reports whether any task in the current batch failed.
func (q *Queue) HasFailures() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusFailed {
			return true
		}
	}
	return false
}

// TaskCount returns the number of tasks in the current batch.
func (q *Queue) TaskCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// PendingCount returns the number of tasks waiting for a lane.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			count++
		}
	}
	return count
}

// CompletedCount returns the number of tasks that finished successfully.
func (q *Queue) CompletedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusCompleted {
			count++
		}
	}
	return count
}

// Progress summarizes the current batch by task status.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{Total: len(q.tasks)}
	for _, ts := range q.tasks {
		switch ts.GetStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusCancelled:
			p.Cancelled++
		}
	}
	return p
}

// Progress holds per-status task counts for one batch.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Percentage returns how much of the batch has reached a terminal state,
// 0-100. An empty batch counts as done.
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	done := p.Completed + p.Failed + p.Cancelled
	return (done * 100) / p.Total
}
