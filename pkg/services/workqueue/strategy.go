package workqueue

import "sync"

// ConcurrencyStrategy sets the width of the two lanes. The queue asks it
// before starting a task and reports every start and completion, so the
// strategy carries the running counts itself.
type ConcurrencyStrategy interface {
	// CanStartGraph reports whether the graph lane has room.
	CanStartGraph() bool
	// CanStartData reports whether the data lane has room.
	CanStartData() bool
	// OnStartGraph records a graph task starting.
	OnStartGraph()
	// OnStartData records a data task starting.
	OnStartData()
	// OnCompleteGraph records a graph task finishing.
	OnCompleteGraph()
	// OnCompleteData records a data task finishing.
	OnCompleteData()
}

// ============================================================================
// SerializedStrategy - 1 graph batch at a time, 1 data batch at a time
// ============================================================================

// SerializedStrategy serializes both graph and data tasks. Only one graph
// task and one data task can run at a time, but a graph task and a data task
// can run in parallel. Serializing the graph lane means two batches can never
// interleave walks over the same component, at the cost of throughput.
type SerializedStrategy struct {
	mu           sync.Mutex
	graphRunning bool
	dataRunning  bool
}

// NewSerializedStrategy creates a strategy that serializes graph tasks
// (only one at a time) and serializes data tasks (only one at a time).
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartGraph() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.graphRunning
}

func (s *SerializedStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *SerializedStrategy) OnStartGraph() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphRunning = true
}

func (s *SerializedStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *SerializedStrategy) OnCompleteGraph() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphRunning = false
}

func (s *SerializedStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}

// ============================================================================
// ParallelGraphStrategy - Unlimited parallel graph tasks
// ============================================================================

// ParallelGraphStrategy allows unlimited parallel graph tasks.
// Data tasks are still serialized (only one at a time).
//
// Concurrent batches touching overlapping components may interleave; the
// unique pair and group constraints are the only cross-batch isolation, and
// the graph settles once a later activation replays the affected records.
type ParallelGraphStrategy struct {
	mu          sync.Mutex
	dataRunning bool
}

// NewParallelGraphStrategy creates a strategy that allows unlimited
// parallel graph tasks while serializing data tasks.
func NewParallelGraphStrategy() *ParallelGraphStrategy {
	return &ParallelGraphStrategy{}
}

func (s *ParallelGraphStrategy) CanStartGraph() bool {
	return true
}

func (s *ParallelGraphStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *ParallelGraphStrategy) OnStartGraph() {
	// Nothing to track: the graph lane has no width limit here.
}

func (s *ParallelGraphStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *ParallelGraphStrategy) OnCompleteGraph() {
}

func (s *ParallelGraphStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}

// ============================================================================
// ThrottledGraphStrategy - Up to N parallel graph tasks
// ============================================================================

// ThrottledGraphStrategy allows up to maxConcurrent graph tasks to run in
// parallel. Data tasks are still serialized (only one at a time). This is the
// production setting: maxConcurrent is the worker count from configuration.
type ThrottledGraphStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	graphRunning  int
	dataRunning   bool
}

// NewThrottledGraphStrategy creates a strategy that allows up to
// maxConcurrent graph tasks to run in parallel while serializing data tasks.
func NewThrottledGraphStrategy(maxConcurrent int) *ThrottledGraphStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledGraphStrategy{
		maxConcurrent: maxConcurrent,
	}
}

func (s *ThrottledGraphStrategy) CanStartGraph() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graphRunning < s.maxConcurrent
}

func (s *ThrottledGraphStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *ThrottledGraphStrategy) OnStartGraph() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphRunning++
}

func (s *ThrottledGraphStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *ThrottledGraphStrategy) OnCompleteGraph() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graphRunning > 0 {
		s.graphRunning--
	}
}

func (s *ThrottledGraphStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}
