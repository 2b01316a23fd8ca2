package pipeline

import (
	"fmt"
	"sync"
)

// Stream is an ordered, immutable-after-construction collection of Tasks
// wired together by Channels (spec.md §3). Unlike the teacher's recursive
// root/node machine graph, a Stream is a flat ordered list: task order is
// significant only for deterministic startup/teardown and status
// reporting, not for message routing, which is entirely carried by
// Channel wiring.
type Stream struct {
	id    string
	tasks []*Task

	mu      sync.RWMutex
	running bool
}

// NewStream creates an empty, named Stream. Tasks are appended with
// AddTask by the stream builder as it parses wiring configuration
// (spec.md §4.11).
func NewStream(id string) *Stream {
	return &Stream{id: id}
}

// ID returns the stream's unique identifier.
func (s *Stream) ID() string { return s.id }

// AddTask appends a constructed, wired Task to the stream. Order of
// AddTask calls is the order Start launches worker goroutines and Halt
// tears them down in reverse.
func (s *Stream) AddTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
}

// Task returns the named task, or nil if no task with that name exists.
func (s *Stream) Task(name string) *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.name == name {
			return t
		}
	}
	return nil
}

// Tasks returns the stream's tasks in construction order.
func (s *Stream) Tasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Start launches one goroutine per task running Task.Run, in construction
// order, then drives every task toward StateInitialize (spec.md §4.11
// "construction brings every task to Initialize").
func (s *Stream) Start() {
	for _, t := range s.Tasks() {
		go t.Run()
	}
	s.SetGoal(StateInitialize)

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
}

// SetGoal broadcasts a ProcessingStateChange control envelope to every
// task in the stream (spec.md §4.9, §4.4).
func (s *Stream) SetGoal(goal ProcessingState) {
	for _, t := range s.Tasks() {
		t.enqueue(WrapControl(ProcessingStateChange, ProcessingStateChangePayload{Goal: goal}), -1)
	}
}

// Shutdown broadcasts a Shutdown control envelope to every task, then
// halts the stream (spec.md §4.11's default teardown path, used when
// nothing in the stream declared signalEndOfFile).
func (s *Stream) Shutdown() {
	for _, t := range s.Tasks() {
		t.enqueue(WrapControl(Shutdown, nil), -1)
	}
	s.Halt()
}

// Halt closes each task's queue in reverse construction order, without
// broadcasting another Shutdown control envelope. A shutdown-monitor task
// calls this once it has observed the one Shutdown envelope that
// traveled downstream from a signalEndOfFile reader and confirmed every
// queue has drained (spec.md §4.5, §4.11).
func (s *Stream) Halt() {
	tasks := s.Tasks()
	for i := len(tasks) - 1; i >= 0; i-- {
		tasks[i].Close()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// QueueDepths returns the current input-queue length of every task, in
// construction order, for a shutdown monitor's drain check.
func (s *Stream) QueueDepths() []int {
	tasks := s.Tasks()
	out := make([]int, len(tasks))
	for i, t := range tasks {
		out[i] = t.queue.Len()
	}
	return out
}

// Running reports whether Start has been called without a matching
// Shutdown.
func (s *Stream) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// recomputeUpstreamUsingData is called by a Task whose own using-data
// state changed; it asks every other task in the stream to recompute
// its using-data state, since any of them might feed the task that
// changed through a Channel (spec.md §5 "Back-pressure (using-data)"
// propagates upstream through the whole convergent DAG, not just direct
// parents).
func (s *Stream) recomputeUpstreamUsingData(changed *Task) {
	for _, t := range s.Tasks() {
		if t == changed {
			continue
		}
		t.recomputeOwnUsingData()
	}
}

// StatusReport is a snapshot of one task's life-cycle and input
// statistics, suitable for serialization by the status API (spec.md §7).
type StatusReport struct {
	Name      string
	TaskType  string
	State     string
	ErrorText string
	Inputs    []Snapshot
}

// Status returns a StatusReport for every task in construction order.
func (s *Stream) Status() []StatusReport {
	tasks := s.Tasks()
	out := make([]StatusReport, 0, len(tasks))
	for _, t := range tasks {
		snaps := make([]Snapshot, len(t.inputStats))
		for i, is := range t.inputStats {
			snaps[i] = is.Snapshot()
		}
		out = append(out, StatusReport{
			Name:      t.Name(),
			TaskType:  t.TaskType(),
			State:     t.State().String(),
			ErrorText: t.ErrorText(),
			Inputs:    snaps,
		})
	}
	return out
}

// Validate checks the stream's wiring invariants that a builder cannot
// enforce incrementally while parsing: every task must have a unique
// name (spec.md §8 invariant 2).
func (s *Stream) Validate() error {
	seen := map[string]bool{}
	for _, t := range s.Tasks() {
		if seen[t.name] {
			return fmt.Errorf("pipeline: duplicate task name %q in stream %q", t.name, s.id)
		}
		seen[t.name] = true
	}
	return nil
}
