package pipeline

import (
	"fmt"
	"sync"
)

// Task is the single unit of message processing in a Stream: a named node
// with zero or more typed input slots, zero or more named output Channels,
// a parameter registry, and a processing-state life cycle driven by
// control envelopes (spec.md §3, §4).
//
// A Task's only inter-goroutine mutable shared resource is its input
// queue (spec.md §5); everything else a Task's own goroutine touches is
// either immutable after construction or guarded by mu.
type Task struct {
	name     string
	taskType string
	stream   *Stream // weak: the owning stream, not retained beyond its lifetime

	inputStats  []*InputStats
	outputs     map[string]*Channel
	outputOrder []string
	params      *ParameterRegistry

	queue *taskQueue

	// Handle processes one data envelope arriving on the given input
	// slot. It is supplied by the concrete task kind (an algorithm, a
	// file reader, a subscriber, ...); Task itself only drives
	// dispatch and life cycle.
	Handle func(t *Task, slot int, env *Envelope)

	// OnStateChange, if set, is invoked after every successful state
	// transition hop (spec.md §4.9).
	OnStateChange func(prev, next ProcessingState)

	// OnShutdown, if set, is invoked once when a Shutdown control
	// envelope is processed, after it has been forwarded downstream.
	OnShutdown func()

	// OnTimeout, if set, is invoked when a Timeout control envelope is
	// processed (spec.md §4.9's doTimeout, installed by controller.Open).
	OnTimeout func()

	// OnRecordingStateChange, if set, is invoked when a
	// RecordingStateChange control envelope is processed; a non-empty
	// directory starts recording, empty stops it (spec.md §4.9
	// "Recording"). A returned error fails the task.
	OnRecordingStateChange func(directory string) error

	// UsingDataSource, if set, replaces the default Channel-aggregation
	// using-data computation: recomputeOwnUsingData reports
	// active-state && UsingDataSource() instead of scanning outputs.
	// Used by publishers (TCP client count > 0, multicast heartbeat map
	// non-empty) whose consumers aren't pipeline Channels.
	UsingDataSource func() bool

	// OnUsingDataChanged, if set, is invoked with this task's own new
	// using-data value whenever it changes, in addition to the normal
	// upstream propagation. A multicast subscriber uses this to send BYE
	// and stop heartbeating, or to resume heartbeating; it does not leave
	// or re-join its group here.
	OnUsingDataChanged func(next bool)

	onErr ErrorHandler

	mu              sync.Mutex
	state           ProcessingState
	goalState       ProcessingState
	errorText       string
	usingData       bool
	alwaysUsingData bool
	closed          bool
}

// NewTask creates a Task with numInputs input slots, owned by stream. The
// task starts in StateInvalid with no goal set; Stream.Start drives it
// toward StateInitialize once wiring completes (spec.md §4.11).
func NewTask(stream *Stream, name, taskType string, numInputs int, onErr ErrorHandler) *Task {
	t := &Task{
		name:     name,
		taskType: taskType,
		stream:   stream,
		outputs:  map[string]*Channel{},
		params:   NewParameterRegistry(),
		queue:    newTaskQueue(),
		onErr:    onErr,
		state:    StateInvalid,
	}
	t.inputStats = make([]*InputStats, numInputs)
	for i := range t.inputStats {
		t.inputStats[i] = NewInputStats()
	}
	return t
}

// Name returns the task's unique-within-stream name.
func (t *Task) Name() string { return t.name }

// TaskType returns the task's kind (e.g. "algorithm", "file-reader").
func (t *Task) TaskType() string { return t.taskType }

// State returns the task's current processing state.
func (t *Task) State() ProcessingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Parameters returns the task's parameter registry, for registration by
// the concrete task kind or the stream builder.
func (t *Task) Parameters() *ParameterRegistry { return t.params }

// InputStats returns the rolling counters for the given input slot.
func (t *Task) InputStats(slot int) *InputStats { return t.inputStats[slot] }

// AddOutput registers a named output Channel on this task.
func (t *Task) AddOutput(ch *Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.outputs[ch.Name()]; !exists {
		t.outputOrder = append(t.outputOrder, ch.Name())
	}
	t.outputs[ch.Name()] = ch
}

// Output returns the named output channel, or nil.
func (t *Task) Output(name string) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outputs[name]
}

// Outputs returns every output channel in registration order, used by
// the controller/recorder layer to assign per-channel recording indexes
// (spec.md §4.9 "one recorder per output channel").
func (t *Task) Outputs() []*Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Channel, 0, len(t.outputOrder))
	for _, name := range t.outputOrder {
		out = append(out, t.outputs[name])
	}
	return out
}

// SetAlwaysUsingData marks a sink task (one with no further downstream
// consumer of its own, e.g. a file writer or publisher) as permanently
// using data, so back-pressure always propagates upstream from it
// (spec.md §5).
func (t *Task) SetAlwaysUsingData(always bool) {
	t.mu.Lock()
	t.alwaysUsingData = always
	changed := always != t.usingData
	t.usingData = always
	stream := t.stream
	t.mu.Unlock()

	if changed && stream != nil {
		stream.recomputeUpstreamUsingData(t)
	}
}

// UsingData reports whether this task is currently consuming the data it
// receives: either permanently (a sink) or because it is in an active
// processing state and at least one of its outputs is itself being used
// (spec.md §5 "Back-pressure").
func (t *Task) UsingData() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usingData
}

// setUsingData installs the task's computed using-data flag and, on
// change, propagates the new value to every upstream channel feeding this
// task by asking the stream to recompute them. Called by this task's own
// output channels via Channel.recomputeUsingData.
func (t *Task) setUsingData(next bool) {
	t.mu.Lock()
	if t.alwaysUsingData {
		t.mu.Unlock()
		return
	}
	changed := next != t.usingData
	t.usingData = next
	stream := t.stream
	onChanged := t.OnUsingDataChanged
	t.mu.Unlock()

	if !changed {
		return
	}

	if onChanged != nil {
		onChanged(next)
	}
	if stream != nil {
		stream.recomputeUpstreamUsingData(t)
	}
}

// RecomputeUsingData is the exported trigger for recomputeOwnUsingData,
// called by a task kind whose using-data signal depends on an external
// resource rather than a Channel event (spec.md §4.7's client-count
// change, §4.8's heartbeat-map change).
func (t *Task) RecomputeUsingData() { t.recomputeOwnUsingData() }

// recomputeOwnUsingData recalculates whether this task itself is using
// data from its current state and its outputs' aggregate using-data state,
// then notifies upstream on change (spec.md §5). Task kinds with no
// Channel-based outputs of their own (a TCP publisher's clients, a
// multicast publisher's heartbeat map) install UsingDataSource to substitute their
// own external signal for the channel-aggregation default.
func (t *Task) recomputeOwnUsingData() {
	t.mu.Lock()
	if t.alwaysUsingData {
		t.mu.Unlock()
		return
	}
	active := t.state.isActive()
	source := t.UsingDataSource
	outputs := make([]*Channel, 0, len(t.outputs))
	for _, ch := range t.outputs {
		outputs = append(outputs, ch)
	}
	t.mu.Unlock()

	if source != nil {
		t.setUsingData(active && source())
		return
	}

	next := active
	if next {
		next = len(outputs) == 0
		for _, ch := range outputs {
			if ch.refresh() {
				next = true
				break
			}
		}
	}

	t.setUsingData(next)
}

// enqueue places env on this task's input queue for slot, returning false
// if the queue has been deactivated. Called by an upstream Channel's
// Deliver.
func (t *Task) enqueue(env *Envelope, slot int) bool {
	ok := t.queue.Put(queueItem{env: env, slot: slot})
	if !ok {
		env.Release()
	}
	return ok
}

// Run drains the task's input queue until it is deactivated, dispatching
// each envelope to Put. It is the single goroutine body a stream builder
// starts per task (spec.md §4 "single-threaded per task" dispatch loop).
func (t *Task) Run() {
	for {
		item, ok := t.queue.Get()
		if !ok {
			return
		}
		t.Put(item.env, item.slot)
	}
}

// Put dispatches one envelope arriving on the given input slot: control
// envelopes go through the fixed control-handler table (spec.md §4.4),
// data envelopes update that slot's statistics and are handed to Handle
// if the task is in an active state.
func (t *Task) Put(env *Envelope, slot int) {
	defer env.Release()

	if env.IsControl() {
		t.handleControl(env)
		return
	}

	if slot >= 0 && slot < len(t.inputStats) {
		seq := uint32(0)
		if env.HasNative() {
			if h := env.native.Header(); h != nil {
				seq = h.Sequence
			}
		}
		t.inputStats[slot].Update(seq, env.GetSize())
	}

	if !t.State().isActive() {
		return
	}

	if t.Handle != nil {
		// Handle runs synchronously before Put's deferred Release, so
		// it may read env freely but must not retain it.
		t.Handle(t, slot, env)
	}
}

// forwardControl duplicates a control envelope onto every one of this
// task's output channels, mirroring how a data envelope fans out
// (spec.md §4.4 "forward a duplicate to the next task downstream... then
// invoke the local control handler"). Timeout is task-local and never
// forwarded; every other control type propagates so a control message
// injected mid-graph still reaches every downstream recipient, not just
// the ones the Stream itself enqueued onto directly.
func (t *Task) forwardControl(env *Envelope) {
	for _, ch := range t.Outputs() {
		ch.Deliver(env.Duplicate())
	}
}

// handleControl implements the fixed control-handler dispatch table
// (spec.md §4.4): ParametersChange, ProcessingStateChange,
// RecordingStateChange, Shutdown, ClearStats, Timeout.
func (t *Task) handleControl(env *Envelope) {
	if env.ControlType() != Timeout {
		t.forwardControl(env)
	}

	switch env.ControlType() {
	case ParametersChange:
		payload, _ := env.ControlPayload().(ParametersChangePayload)
		result := t.params.Apply(payload, nil)
		if result.Invalid != "" {
			t.fail(fmt.Errorf("parameter %q rejected: %w", result.Invalid, result.Err))
		}

	case ProcessingStateChange:
		payload, _ := env.ControlPayload().(ProcessingStateChangePayload)
		t.driveToward(payload.Goal)

	case RecordingStateChange:
		payload, _ := env.ControlPayload().(RecordingStateChangePayload)
		if t.OnRecordingStateChange != nil {
			if err := t.OnRecordingStateChange(payload.Directory); err != nil {
				t.fail(fmt.Errorf("recording state change: %w", err))
			}
		}

	case Shutdown:
		if t.OnShutdown != nil {
			t.OnShutdown()
		}
		t.Close()

	case ClearStats:
		for _, s := range t.inputStats {
			s.Clear()
		}

	case Timeout:
		// Task-local: never forwarded downstream.
		if t.OnTimeout != nil {
			t.OnTimeout()
		}
	}
}

// driveToward steps the task's state machine one hop at a time toward
// goal, invoking OnStateChange after each successful hop, until goal is
// reached (spec.md §4.9, using nextState from state.go).
func (t *Task) driveToward(goal ProcessingState) {
	t.mu.Lock()
	t.goalState = goal
	current := t.state
	t.mu.Unlock()

	for current != goal {
		next := nextState(goal, current)

		t.mu.Lock()
		prev := t.state
		t.state = next
		t.mu.Unlock()

		if t.OnStateChange != nil {
			t.OnStateChange(prev, next)
		}

		current = next
	}

	t.recomputeOwnUsingData()
}

// fail transitions the task to StateFailure, records errorText, and
// reports err through the task's ErrorHandler, if any (spec.md §4.9
// "Failure is terminal until explicitly re-initialized").
func (t *Task) fail(err error) {
	t.mu.Lock()
	t.state = StateFailure
	t.errorText = err.Error()
	t.mu.Unlock()

	if t.onErr != nil {
		t.onErr(&Error{
			Err:      err,
			TaskID:   t.name,
			TaskType: t.taskType,
			Time:     timeNow(),
		})
	}
}

// Fail is the exported form of fail, used by a task-kind implementation
// (e.g. controller.Controller) that detects a failure condition the
// Task's own dispatch loop could not see (an algorithm processing error,
// a device error).
func (t *Task) Fail(err error) { t.fail(err) }

// SelfEnqueueControl enqueues a control envelope of the given type onto
// this task's own input queue, used by a dedicated alarm-timer goroutine
// to deliver a Timeout tick through the normal dispatch path (spec.md
// §4.9 "setTimerSecs... enqueues a timeout control envelope into the
// controller's own queue").
func (t *Task) SelfEnqueueControl(ct ControlType, payload any) {
	t.enqueue(WrapControl(ct, payload), -1)
}

// ErrorText returns the message recorded by the most recent fail, or "".
func (t *Task) ErrorText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorText
}

// Send encodes env into this task's output with the given name and
// delivers it to every recipient, releasing env in the process (spec.md
// §4.3). Sending on an unknown output name is a no-op that still releases
// env, mirroring a disconnected wire.
func (t *Task) Send(outputName string, env *Envelope) bool {
	ch := t.Output(outputName)
	if ch == nil {
		env.Release()
		return false
	}
	return ch.Deliver(env)
}

// SendPrimary delivers env on this task's first-registered output
// channel, releasing env if none is connected. Device-source task kinds
// (file/network readers, subscribers) have exactly one output but don't
// know its name at construction time — the builder assigns it once
// wiring the stream — so they send through this rather than a literal
// Send("name", env) (spec.md §4.5).
func (t *Task) SendPrimary(env *Envelope) bool {
	outs := t.Outputs()
	if len(outs) == 0 {
		env.Release()
		return false
	}
	return outs[0].Deliver(env)
}

// Close deactivates the task's input queue, causing Run to drain and
// return (spec.md §3 Task lifecycle teardown). It does not disconnect the
// task from the upstream channels that deliver to it; a later Deliver to
// it fails because its queue is deactivated.
func (t *Task) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.queue.Deactivate()
}
