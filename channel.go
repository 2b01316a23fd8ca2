package pipeline

import "sync"

// recipient is one (task, input-slot) pair a Channel fans out to.
type recipient struct {
	task *Task
	slot int
}

// Channel is a named, typed edge between tasks. A Channel has exactly one
// sender and zero or more recipients; Deliver duplicates the envelope
// once per recipient and enqueues it on that recipient's input slot
// (spec.md §3, §4.3).
type Channel struct {
	name     string
	typeName string
	sender   *Task // weak: the owning task, not retained beyond its lifetime

	mu         sync.RWMutex
	recipients []recipient
	usingData  bool
}

// NewChannel creates a named, typed output Channel owned by sender.
func NewChannel(name, typeName string, sender *Task) *Channel {
	return &Channel{name: name, typeName: typeName, sender: sender}
}

// Name returns the channel's unique-within-stream name.
func (c *Channel) Name() string { return c.name }

// TypeName returns the channel's declared message type name.
func (c *Channel) TypeName() string { return c.typeName }

// Connect registers task as a recipient of this channel on the given
// input slot. Called by the stream builder while wiring a stream
// (spec.md §4.11).
func (c *Channel) Connect(task *Task, slot int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recipients = append(c.recipients, recipient{task: task, slot: slot})
}

// Disconnect removes task from this channel's recipient list. Used during
// task teardown (spec.md §3 Task lifecycle).
func (c *Channel) Disconnect(task *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.recipients[:0]
	for _, r := range c.recipients {
		if r.task != task {
			out = append(out, r)
		}
	}
	c.recipients = out
}

// Deliver duplicates env once per recipient and enqueues each duplicate
// on the recipient's input slot, returning success only if every
// recipient accepted its duplicate (spec.md §4.3). The original env is
// always released by Deliver; callers must not use it afterward.
func (c *Channel) Deliver(env *Envelope) bool {
	defer env.Release()

	c.mu.RLock()
	recipients := make([]recipient, len(c.recipients))
	copy(recipients, c.recipients)
	c.mu.RUnlock()

	ok := true
	for _, r := range recipients {
		dup := env.Duplicate()
		dup.SetChannelHint(c.name)
		if !r.task.enqueue(dup, r.slot) {
			ok = false
		}
	}
	return ok
}

// RecipientCount reports how many recipients are currently connected.
func (c *Channel) RecipientCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.recipients)
}

// UsingData reports the channel's aggregated using-data state: true iff
// at least one recipient is using data (spec.md §5, §4.3).
func (c *Channel) UsingData() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usingData
}

// refresh recalculates the channel's cached using-data state from its
// current recipients' own UsingData, without notifying the sender, and
// returns the freshly computed value. Task.recomputeOwnUsingData calls
// this on every output it scans so the aggregate it reads is never
// stale; the sender-notification half of the old combined recompute
// lives in recomputeUsingData below, for the narrower case of an
// external caller that isn't already inside a Task's own recompute.
func (c *Channel) refresh() bool {
	c.mu.RLock()
	recipients := make([]recipient, len(c.recipients))
	copy(recipients, c.recipients)
	c.mu.RUnlock()

	next := false
	for _, r := range recipients {
		if r.task.UsingData() {
			next = true
			break
		}
	}

	c.mu.Lock()
	c.usingData = next
	c.mu.Unlock()

	return next
}

// recomputeUsingData recalculates the aggregate using-data state from
// every recipient and, on change, notifies the sender so the change can
// propagate upstream (spec.md §5 "Back-pressure (using-data)"). Connect
// and Disconnect do not call it; a caller that changes the recipient set
// and needs the sender notified directly, outside the normal
// Task.recomputeOwnUsingData path, invokes it itself.
func (c *Channel) recomputeUsingData() {
	c.mu.RLock()
	before := c.usingData
	c.mu.RUnlock()

	next := c.refresh()

	c.mu.RLock()
	sender := c.sender
	c.mu.RUnlock()

	if next != before && sender != nil {
		sender.setUsingData(next)
	}
}
