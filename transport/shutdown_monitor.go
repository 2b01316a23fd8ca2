package transport

import (
	"time"

	"github.com/sidecar-radar/pipeline"
)

// ShutdownGrace is the default delay between receiving a Shutdown
// control envelope and the first drain check (spec.md §4.5,
// original_source/Algorithms/ShutdownMonitor.cc).
const ShutdownGrace = 2 * time.Second

// drainPollInterval is how often the monitor re-checks queue depths
// after the initial grace period, in case a task is still draining a
// long backlog.
const drainPollInterval = 100 * time.Millisecond

// ShutdownMonitor is appended to the tail of a stream whenever any
// reader was declared with signalEndOfFile (spec.md §4.11 step 4). On
// receiving the Shutdown control envelope forwarded down the chain, it
// waits a grace period, confirms every task's queue has drained, then
// halts the stream.
type ShutdownMonitor struct {
	*pipeline.Task

	stream *pipeline.Stream
	grace  time.Duration
}

// NewShutdownMonitor creates a ShutdownMonitor task with one input slot
// wired to the tail of the stream's existing output chain by the builder.
func NewShutdownMonitor(stream *pipeline.Stream, name string, grace time.Duration, onErr pipeline.ErrorHandler) *ShutdownMonitor {
	if grace <= 0 {
		grace = ShutdownGrace
	}

	task := pipeline.NewTask(stream, name, "shutdown-monitor", 1, onErr)
	m := &ShutdownMonitor{Task: task, stream: stream, grace: grace}
	task.SetAlwaysUsingData(true)
	task.OnShutdown = m.onShutdown
	return m
}

func (m *ShutdownMonitor) onShutdown() {
	go func() {
		time.Sleep(m.grace)
		for !m.drained() {
			time.Sleep(drainPollInterval)
		}
		m.stream.Halt()
	}()
}

func (m *ShutdownMonitor) drained() bool {
	for _, depth := range m.stream.QueueDepths() {
		if depth > 0 {
			return false
		}
	}
	return true
}
