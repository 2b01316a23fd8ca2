// Package testing provides fake Algorithm and message-source artifacts
// for exercising controller/task/stream wiring in tests, the way the
// teacher's testing/plugin.go supplies fake Subscription/Retriever/
// Applicative implementations for machine plugin tests.
package testing

import (
	"context"
	"sync"
	"time"

	"github.com/sidecar-radar/pipeline"
	"github.com/sidecar-radar/pipeline/controller"
)

// FakeAlgorithm is a controller.Algorithm recording every call made to
// it, with optional injected failures, for assertions in controller and
// builder tests.
type FakeAlgorithm struct {
	mu sync.Mutex

	StartupErr error
	ProcessErr error
	AlarmErr   error

	started   bool
	processed []FakeProcessCall
	alarms    int
}

// FakeProcessCall records one Process invocation.
type FakeProcessCall struct {
	Message pipeline.Message
	Slot    int
}

// NewFakeAlgorithm returns a fresh FakeAlgorithm with no injected errors.
func NewFakeAlgorithm() *FakeAlgorithm {
	return &FakeAlgorithm{}
}

// NewFakeAlgorithmFactory adapts a *FakeAlgorithm into the controller.Factory
// shape controller.Register expects, for tests that want a single shared
// instance reachable by name.
func NewFakeAlgorithmFactory(a *FakeAlgorithm) controller.Factory {
	return func() controller.Algorithm { return a }
}

// Startup implements controller.Algorithm.
func (f *FakeAlgorithm) Startup(ctrl *controller.Controller) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return f.StartupErr
}

// Process implements controller.Algorithm.
func (f *FakeAlgorithm) Process(msg pipeline.Message, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, FakeProcessCall{Message: msg, Slot: slot})
	return f.ProcessErr
}

// ProcessAlarm implements controller.Algorithm.
func (f *FakeAlgorithm) ProcessAlarm() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarms++
	return f.AlarmErr
}

// Started reports whether Startup has been called.
func (f *FakeAlgorithm) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Processed returns a copy of every Process call observed so far.
func (f *FakeAlgorithm) Processed() []FakeProcessCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeProcessCall, len(f.processed))
	copy(out, f.processed)
	return out
}

// Alarms returns how many ProcessAlarm calls have been observed.
func (f *FakeAlgorithm) Alarms() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alarms
}

// Videos builds n synthetic Video messages with sequential sequence
// numbers starting at start, standing in for a live radar feed the way
// the teacher's plugin.go fabricates a fixed slice of machine.Data for
// plugin tests.
func Videos(producer string, start uint32, n int) []*pipeline.Video {
	out := make([]*pipeline.Video, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, pipeline.NewVideo(producer, start+uint32(i), []int16{0, 1, 2, 3}, float64(i)))
	}
	return out
}

// FakeSource periodically hands a fixed, looping sequence of Video
// messages directly to a task's Put on one input slot, the way the teacher's testing
// Retriever periodically resends its fixture Data slice on a channel.
type FakeSource struct {
	task     *pipeline.Task
	slot     int
	messages []*pipeline.Video
	interval time.Duration
}

// NewFakeSource builds a FakeSource that will deliver messages to
// task's input slot every interval once Run is called.
func NewFakeSource(task *pipeline.Task, slot int, messages []*pipeline.Video, interval time.Duration) *FakeSource {
	return &FakeSource{task: task, slot: slot, messages: messages, interval: interval}
}

// Run delivers the fixture messages on a loop until ctx is done.
func (f *FakeSource) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := f.messages[i%len(f.messages)]
			f.task.Put(pipeline.WrapNative(msg), f.slot)
			i++
		}
	}
}
