// Package controller hosts a dynamically-selected Algorithm inside a
// pipeline.Task: it owns the algorithm's life cycle, per-message
// dispatch, optional dedicated worker thread, on-demand recording, and a
// background alarm timer (spec.md §4.9).
//
// Grounded on the teacher's plugin-loading pattern (plugins.go's
// driver-by-string-key registry) generalized from "string → driver
// constructor" to "string → Algorithm factory", since Go has no dlopen
// equivalent for dynamically loaded shared objects (spec.md §9 "Dynamic
// plugin loading for algorithms").
package controller

import (
	"fmt"
	"sync"
	"time"

	"github.com/sidecar-radar/pipeline"
	"github.com/sidecar-radar/pipeline/common"
	"github.com/sidecar-radar/pipeline/recorder"
	"github.com/sirupsen/logrus"
)

// Algorithm is the interface a dynamically-selected processing kernel
// implements. It is the Go analogue of the original's
// "<algorithmName>Make" factory-produced object (spec.md §9).
type Algorithm interface {
	// Startup is called once after construction, before the task is
	// driven toward any active state. Returning an error puts the
	// controller's task into Failure before it ever processes a message.
	Startup(ctrl *Controller) error
	// Process handles one data message arriving on the given input
	// slot (spec.md's "priority"). Returning an error puts the task
	// into Failure.
	Process(msg pipeline.Message, slot int) error
	// ProcessAlarm is invoked once per alarm-timer tick while the task
	// is in an active state.
	ProcessAlarm() error
}

// Factory constructs a fresh Algorithm instance.
type Factory func() Algorithm

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register installs a named Algorithm factory, populated once at process
// init by each algorithm package (spec.md §9: "each algorithm package
// registers a factory under a stable name at process start").
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

func lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Controller hosts one Algorithm instance inside a pipeline.Task.
type Controller struct {
	*pipeline.Task

	algorithmName string
	algorithm     Algorithm
	log           *logrus.Logger

	mu         sync.Mutex
	recordDir  string
	recorders  map[string]*recorder.Recorder
	alarmStop  chan struct{}
	alarmEvery time.Duration
}

// Open implements openAndInit: it loads the named Algorithm factory,
// instantiates it, wires it into a new Task on stream, and calls the
// algorithm's Startup hook (spec.md §4.9 step 1-2). If threaded is true,
// the Task's dispatch loop (Task.Run, started by Stream.Start) already
// gives the controller a dedicated goroutine; Go has no separate
// "notification strategy" concept to install for the untreaded case, so
// threaded only affects logging/telemetry labeling here.
func Open(stream *pipeline.Stream, name, algorithmName string, numInputs int, threaded bool, log *logrus.Logger, onErr pipeline.ErrorHandler) (*Controller, error) {
	factory, ok := lookup(algorithmName)
	if !ok {
		return nil, fmt.Errorf("controller: no algorithm registered under name %q", algorithmName)
	}

	task := pipeline.NewTask(stream, name, "controller", numInputs, onErr)
	c := &Controller{
		Task:          task,
		algorithmName: algorithmName,
		algorithm:     factory(),
		log:           log,
		recorders:     map[string]*recorder.Recorder{},
	}

	task.Handle = c.processDataMessage
	task.OnShutdown = c.shutdown
	task.OnTimeout = c.doTimeout
	task.OnRecordingStateChange = c.SetRecordingState

	if err := c.algorithm.Startup(c); err != nil {
		err = fmt.Errorf("controller %s: algorithm startup failed: %w", name, err)
		c.Task.Fail(err)
		return c, err
	}

	if log != nil {
		log.WithFields(logrus.Fields{
			common.FieldTaskID:   name,
			common.FieldTaskType: "controller",
			"algorithm":          algorithmName,
			"threaded":           threaded,
		}).Info("controller opened")
	}

	return c, nil
}

// processDataMessage implements spec.md §4.9's per-message dispatch: a
// silent drop while the task is not in an active processing state,
// otherwise a call into the algorithm with failure routed to Failure.
func (c *Controller) processDataMessage(t *pipeline.Task, slot int, env *pipeline.Envelope) {
	if !t.State().IsActive() {
		return
	}

	msg, err := pipeline.GetNative[pipeline.Message](env)
	if err != nil {
		c.failf("decode failed on slot %d: %v", slot, err)
		return
	}

	start := time.Now()
	err = c.algorithm.Process(msg, slot)
	elapsed := time.Since(start)

	if err != nil {
		c.failf("algorithm %s process failed: %v", c.algorithmName, err)
		return
	}

	if c.log != nil {
		c.log.WithFields(logrus.Fields{
			common.FieldTaskID: t.Name(),
			"slot":             slot,
			"elapsed_ms":       float64(elapsed.Microseconds()) / 1000.0,
		}).Trace("processed message")
	}

	c.recordIfEnabled(env)
}

func (c *Controller) failf(format string, args ...any) {
	err := fmt.Errorf(format, args...)
	if c.log != nil {
		c.log.WithFields(logrus.Fields{
			common.FieldTaskID:   c.Name(),
			common.FieldTaskType: "controller",
		}).Error(err)
	}
	c.Task.Fail(err)
}

// recordIfEnabled forwards env to every active per-channel recorder.
func (c *Controller) recordIfEnabled(env *pipeline.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recorders) == 0 {
		return
	}
	for _, r := range c.recorders {
		r.Put(env.Duplicate())
	}
}

// SetRecordingState implements the "on"/"off" halves of spec.md §4.9's
// recording behavior: on start, one Recorder is opened per output
// channel, writing into dir/<channelIndex>; on stop, every recorder is
// stopped and discarded.
func (c *Controller) SetRecordingState(dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.recorders {
		r.Stop()
	}
	c.recorders = map[string]*recorder.Recorder{}
	c.recordDir = dir

	if dir == "" {
		return nil
	}

	outputs := c.Task.Outputs()
	for i, ch := range outputs {
		path := fmt.Sprintf("%s/%d", dir, i)
		r, err := recorder.Open(path)
		if err != nil {
			return fmt.Errorf("controller %s: open recorder for channel %s: %w", c.Name(), ch.Name(), err)
		}
		c.recorders[ch.Name()] = r
	}
	return nil
}

// StartAlarm implements setTimerSecs: a dedicated goroutine sleeps
// `every` and enqueues a Timeout control envelope into the controller's
// own queue, repeating until StopAlarm (spec.md §4.9 "Alarm timer").
func (c *Controller) StartAlarm(every time.Duration) {
	c.mu.Lock()
	if c.alarmStop != nil {
		close(c.alarmStop)
	}
	stop := make(chan struct{})
	c.alarmStop = stop
	c.alarmEvery = every
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.Task.SelfEnqueueControl(pipeline.Timeout, nil)
			}
		}
	}()
}

// StopAlarm halts a previously started alarm timer, if any.
func (c *Controller) StopAlarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alarmStop != nil {
		close(c.alarmStop)
		c.alarmStop = nil
	}
}

// doTimeout handles an arrived Timeout control envelope: the algorithm's
// ProcessAlarm fires only while the task is active (spec.md §4.9).
func (c *Controller) doTimeout() {
	if !c.State().IsActive() {
		return
	}
	if err := c.algorithm.ProcessAlarm(); err != nil {
		c.failf("algorithm %s alarm failed: %v", c.algorithmName, err)
	}
}

func (c *Controller) shutdown() {
	c.StopAlarm()
	c.SetRecordingState("")
}
