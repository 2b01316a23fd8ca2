package builder

import "github.com/sirupsen/logrus"

// SchedulingPolicy applies a task's declared thread scheduler/priority
// attributes at activation time. spec.md §9's open question on
// cross-platform thread scheduling is resolved here as a pluggable
// policy rather than a hard platform dependency: Go's runtime scheduler
// offers no portable equivalent of SCHED_FIFO/SCHED_RR priorities, so the
// default policy logs what was requested and does nothing, while a host
// that can honor scheduling hints (e.g. via a build-tagged syscall
// wrapper) can supply its own.
type SchedulingPolicy interface {
	Apply(taskName, scheduler, priority string) error
}

// NoopSchedulingPolicy is the default SchedulingPolicy: it warns once per
// task that declares a non-empty scheduler/priority and otherwise does
// nothing.
type NoopSchedulingPolicy struct {
	Log *logrus.Logger
}

// Apply implements SchedulingPolicy.
func (p NoopSchedulingPolicy) Apply(taskName, scheduler, priority string) error {
	if scheduler == "" && priority == "" {
		return nil
	}
	if p.Log != nil {
		p.Log.WithFields(logrus.Fields{
			"task":      taskName,
			"scheduler": scheduler,
			"priority":  priority,
		}).Warn("builder: thread scheduling attributes are not portable, ignoring")
	}
	return nil
}
