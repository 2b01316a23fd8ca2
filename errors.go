package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Error type for wrapping errors coming from a Stream. Device errors,
// parameter validation failures and algorithm processing failures are all
// surfaced to a LogStore/metrics sink wrapped in an Error rather than as
// bare error strings, so that failures carry enough context (which
// stream, which task, which task kind) to be attributed.
type Error struct {
	Err        error
	StreamID   string
	TaskID     string
	TaskType   string
	Time       time.Time
}

func (e *Error) Error() string {
	bytez, err := json.Marshal(map[string]string{
		"error":     e.Err.Error(),
		"stream_id": e.StreamID,
		"task_id":   e.TaskID,
		"task_type": e.TaskType,
		"time":      e.Time.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Sprintf("%s task=%s stream=%s", e.Err, e.TaskID, e.StreamID)
	}
	return string(bytez)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorHandler is the sink a Task reports its *Error values to. It is the
// abstraction a LogStore, a metrics exporter, or a test harness plugs into.
type ErrorHandler func(*Error)
