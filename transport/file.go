package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sidecar-radar/pipeline"
	"github.com/sidecar-radar/pipeline/codec"
	"github.com/sidecar-radar/pipeline/common"
	"github.com/sirupsen/logrus"
)

// pollInterval bounds how long a reader's fetch loop can block before
// re-checking its task's processing state and stop signal (spec.md §5
// "Reader threads block in fetchInput with a ≤1 s timeout").
const pollInterval = time.Second

// FileReader is a device-specific reader task that streams CDR-framed
// messages off a file, forwarding each on its first-registered output
// via Task.SendPrimary (spec.md §4.5). It owns a dedicated goroutine distinct from the Task's own
// control-dispatch loop (Task.Run), mirroring the teacher's
// channel-plus-goroutine worker pattern generalized from a push to a
// pull source.
type FileReader struct {
	*pipeline.Task

	path         string
	signalEOF    bool
	log          *logrus.Logger
	stopCh       chan struct{}
	producerName string
}

// NewFileReader builds a FileReader task reading from path. numInputs is
// always 1: spec.md §4.5's "updates input stats for slot 0" applies even
// though nothing delivers to this task over a Channel — the reader
// itself drives InputStats(0) from what it fetches off the device.
func NewFileReader(stream *pipeline.Stream, name, path string, signalEOF bool, log *logrus.Logger, onErr pipeline.ErrorHandler) *FileReader {
	task := pipeline.NewTask(stream, name, "file-reader", 1, onErr)
	f := &FileReader{
		Task:         task,
		path:         path,
		signalEOF:    signalEOF,
		log:          log,
		stopCh:       make(chan struct{}),
		producerName: name,
	}
	task.OnShutdown = f.stop
	return f
}

func (f *FileReader) stop() {
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
}

// Start launches the dedicated read-goroutine. Stream.Start is
// responsible for also launching Task.Run so control envelopes (state
// changes, shutdown) are dispatched concurrently.
func (f *FileReader) Start() {
	go f.readLoop()
}

func (f *FileReader) readLoop() {
	file, err := os.Open(f.path)
	if err != nil {
		f.Task.Fail(fmt.Errorf("file-reader %s: open %s: %w", f.Name(), f.path, err))
		return
	}
	defer file.Close()

	reader := codec.NewStreamReader(file)

	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if !f.State().IsActive() {
			time.Sleep(pollInterval)
			continue
		}

		payload, err := reader.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if f.signalEOF {
					f.SendPrimary(pipeline.WrapControl(pipeline.Shutdown, nil))
				}
				return
			}
			f.Task.Fail(fmt.Errorf("file-reader %s: read: %w", f.Name(), err))
			return
		}

		msg, err := pipeline.DecodeMessage(payload)
		if err != nil {
			if f.log != nil {
				f.log.WithFields(logrus.Fields{common.FieldTaskID: f.Name()}).Warn(err)
			}
			continue
		}

		f.InputStats(0).Update(msg.Header().Sequence, msg.Header().Size)
		f.SendPrimary(pipeline.WrapNative(msg))
	}
}
