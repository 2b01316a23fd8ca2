// Package recorder implements the dedicated-thread, gather-write output
// used by a recording Controller's per-output-channel recorders (spec.md
// §4.10). File writer tasks (transport.FileWriter) do not use it; both
// share transport.GatherWriter.
//
// Grounded on the teacher's vertex.go worker-goroutine-plus-channel
// pattern, generalized to the gather-write batching and fsync-on-stop
// semantics of original_source/Algorithms/Recorder.cc and
// IO/GatherWriter.cc (see SUPPLEMENTED FEATURES in SPEC_FULL.md).
package recorder

import (
	"fmt"
	"os"

	"github.com/sidecar-radar/pipeline"
	"github.com/sidecar-radar/pipeline/transport"
)

// Recorder owns one output file, a dedicated goroutine, and its own
// queue. Put enqueues; the goroutine gather-writes batches to the file;
// Stop drains, flushes, fsyncs and closes (spec.md §4.10).
type Recorder struct {
	path string
	file *os.File
	gw   *transport.GatherWriter

	items chan *pipeline.Envelope
	done  chan struct{}
	errCh chan error
}

// Open creates a new recording file at path, failing (no overwrite, no
// retry) if it already exists — matching spec.md §4.10/§7 "Failure to
// open the recording file (e.g., file exists) is reported as an error
// without retry".
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}

	r := &Recorder{
		path:  path,
		file:  f,
		gw:    transport.NewGatherWriter(f, transport.DefaultGatherLimits),
		items: make(chan *pipeline.Envelope, 256),
		done:  make(chan struct{}),
		errCh: make(chan error, 1),
	}

	go r.run()
	return r, nil
}

// Put enqueues env for recording; the Recorder takes ownership of the
// reference and releases it once written.
func (r *Recorder) Put(env *pipeline.Envelope) {
	select {
	case r.items <- env:
	case <-r.done:
		env.Release()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for env := range r.items {
		buf, err := env.GetEncoded()
		env.Release()
		if err != nil {
			r.errCh <- fmt.Errorf("recorder %s: encode failed: %w", r.path, err)
			continue
		}
		if err := r.gw.Write(buf); err != nil {
			select {
			case r.errCh <- fmt.Errorf("recorder %s: write failed: %w", r.path, err):
			default:
			}
		}
	}
}

// Err returns the oldest unread write/encode error recorded by the
// background goroutine, if any, without blocking. One error is held at a
// time: a write error that occurs while one is pending is dropped.
func (r *Recorder) Err() error {
	select {
	case err := <-r.errCh:
		return err
	default:
		return nil
	}
}

// Stop deactivates the queue, waits for the goroutine to drain remaining
// entries, flushes the gather-writer, fsyncs, and closes the file
// (spec.md §4.10).
func (r *Recorder) Stop() error {
	close(r.items)
	<-r.done

	if err := r.gw.Flush(); err != nil {
		r.file.Close()
		return fmt.Errorf("recorder %s: flush on stop: %w", r.path, err)
	}
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return fmt.Errorf("recorder %s: fsync on stop: %w", r.path, err)
	}
	return r.file.Close()
}
