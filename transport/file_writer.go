package transport

import (
	"fmt"
	"os"

	"github.com/sidecar-radar/pipeline"
)

// FileWriter is a sink task that gather-writes CDR-framed messages
// arriving on its single input slot to a file (spec.md §4.6). It is
// always alwaysUsingData: a writer with nowhere further downstream still
// needs the data it is given.
type FileWriter struct {
	*pipeline.Task

	file                   *os.File
	gw                     *GatherWriter
	acquireBasisTimeStamps bool
}

// NewFileWriter creates a FileWriter task writing to path, truncating
// any existing file. If acquireBasisTimeStamps is set, each data
// envelope's creation timestamp is rewritten to its root-basis message's
// timestamp before encoding (spec.md §4.6).
func NewFileWriter(stream *pipeline.Stream, name, path string, acquireBasisTimeStamps bool, onErr pipeline.ErrorHandler) (*FileWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("file-writer %s: create %s: %w", name, path, err)
	}

	task := pipeline.NewTask(stream, name, "file-writer", 1, onErr)
	w := &FileWriter{
		Task:                   task,
		file:                   file,
		gw:                     NewGatherWriter(file, DefaultGatherLimits),
		acquireBasisTimeStamps: acquireBasisTimeStamps,
	}
	task.SetAlwaysUsingData(true)
	task.Handle = w.handle
	task.OnShutdown = w.shutdown
	return w, nil
}

func (w *FileWriter) handle(t *pipeline.Task, slot int, env *pipeline.Envelope) {
	if w.acquireBasisTimeStamps && env.HasNative() {
		if msg, err := pipeline.GetNative[pipeline.Message](env); err == nil {
			if root := pipeline.RootBasis(msg); root != nil {
				msg.Header().Created = root.Header().Created
			}
		}
	}

	buf, err := env.GetEncoded()
	if err != nil {
		t.Fail(fmt.Errorf("file-writer %s: encode: %w", t.Name(), err))
		return
	}

	if err := w.gw.Write(buf); err != nil {
		t.Fail(fmt.Errorf("file-writer %s: write: %w", t.Name(), err))
		t.Close()
	}
}

// shutdown flushes any partial gather-write batch and closes the
// underlying file before the device goes away (spec.md §4.6 "On orderly
// shutdown the gather-writer is flushed before the device is closed").
func (w *FileWriter) shutdown() {
	_ = w.gw.Flush()
	_ = w.file.Close()
}
