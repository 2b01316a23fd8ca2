package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sidecar-radar/pipeline"
	"github.com/sidecar-radar/pipeline/codec"
	"github.com/sirupsen/logrus"
)

// netTimeout bounds a single blocking network read so cancellation
// (queue deactivation, stop signal) remains observable (spec.md §5
// "Network readers use per-call timeouts (1 s default)").
const netTimeout = time.Second

// StreamReader is a TCP-transport reader task: it frames CDR messages
// off a connected net.Conn using the same resynchronizing StreamReader
// the file reader uses, since both are byte-stream transports (spec.md
// §4.5, §3 "Wire-level transports").
type StreamReader struct {
	*pipeline.Task

	conn   net.Conn
	reader *codec.StreamReader
	log    *logrus.Logger
	stopCh chan struct{}
}

// NewStreamReader builds a reader task over an already-connected conn
// (dialed or accepted by the caller — reconnect/listen policy belongs to
// pubsub, which owns connection lifecycle).
func NewStreamReader(stream *pipeline.Stream, name string, conn net.Conn, log *logrus.Logger, onErr pipeline.ErrorHandler) *StreamReader {
	task := pipeline.NewTask(stream, name, "tcp-reader", 1, onErr)
	r := &StreamReader{
		Task:   task,
		conn:   conn,
		reader: codec.NewStreamReader(conn),
		log:    log,
		stopCh: make(chan struct{}),
	}
	task.OnShutdown = r.stop
	return r
}

func (r *StreamReader) stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	r.conn.Close()
}

// Start launches the dedicated read goroutine.
func (r *StreamReader) Start() { go r.readLoop() }

func (r *StreamReader) readLoop() {
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		if !r.State().IsActive() {
			time.Sleep(pollInterval)
			continue
		}

		_ = r.conn.SetReadDeadline(time.Now().Add(netTimeout))
		payload, err := r.reader.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, io.EOF) {
				return
			}
			r.Task.Fail(fmt.Errorf("tcp-reader %s: read: %w", r.Name(), err))
			return
		}

		msg, err := pipeline.DecodeMessage(payload)
		if err != nil {
			if r.log != nil {
				r.log.Warn(err)
			}
			continue
		}

		r.InputStats(0).Update(msg.Header().Sequence, msg.Header().Size)
		r.SendPrimary(pipeline.WrapNative(msg))
	}
}

// DatagramReader is the UDP-transport reader task: unicast and multicast
// both deliver one complete datagram per read, so framing validates a
// single frame per packet rather than resynchronizing a byte stream
// (spec.md §4.2, §4.5).
type DatagramReader struct {
	*pipeline.Task

	conn       net.PacketConn
	bufferSize int
	log        *logrus.Logger
	stopCh     chan struct{}
}

// NewDatagramReader builds a reader task over an already-bound/joined
// net.PacketConn (unicast UDP or multicast group membership is the
// caller's/pubsub's responsibility).
func NewDatagramReader(stream *pipeline.Stream, name string, conn net.PacketConn, bufferSize int, log *logrus.Logger, onErr pipeline.ErrorHandler) *DatagramReader {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	task := pipeline.NewTask(stream, name, "datagram-reader", 1, onErr)
	d := &DatagramReader{
		Task:       task,
		conn:       conn,
		bufferSize: bufferSize,
		log:        log,
		stopCh:     make(chan struct{}),
	}
	task.OnShutdown = d.stop
	return d
}

func (d *DatagramReader) stop() {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	d.conn.Close()
}

// Start launches the dedicated read goroutine.
func (d *DatagramReader) Start() { go d.readLoop() }

func (d *DatagramReader) readLoop() {
	buf := make([]byte, d.bufferSize)

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		if !d.State().IsActive() {
			time.Sleep(pollInterval)
			continue
		}

		_ = d.conn.SetReadDeadline(time.Now().Add(netTimeout))
		n, _, err := d.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			d.Task.Fail(fmt.Errorf("datagram-reader %s: read: %w", d.Name(), err))
			return
		}

		payload, err := codec.DecodeDatagram(buf[:n])
		if err != nil {
			// Malformed datagram: discard (spec.md §4.2).
			continue
		}

		msg, err := pipeline.DecodeMessage(payload)
		if err != nil {
			if d.log != nil {
				d.log.Warn(err)
			}
			continue
		}

		d.InputStats(0).Update(msg.Header().Sequence, msg.Header().Size)
		d.SendPrimary(pipeline.WrapNative(msg))
	}
}
