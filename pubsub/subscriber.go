package pubsub

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sidecar-radar/pipeline"
	"github.com/sidecar-radar/pipeline/codec"
	"github.com/sidecar-radar/pipeline/discovery"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ReconnectInterval is the fixed 1 Hz reconnect cadence used while a TCP
// subscriber has no live connection (spec.md §5 "Reconnection backoff
// uses a repeating 1-second reactor timer until connected").
const ReconnectInterval = time.Second

// HeartbeatInterval is how often a joined multicast subscriber sends
// "HI" (spec.md §4.8, §6).
const HeartbeatInterval = 2 * time.Second

// TCPSubscriber locates a publisher by name through discovery, connects,
// and streams decoded messages onto its single output channel. On
// connection loss it reschedules with linear (fixed-interval) backoff
// paced by a rate.Limiter rather than a bespoke timer, following the
// rest-of-pack convention of using golang.org/x/time/rate for cadence
// control (SPEC_FULL.md DOMAIN STACK).
type TCPSubscriber struct {
	*pipeline.Task

	serviceName string
	disc        discovery.Registry
	log         *logrus.Logger
	limiter     *rate.Limiter
	stopCh      chan struct{}
}

// OpenTCPSubscriber creates a TCP subscriber task with one output slot
// named "0" and starts its connect/reconnect loop.
func OpenTCPSubscriber(stream *pipeline.Stream, name, serviceName string, disc discovery.Registry, log *logrus.Logger, onErr pipeline.ErrorHandler) *TCPSubscriber {
	task := pipeline.NewTask(stream, name, "tcp-subscriber", 0, onErr)
	task.AddOutput(pipeline.NewChannel("0", serviceName, task))

	s := &TCPSubscriber{
		Task:        task,
		serviceName: serviceName,
		disc:        disc,
		log:         log,
		limiter:     rate.NewLimiter(rate.Every(ReconnectInterval), 1),
		stopCh:      make(chan struct{}),
	}
	task.OnShutdown = s.stop
	go s.run()
	return s
}

func (s *TCPSubscriber) stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func (s *TCPSubscriber) run() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.limiter.Wait(context.Background()); err != nil {
			return
		}

		addr, ok := s.resolve()
		if !ok {
			continue
		}

		conn, err := net.DialTimeout("tcp", addr, netTimeoutPubsub)
		if err != nil {
			if s.log != nil {
				s.log.WithError(err).Warn("tcp-subscriber dial failed")
			}
			continue
		}

		s.stream(conn)
	}
}

func (s *TCPSubscriber) resolve() (string, bool) {
	if s.disc == nil {
		return "", false
	}
	events, stop := s.disc.Browse(s.serviceName)
	defer stop()
	select {
	case ev := <-events:
		if ev.Resolved == nil {
			return "", false
		}
		return fmt.Sprintf("%s:%d", ev.Resolved.Host, ev.Resolved.Port), true
	case <-time.After(netTimeoutPubsub):
		return "", false
	}
}

// stream reads framed messages from conn until it errors or the
// subscriber is stopped, forwarding each decoded message to output "0".
func (s *TCPSubscriber) stream(conn net.Conn) {
	defer conn.Close()

	reader := codec.NewStreamReader(conn)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(netTimeoutPubsub))
		payload, err := reader.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		msg, err := pipeline.DecodeMessage(payload)
		if err != nil {
			continue
		}

		s.SendPrimary(pipeline.WrapNative(msg))
	}
}

const netTimeoutPubsub = time.Second

// discoverTimeout bounds how long a subscriber's one-shot construction
// waits for discovery to resolve a publisher before failing (distinct
// from the TCP subscriber's ongoing reconnect loop, which retries
// indefinitely at ReconnectInterval once running).
const discoverTimeout = 5 * time.Second

// MulticastSubscriber locates a publisher's multicast group and
// heartbeat port via discovery, joins the group, and sends heartbeats on
// a fixed cadence while using-data is true; on using-data turning false
// it sends BYE and stops heartbeating, and on using-data turning true it
// resumes heartbeating. It stays joined to the group throughout; group
// membership ends only at shutdown (spec.md §4.8).
type MulticastSubscriber struct {
	*pipeline.Task

	serviceName string
	disc        discovery.Registry
	log         *logrus.Logger

	conn          *net.UDPConn
	heartbeatConn *net.UDPConn
	heartbeatAddr *net.UDPAddr
	limiter       *rate.Limiter
	stopHeartbeat chan struct{}
	stopCh        chan struct{}
}

// OpenMulticastSubscriber creates a multicast subscriber task with one
// output slot and resolves+joins the group.
func OpenMulticastSubscriber(stream *pipeline.Stream, name, serviceName string, disc discovery.Registry, log *logrus.Logger, onErr pipeline.ErrorHandler) (*MulticastSubscriber, error) {
	task := pipeline.NewTask(stream, name, "multicast-subscriber", 0, onErr)
	task.AddOutput(pipeline.NewChannel("0", serviceName, task))

	m := &MulticastSubscriber{
		Task:        task,
		serviceName: serviceName,
		disc:        disc,
		log:         log,
		limiter:     rate.NewLimiter(rate.Every(HeartbeatInterval), 1),
	}

	events, stop := disc.Browse(serviceName)
	defer stop()
	var ev discovery.Event
	select {
	case ev = <-events:
	case <-time.After(discoverTimeout):
		return nil, fmt.Errorf("multicast-subscriber %s: service %q did not resolve within %s", name, serviceName, discoverTimeout)
	}
	if ev.Resolved == nil {
		return nil, fmt.Errorf("multicast-subscriber %s: service %q not resolved", name, serviceName)
	}

	groupAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:0", ev.Resolved.Host))
	if err != nil {
		return nil, fmt.Errorf("multicast-subscriber %s: resolve group: %w", name, err)
	}
	conn, err := net.ListenMulticastUDP("udp", nil, groupAddr)
	if err != nil {
		return nil, fmt.Errorf("multicast-subscriber %s: join group: %w", name, err)
	}
	m.conn = conn

	hbPort := ev.Resolved.TXT["HeartBeatPort"]
	hbAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%s", ev.Resolved.Host, hbPort))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("multicast-subscriber %s: resolve heartbeat: %w", name, err)
	}
	hbConn, err := net.DialUDP("udp", nil, hbAddr)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("multicast-subscriber %s: dial heartbeat: %w", name, err)
	}
	m.heartbeatConn = hbConn
	m.heartbeatAddr = hbAddr

	task.OnShutdown = m.shutdown
	task.OnUsingDataChanged = m.onUsingDataChanged

	go m.readLoop()
	m.beginHeartbeating()
	return m, nil
}

func (m *MulticastSubscriber) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := m.conn.Read(buf)
		if err != nil {
			return
		}
		payload, err := codec.DecodeDatagram(buf[:n])
		if err != nil {
			continue
		}
		msg, err := pipeline.DecodeMessage(payload)
		if err != nil {
			continue
		}
		m.SendPrimary(pipeline.WrapNative(msg))
	}
}

func (m *MulticastSubscriber) beginHeartbeating() {
	m.stopHeartbeat = make(chan struct{})
	go func() {
		_, _ = m.heartbeatConn.Write([]byte("HI\x00"))
		for {
			if err := m.limiter.Wait(context.Background()); err != nil {
				return
			}
			select {
			case <-m.stopHeartbeat:
				return
			default:
			}
			_, _ = m.heartbeatConn.Write([]byte("HI\x00"))
		}
	}()
}

// onUsingDataChanged implements the join/leave half of spec.md §4.8: a
// subscriber that is no longer using data sends BYE and stops
// heartbeating; regaining using-data resumes it.
func (m *MulticastSubscriber) onUsingDataChanged(next bool) {
	if next {
		if m.stopHeartbeat == nil {
			m.beginHeartbeating()
		}
		return
	}
	_, _ = m.heartbeatConn.Write([]byte("BYE\x00"))
	if m.stopHeartbeat != nil {
		close(m.stopHeartbeat)
		m.stopHeartbeat = nil
	}
}

func (m *MulticastSubscriber) shutdown() {
	_, _ = m.heartbeatConn.Write([]byte("BYE\x00"))
	if m.stopHeartbeat != nil {
		close(m.stopHeartbeat)
	}
	m.conn.Close()
	m.heartbeatConn.Close()
}
