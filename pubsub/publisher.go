// Package pubsub implements the two publisher/subscriber transport
// flavours (spec.md §4.7, §4.8): a TCP server publisher with per-client
// fan-out, and a multicast UDP publisher tracking subscriber liveness
// via a heartbeat map. Both register their presence through the
// discovery package so subscribers can find them by logical name
// (spec.md §6 "Service discovery").
package pubsub

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sidecar-radar/pipeline"
	"github.com/sidecar-radar/pipeline/discovery"
	"github.com/sirupsen/logrus"
)

// HeartbeatTimeout is how long a multicast subscriber may go without
// sending "HI" before the publisher prunes it (spec.md §6, §8 invariant
// 6: "within ≤5s of a subscriber's last HI...").
const HeartbeatTimeout = 5 * time.Second

// tcpClient is one accepted connection's dedicated output handler
// (spec.md §4.7 "each accepted client is serviced by its own thread
// pulling from a per-client queue").
type tcpClient struct {
	conn  net.Conn
	queue chan *pipeline.Envelope
	done  chan struct{}
}

// TCPPublisher is the TCP server publisher flavour: it owns a listening
// socket, broadcasts every data envelope to each connected client by
// duplication, and declares itself not-using-data once the client count
// drops to zero (spec.md §4.7).
type TCPPublisher struct {
	*pipeline.Task

	ln           net.Listener
	serviceName  string
	typeName     string
	disc         discovery.Registry
	unregister   func()
	log          *logrus.Logger

	mu      sync.Mutex
	clients map[string]*tcpClient
	closed  bool
}

// OpenTCPPublisher starts listening on addr and registers serviceName
// with disc (nil disables discovery registration).
func OpenTCPPublisher(stream *pipeline.Stream, name, addr, serviceName, typeName string, disc discovery.Registry, log *logrus.Logger, onErr pipeline.ErrorHandler) (*TCPPublisher, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp-publisher %s: listen %s: %w", name, addr, err)
	}

	task := pipeline.NewTask(stream, name, "tcp-publisher", 1, onErr)
	p := &TCPPublisher{
		Task:        task,
		ln:          ln,
		serviceName: serviceName,
		typeName:    typeName,
		disc:        disc,
		log:         log,
		clients:     map[string]*tcpClient{},
	}

	task.Handle = p.broadcast
	task.UsingDataSource = p.hasClients
	task.OnShutdown = p.shutdown

	if disc != nil {
		host, portStr, _ := net.SplitHostPort(ln.Addr().String())
		var port int
		fmt.Sscanf(portStr, "%d", &port)
		p.unregister, err = disc.Register(discovery.Resolved{
			Name: serviceName, Host: host, Port: port, Transport: "tcp",
			TXT: map[string]string{"transport": "tcp", "ip": host},
		})
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("tcp-publisher %s: register: %w", name, err)
		}
	}

	go p.acceptLoop()
	return p, nil
}

func (p *TCPPublisher) hasClients() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients) > 0
}

func (p *TCPPublisher) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.addClient(conn)
	}
}

func (p *TCPPublisher) addClient(conn net.Conn) {
	c := &tcpClient{conn: conn, queue: make(chan *pipeline.Envelope, 64), done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.clients[conn.RemoteAddr().String()] = c
	p.mu.Unlock()

	go p.clientLoop(conn.RemoteAddr().String(), c)
	p.RecomputeUsingData()
}

// clientLoop is the per-client dedicated output handler: it pulls
// envelopes off c.queue and writes them, closing and removing the
// client on repeated write failure (spec.md §4.7).
func (p *TCPPublisher) clientLoop(key string, c *tcpClient) {
	defer close(c.done)
	var failures int
	for env := range c.queue {
		buf, err := env.GetEncoded()
		env.Release()
		if err != nil {
			continue
		}
		if _, err := c.conn.Write(buf); err != nil {
			failures++
			if p.log != nil {
				p.log.WithError(err).Warn("tcp-publisher client write failed")
			}
			if failures >= 3 {
				break
			}
			continue
		}
		failures = 0
	}
	c.conn.Close()
	p.removeClient(key)
}

func (p *TCPPublisher) removeClient(key string) {
	p.mu.Lock()
	delete(p.clients, key)
	p.mu.Unlock()
	p.RecomputeUsingData()
}

// broadcast implements deliverDataMessage: duplicate env once per
// connected client and enqueue on that client's queue.
func (p *TCPPublisher) broadcast(t *pipeline.Task, slot int, env *pipeline.Envelope) {
	p.mu.Lock()
	clients := make([]*tcpClient, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	for _, c := range clients {
		select {
		case c.queue <- env.Duplicate():
		default:
			// client output backlog full: drop rather than block the
			// publisher's single dispatch goroutine.
		}
	}
}

func (p *TCPPublisher) shutdown() {
	p.mu.Lock()
	p.closed = true
	clients := make([]*tcpClient, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	p.ln.Close()
	for _, c := range clients {
		close(c.queue)
		<-c.done
	}
	if p.unregister != nil {
		p.unregister()
	}
}

// MulticastPublisher tracks subscriber liveness via a heartbeat map
// rather than per-client connections: subscribers send "HI"/"BYE" to a
// dedicated heartbeat port, and a periodic sweep expires stale entries
// (spec.md §4.7, §6).
type MulticastPublisher struct {
	*pipeline.Task

	group       *net.UDPConn
	heartbeat   *net.UDPConn
	serviceName string
	disc        discovery.Registry
	unregister  func()
	log         *logrus.Logger

	mu         sync.Mutex
	lastSeen   map[string]time.Time
	stopSweep  chan struct{}
}

// OpenMulticastPublisher opens a multicast group socket at groupAddr and
// a heartbeat listener at heartbeatAddr, registering serviceName with
// disc including the heartbeat port in its TXT record.
func OpenMulticastPublisher(stream *pipeline.Stream, name, groupAddr, heartbeatAddr, serviceName string, disc discovery.Registry, log *logrus.Logger, onErr pipeline.ErrorHandler) (*MulticastPublisher, error) {
	gAddr, err := net.ResolveUDPAddr("udp", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("multicast-publisher %s: resolve group: %w", name, err)
	}
	group, err := net.DialUDP("udp", nil, gAddr)
	if err != nil {
		return nil, fmt.Errorf("multicast-publisher %s: dial group: %w", name, err)
	}

	hAddr, err := net.ResolveUDPAddr("udp", heartbeatAddr)
	if err != nil {
		group.Close()
		return nil, fmt.Errorf("multicast-publisher %s: resolve heartbeat: %w", name, err)
	}
	heartbeat, err := net.ListenUDP("udp", hAddr)
	if err != nil {
		group.Close()
		return nil, fmt.Errorf("multicast-publisher %s: listen heartbeat: %w", name, err)
	}

	task := pipeline.NewTask(stream, name, "multicast-publisher", 1, onErr)
	p := &MulticastPublisher{
		Task:        task,
		group:       group,
		heartbeat:   heartbeat,
		serviceName: serviceName,
		disc:        disc,
		log:         log,
		lastSeen:    map[string]time.Time{},
		stopSweep:   make(chan struct{}),
	}

	task.Handle = p.send
	task.UsingDataSource = p.hasSubscribers
	task.OnShutdown = p.shutdown

	if disc != nil {
		host, portStr, _ := net.SplitHostPort(heartbeat.LocalAddr().String())
		p.unregister, err = disc.Register(discovery.Resolved{
			Name: serviceName, Host: host, Transport: "multicast",
			TXT: map[string]string{"transport": "multicast", "ip": host, "HeartBeatPort": portStr},
		})
		if err != nil {
			group.Close()
			heartbeat.Close()
			return nil, fmt.Errorf("multicast-publisher %s: register: %w", name, err)
		}
	}

	go p.heartbeatLoop()
	go p.sweepLoop()
	return p, nil
}

func (p *MulticastPublisher) hasSubscribers() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lastSeen) > 0
}

func (p *MulticastPublisher) heartbeatLoop() {
	buf := make([]byte, 16)
	for {
		n, addr, err := p.heartbeat.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg := string(buf[:n])
		switch {
		case len(msg) >= 2 && msg[:2] == "HI":
			p.mu.Lock()
			p.lastSeen[addr.String()] = time.Now()
			p.mu.Unlock()
			p.RecomputeUsingData()
		case len(msg) >= 3 && msg[:3] == "BYE":
			p.mu.Lock()
			delete(p.lastSeen, addr.String())
			p.mu.Unlock()
			p.RecomputeUsingData()
		}
	}
}

func (p *MulticastPublisher) sweepLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.C:
			p.mu.Lock()
			changed := false
			for addr, seen := range p.lastSeen {
				if time.Since(seen) > HeartbeatTimeout {
					delete(p.lastSeen, addr)
					changed = true
				}
			}
			p.mu.Unlock()
			if changed {
				p.RecomputeUsingData()
			}
		}
	}
}

func (p *MulticastPublisher) send(t *pipeline.Task, slot int, env *pipeline.Envelope) {
	buf, err := env.GetEncoded()
	if err != nil {
		return
	}
	_, _ = p.group.Write(buf)
}

func (p *MulticastPublisher) shutdown() {
	close(p.stopSweep)
	p.group.Close()
	p.heartbeat.Close()
	if p.unregister != nil {
		p.unregister()
	}
}
