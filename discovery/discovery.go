// Package discovery provides the pluggable service-discovery boundary
// publishers and subscribers bootstrap through (spec.md §9 "Zeroconf as
// optional glue" — "An implementation may substitute a static registry
// or DNS-SD; the subscriber code treats discovery as an event stream of
// resolved(host, port, txt) / lost() notifications"). No zeroconf/mDNS
// library appears anywhere in the retrieved pack, so rather than
// fabricate a dependency this module implements the static in-memory
// registry the design note explicitly sanctions as a substitute.
package discovery

import "sync"

// Resolved is one discovery event: a publisher became reachable (or
// re-resolved after a flap) at host:port, with transport-specific
// metadata in TXT (e.g. "HeartBeatPort" for multicast).
type Resolved struct {
	Name      string
	Host      string
	Port      int
	Transport string
	TXT       map[string]string
}

// Registry is the discovery backend: Register publishes a service under
// a logical name; Browse returns a channel of Resolved/lost events for a
// name, matching the original's zeroconf resolve/lost event stream
// shape.
type Registry interface {
	Register(r Resolved) (unregister func(), err error)
	Browse(name string) (events <-chan Event, stop func())
}

// Event is either a resolution or a loss of a previously resolved
// service.
type Event struct {
	Resolved *Resolved // nil if Lost
	Lost     bool
}

// StaticRegistry is an in-memory Registry: Register stores an entry and
// fans it out to any current and future Browse subscribers for that
// name; a lost notification fires when unregister is called. Suitable
// for single-process tests and for deployments that resolve publishers
// through configuration rather than mDNS.
type StaticRegistry struct {
	mu       sync.Mutex
	services map[string]Resolved
	watchers map[string][]chan Event
}

// NewStaticRegistry creates an empty StaticRegistry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		services: map[string]Resolved{},
		watchers: map[string][]chan Event{},
	}
}

// Register implements Registry.
func (s *StaticRegistry) Register(r Resolved) (func(), error) {
	s.mu.Lock()
	s.services[r.Name] = r
	watchers := append([]chan Event{}, s.watchers[r.Name]...)
	s.mu.Unlock()

	for _, ch := range watchers {
		ch <- Event{Resolved: &r}
	}

	return func() {
		s.mu.Lock()
		delete(s.services, r.Name)
		watchers := append([]chan Event{}, s.watchers[r.Name]...)
		s.mu.Unlock()
		for _, ch := range watchers {
			ch <- Event{Lost: true}
		}
	}, nil
}

// Browse implements Registry: it immediately replays the current
// resolution (if any), then streams subsequent Register/unregister
// calls for name.
func (s *StaticRegistry) Browse(name string) (<-chan Event, func()) {
	ch := make(chan Event, 8)

	s.mu.Lock()
	s.watchers[name] = append(s.watchers[name], ch)
	current, ok := s.services[name]
	s.mu.Unlock()

	if ok {
		ch <- Event{Resolved: &current}
	}

	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[name]
		for i, c := range list {
			if c == ch {
				s.watchers[name] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}

	return ch, stop
}
