package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is the interface every decoded native message implements. It is
// the radar-domain payload an Envelope carries once decoded (a Video/PRI
// sample, a binary detection, an extraction, a track report, ...).
//
// Header returns the common envelope-visible metadata every message
// carries regardless of its concrete type; MessageType is the wire-level
// type key used to pick a decoder.
type Message interface {
	Header() *Header
	MessageType() uint16
}

// Header carries the fields common to every native Message: producer
// identity, a globally unique id, a monotone per-producer sequence
// number, the message type key, creation/emission timestamps, reported
// size (used for statistics) and a weak back-reference to the upstream
// message this one was derived from (its "basis").
type Header struct {
	Producer    string
	GUID        string
	Sequence    uint32
	Type        uint16
	Created     time.Time
	Emitted     time.Time
	Size        int

	mu    sync.RWMutex
	basis *basisRef
}

// basisRef is a weak reference to an upstream Message: it holds only the
// GUID and a lookup function, never the Message itself, so a long chain
// of derived messages cannot keep an entire lineage alive by strong
// reference. See spec.md §9 "Shared ownership graph with weak
// back-references".
type basisRef struct {
	guid   string
	lookup func(guid string) Message
}

// NewHeader builds a Header with a fresh GUID and the creation timestamp
// set to now. Producer and messageType identify the source task and wire
// type; basis, if non-nil, is recorded as a weak reference.
func NewHeader(producer string, messageType uint16, seq uint32, basis Message) *Header {
	h := &Header{
		Producer: producer,
		GUID:     uuid.NewString(),
		Sequence: seq,
		Type:     messageType,
		Created:  timeNow(),
	}
	if basis != nil {
		h.SetBasis(basis)
	}
	return h
}

// SetBasis installs a weak back-reference to the message this header's
// owner was derived from. Only the GUID is retained strongly; the message
// itself is looked up lazily through the resolver registered by
// SetBasisResolver, so a source task's long-lived outputs never pin
// downstream consumers' memory.
func (h *Header) SetBasis(basis Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if basis == nil {
		h.basis = nil
		return
	}
	h.basis = &basisRef{guid: basis.Header().GUID}
}

// SetBasisResolver installs the lookup function used by Basis to turn the
// weak reference back into a Message. Readers at the head of a stream
// register a resolver over their own recently-emitted messages; it is
// expected to return nil once a message has aged out.
func (h *Header) SetBasisResolver(resolve func(guid string) Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.basis == nil {
		h.basis = &basisRef{}
	}
	h.basis.lookup = resolve
}

// Basis resolves the weak back-reference, returning nil if there is none
// or if the resolver can no longer find the upstream message.
func (h *Header) Basis() Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.basis == nil || h.basis.lookup == nil {
		return nil
	}
	return h.basis.lookup(h.basis.guid)
}

// RootBasis walks the basis chain to the deepest non-nil basis message,
// following resolvers until one returns nil or a cycle-guard limit is
// reached. Used by file writers configured with acquireBasisTimeStamps
// (spec.md §4.6) to rewrite a data envelope's creation timestamp to the
// timestamp of the original source message.
func RootBasis(m Message) Message {
	const maxDepth = 64

	current := m
	for i := 0; i < maxDepth; i++ {
		next := current.Header().Basis()
		if next == nil {
			return current
		}
		current = next
	}
	return current
}

// timeNow exists so tests can stub clock behavior without reaching into
// package-global state directly.
var timeNow = time.Now
