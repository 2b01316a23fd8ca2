package pipeline

import (
	"fmt"
	"sync/atomic"

	"github.com/sidecar-radar/pipeline/codec"
	"github.com/sidecar-radar/pipeline/pool"
)

// Classification is an Envelope's exactly-one-of-three kind (spec.md §3).
type Classification int

const (
	// ClassRaw is opaque bytes from a device whose native type is not
	// yet decoded.
	ClassRaw Classification = iota
	// ClassData is a decoded native message, an encoded buffer, or both.
	ClassData
	// ClassControl is one of the fixed ControlType enumeration.
	ClassControl
)

var (
	envelopePool = pool.New("envelope", func() *Envelope { return &Envelope{} })

	// ErrTypeMismatch is returned by GetNative when the stored native
	// message is not dynamically compatible with the requested type.
	ErrTypeMismatch = fmt.Errorf("pipeline: envelope native message type mismatch")
	// ErrInvalidState is returned by GetNative on a raw or control
	// envelope, and by GetEncoded when neither a native message nor an
	// encoded buffer is present.
	ErrInvalidState = fmt.Errorf("pipeline: invalid envelope state for operation")
)

// GetAllocationStats returns the envelope pool's allocation snapshot.
func GetAllocationStats() pool.AllocationStats { return envelopePool.Stats() }

// Envelope is the universal transport unit carried on every Channel. It
// wraps either raw bytes, a decoded native Message, an encoded CDR
// buffer, or (for ClassData) both — the invariant being that a ClassData
// envelope never has neither. Envelopes are reference-counted: Duplicate
// is O(1) and shares the same underlying bytes/native reference, and the
// backing storage returns to its pool only once the last reference is
// released.
type Envelope struct {
	class       Classification
	control     ControlType
	native      Message
	encoded     []byte
	channelHint string
	size        int

	refs *int32
}

func newEnvelope() *Envelope {
	e := envelopePool.Get()
	*e = Envelope{}
	one := int32(1)
	e.refs = &one
	return e
}

// WrapRaw builds a raw-state Envelope from undecoded bytes, e.g. a VME or
// TSPI device message.
func WrapRaw(raw []byte) *Envelope {
	e := newEnvelope()
	e.class = ClassRaw
	e.encoded = raw
	e.size = len(raw)
	return e
}

// WrapEncoded builds a data Envelope whose encoded CDR buffer is already
// available (read off the wire or a file).
func WrapEncoded(buf []byte) *Envelope {
	e := newEnvelope()
	e.class = ClassData
	e.encoded = buf
	e.size = len(buf)
	return e
}

// WrapNative builds a data Envelope around an already-decoded native
// Message. The encoded buffer is left unset and materialized lazily by
// GetEncoded.
func WrapNative(m Message) *Envelope {
	e := newEnvelope()
	e.class = ClassData
	e.native = m
	e.size = m.Header().Size
	return e
}

// WrapControl builds a control Envelope of the given subtype.
func WrapControl(t ControlType, payload any) *Envelope {
	e := newEnvelope()
	e.class = ClassControl
	e.control = t
	e.native = controlPayload{t: t, v: payload}
	return e
}

// controlPayload lets a control Envelope reuse the native field slot
// without being mistaken for a decoded radar message.
type controlPayload struct {
	t ControlType
	v any
}

func (controlPayload) Header() *Header     { return nil }
func (controlPayload) MessageType() uint16 { return 0 }

// IsRaw reports whether the envelope is in the Raw classification.
func (e *Envelope) IsRaw() bool { return e.class == ClassRaw }

// IsData reports whether the envelope is in the Data classification.
func (e *Envelope) IsData() bool { return e.class == ClassData }

// IsControl reports whether the envelope is a control envelope.
func (e *Envelope) IsControl() bool { return e.class == ClassControl }

// ControlType returns the control subtype; only meaningful if IsControl.
func (e *Envelope) ControlType() ControlType { return e.control }

// ControlPayload returns the type-specific control payload that was
// passed to WrapControl.
func (e *Envelope) ControlPayload() any {
	if cp, ok := e.native.(controlPayload); ok {
		return cp.v
	}
	return nil
}

// ChannelHint is the metadata header's channel hint, used by recipients
// that fan in from multiple upstream channels.
func (e *Envelope) ChannelHint() string { return e.channelHint }

// SetChannelHint records which channel this envelope arrived on.
func (e *Envelope) SetChannelHint(hint string) { e.channelHint = hint }

// GetSize returns the number of bytes the envelope represents: the raw or
// encoded buffer's length if present, otherwise the native message's
// reported header size.
func (e *Envelope) GetSize() int {
	if e.encoded != nil {
		return len(e.encoded)
	}
	if e.native != nil {
		if h := e.native.Header(); h != nil {
			return h.Size
		}
	}
	return e.size
}

// GetEncoded returns the envelope's CDR-encoded buffer, serializing the
// native message on first call and caching the result. Fails with
// ErrInvalidState if neither a native message nor an encoded buffer is
// present (which the ClassData invariant should prevent).
func (e *Envelope) GetEncoded() ([]byte, error) {
	if e.encoded != nil {
		return e.encoded, nil
	}
	if e.native == nil || e.class == ClassControl {
		return nil, ErrInvalidState
	}
	marshaler, ok := e.native.(Marshaler)
	if !ok {
		return nil, fmt.Errorf("pipeline: message type %T does not implement Marshaler", e.native)
	}
	buf, err := marshaler.MarshalCDR()
	if err != nil {
		return nil, err
	}
	e.encoded = codec.EncodeFrame(buf)
	return e.encoded, nil
}

// Marshaler is implemented by native Message types that can serialize
// themselves to CDR bytes (without the frame header, which GetEncoded
// adds).
type Marshaler interface {
	MarshalCDR() ([]byte, error)
}

// GetNative returns the envelope's decoded native message, type-asserted
// to T. Returns ErrInvalidState if the envelope carries no native
// message (e.g. it is Raw, or Data-but-only-encoded), or ErrTypeMismatch
// if the stored message is not a T.
func GetNative[T Message](e *Envelope) (T, error) {
	var zero T
	if e.native == nil || e.class == ClassControl {
		return zero, ErrInvalidState
	}
	typed, ok := e.native.(T)
	if !ok {
		return zero, ErrTypeMismatch
	}
	return typed, nil
}

// HasNative reports whether a decoded native message is installed.
func (e *Envelope) HasNative() bool { return e.native != nil && e.class != ClassControl }

// Duplicate returns a new Envelope sharing this one's underlying bytes
// and native reference; it is O(1) and used for fan-out delivery, never
// copying message payload.
func (e *Envelope) Duplicate() *Envelope {
	atomic.AddInt32(e.refs, 1)
	dup := envelopePool.Get()
	*dup = *e
	dup.refs = e.refs
	return dup
}

// Release decrements the envelope's reference count. Once the last
// reference is released, the Envelope's storage is returned to the pool
// for reuse; callers must not use the Envelope (or any duplicate) after
// calling Release on all of them.
func (e *Envelope) Release() {
	if atomic.AddInt32(e.refs, -1) == 0 {
		envelopePool.Put(e)
	}
}
