// Package codec implements the length-prefixed CDR (Common Data
// Representation) wire framing shared by every reader, writer, publisher
// and subscriber: a fixed 8-byte frame header (magic, byte-order marker,
// total size) followed by a payload whose own leading fields are a
// header-version, guid-version, producer, message-type-key,
// sequence-number, representation string and a creation timestamp.
//
// Grounded on original_source/IO/ByteOrder.h and
// original_source/IO/ControlMessage.cc; this package owns only the wire
// format, not the decoded Go representation of any message, so it has no
// dependency on the pipeline package (pipeline depends on codec, not the
// reverse).
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Magic is the 16-bit sentinel that opens every frame.
	Magic uint16 = 0xAAAA

	// ByteOrderNetwork marks a frame encoded big-endian (the wire order).
	ByteOrderNetwork uint16 = 0x0000
	// ByteOrderSwapped marks a frame whose payload was encoded on a
	// host with the opposite byte order and needs swapping on read.
	ByteOrderSwapped uint16 = 0xFFFF

	// FrameHeaderSize is the size in bytes of magic+byte-order+total-size.
	FrameHeaderSize = 2 + 2 + 4

	// HeaderVersion is the version of the payload header layout this
	// package writes and expects to read.
	HeaderVersion uint16 = 1
	// GUIDVersion is the version of the GUID encoding used in the
	// payload header.
	GUIDVersion uint16 = 2
)

var order = binary.BigEndian

// FrameHeader is the 8-byte prefix of every encoded message.
type FrameHeader struct {
	Magic     uint16
	ByteOrder uint16
	TotalSize uint32 // includes these 8 bytes
}

// EncodeFrame wraps an already-encoded payload with the frame header,
// returning a single contiguous buffer suitable for a single write.
func EncodeFrame(payload []byte) []byte {
	total := FrameHeaderSize + len(payload)
	buf := make([]byte, total)
	order.PutUint16(buf[0:2], Magic)
	order.PutUint16(buf[2:4], ByteOrderNetwork)
	order.PutUint32(buf[4:8], uint32(total))
	copy(buf[8:], payload)
	return buf
}

// PayloadHeader is the fixed set of fields that begins every payload,
// ahead of any message-type-specific fields.
type PayloadHeader struct {
	HeaderVersion  uint16
	GUIDVersion    uint16
	Producer       string
	MessageType    uint16
	Sequence       uint32
	Representation string
	Seconds        int32
	Microseconds   int32
}

// EncodePayloadHeader appends the fixed payload header fields to buf,
// returning the extended buffer.
func EncodePayloadHeader(buf []byte, h PayloadHeader) []byte {
	buf = appendUint16(buf, h.HeaderVersion)
	buf = appendUint16(buf, h.GUIDVersion)
	buf = appendString(buf, h.Producer)
	buf = appendUint16(buf, h.MessageType)
	buf = appendUint32(buf, h.Sequence)
	buf = appendString(buf, h.Representation)
	buf = appendInt32(buf, h.Seconds)
	buf = appendInt32(buf, h.Microseconds)
	return buf
}

// DecodePayloadHeader reads the fixed payload header fields from the
// front of buf, returning the header, and the remaining type-specific
// bytes.
func DecodePayloadHeader(buf []byte) (PayloadHeader, []byte, error) {
	var h PayloadHeader
	var err error

	if h.HeaderVersion, buf, err = readUint16(buf); err != nil {
		return h, nil, err
	}
	if h.GUIDVersion, buf, err = readUint16(buf); err != nil {
		return h, nil, err
	}
	if h.Producer, buf, err = readString(buf); err != nil {
		return h, nil, err
	}
	if h.MessageType, buf, err = readUint16(buf); err != nil {
		return h, nil, err
	}
	if h.Sequence, buf, err = readUint32(buf); err != nil {
		return h, nil, err
	}
	if h.Representation, buf, err = readString(buf); err != nil {
		return h, nil, err
	}
	if h.Seconds, buf, err = readInt32(buf); err != nil {
		return h, nil, err
	}
	if h.Microseconds, buf, err = readInt32(buf); err != nil {
		return h, nil, err
	}

	return h, buf, nil
}

// StreamReader frames messages off of a byte stream (a TCP connection or
// a file). It tracks how many bytes of the current message have already
// been consumed so a short read never drops partially-received data, and
// resynchronizes byte-by-byte on a magic mismatch (spec.md §4.2).
type StreamReader struct {
	r   *bufio.Reader
	buf []byte // accumulated bytes of the message currently being read
}

// NewStreamReader wraps r for framed reads.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// ReadMessage returns the next complete payload (the bytes after the
// 8-byte frame header), blocking until one is available or the
// underlying reader returns an error.
func (s *StreamReader) ReadMessage() ([]byte, error) {
	for {
		if len(s.buf) == 0 {
			if err := s.syncToMagic(); err != nil {
				return nil, err
			}
		}

		for len(s.buf) < FrameHeaderSize {
			b, err := s.r.ReadByte()
			if err != nil {
				return nil, err
			}
			s.buf = append(s.buf, b)
		}

		total := order.Uint32(s.buf[4:8])
		if order.Uint16(s.buf[0:2]) != Magic || total < FrameHeaderSize || total > FrameHeaderSize+uint32(1<<24) {
			// bad magic or corrupt size field; drop one byte and resync
			s.buf = s.buf[1:]
			continue
		}

		for uint32(len(s.buf)) < total {
			need := int(total) - len(s.buf)
			chunk := make([]byte, need)
			n, err := io.ReadFull(s.r, chunk)
			s.buf = append(s.buf, chunk[:n]...)
			if err != nil {
				return nil, err
			}
		}

		payload := make([]byte, total-FrameHeaderSize)
		copy(payload, s.buf[FrameHeaderSize:total])
		s.buf = s.buf[:0]
		return payload, nil
	}
}

// syncToMagic advances the reader byte-by-byte until it finds a valid
// magic value, discarding everything before it.
func (s *StreamReader) syncToMagic() error {
	var window [2]byte
	if _, err := io.ReadFull(s.r, window[:]); err != nil {
		return err
	}
	for order.Uint16(window[:]) != Magic {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		window[0], window[1] = window[1], b
	}
	s.buf = append(s.buf, window[0], window[1])
	return nil
}

// ErrBadDatagram is returned when a datagram's magic or size field is
// inconsistent with it being a single framed message.
var ErrBadDatagram = fmt.Errorf("codec: datagram is not a single valid frame")

// DecodeDatagram assumes buf holds exactly one complete framed message,
// as every datagram-based reader must (spec.md §4.2): it validates magic
// and total-size match len(buf) and returns the payload, or
// ErrBadDatagram if not.
func DecodeDatagram(buf []byte) ([]byte, error) {
	if len(buf) < FrameHeaderSize {
		return nil, ErrBadDatagram
	}
	if order.Uint16(buf[0:2]) != Magic {
		return nil, ErrBadDatagram
	}
	total := order.Uint32(buf[4:8])
	if total != uint32(len(buf)) {
		return nil, ErrBadDatagram
	}
	return buf[FrameHeaderSize:], nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	order.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	order.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt32(buf []byte, v int32) []byte {
	return appendUint32(buf, uint32(v))
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readUint16(buf []byte) (uint16, []byte, error) {
	if len(buf) < 2 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return order.Uint16(buf[:2]), buf[2:], nil
}

func readUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, io.ErrUnexpectedEOF
	}
	return order.Uint32(buf[:4]), buf[4:], nil
}

func readInt32(buf []byte) (int32, []byte, error) {
	v, rest, err := readUint32(buf)
	return int32(v), rest, err
}

func readString(buf []byte) (string, []byte, error) {
	n, rest, err := readUint32(buf)
	if err != nil {
		return "", nil, err
	}
	if uint32(len(rest)) < n {
		return "", nil, io.ErrUnexpectedEOF
	}
	return string(rest[:n]), rest[n:], nil
}

// AppendUint16, AppendUint32, AppendInt32 and AppendString are exported
// so message-type-specific encoders (e.g. the built-in Video message)
// can build on the same primitives used for the fixed header.
func AppendUint16(buf []byte, v uint16) []byte { return appendUint16(buf, v) }
func AppendUint32(buf []byte, v uint32) []byte { return appendUint32(buf, v) }
func AppendInt32(buf []byte, v int32) []byte   { return appendInt32(buf, v) }
func AppendString(buf []byte, s string) []byte { return appendString(buf, s) }

// ReadUint16, ReadUint32, ReadInt32 and ReadString are the matching
// readers for message-type-specific decoders.
func ReadUint16(buf []byte) (uint16, []byte, error) { return readUint16(buf) }
func ReadUint32(buf []byte) (uint32, []byte, error) { return readUint32(buf) }
func ReadInt32(buf []byte) (int32, []byte, error)   { return readInt32(buf) }
func ReadString(buf []byte) (string, []byte, error) { return readString(buf) }
