package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeFrame_RoundTrip(t *testing.T) {
	payload := []byte("hello radar")
	frame := EncodeFrame(payload)

	require.Equal(t, Magic, order.Uint16(frame[0:2]))
	require.Equal(t, ByteOrderNetwork, order.Uint16(frame[2:4]))
	require.Equal(t, uint32(len(frame)), order.Uint32(frame[4:8]))
	require.Equal(t, payload, frame[FrameHeaderSize:])
}

func TestPayloadHeader_RoundTrip(t *testing.T) {
	h := PayloadHeader{
		HeaderVersion:  HeaderVersion,
		GUIDVersion:    GUIDVersion,
		Producer:       "radar-a",
		MessageType:    7,
		Sequence:       42,
		Representation: "raw",
		Seconds:        100,
		Microseconds:   250000,
	}

	buf := EncodePayloadHeader(nil, h)
	got, rest, err := DecodePayloadHeader(buf)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, h, got)
}

func TestDecodePayloadHeader_TruncatedBuffer(t *testing.T) {
	h := PayloadHeader{Producer: "radar-a", Representation: "raw"}
	buf := EncodePayloadHeader(nil, h)

	_, _, err := DecodePayloadHeader(buf[:len(buf)-1])
	require.Error(t, err)
}

func TestDecodeDatagram_Valid(t *testing.T) {
	payload := []byte("one-shot datagram")
	frame := EncodeFrame(payload)

	got, err := DecodeDatagram(frame)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDecodeDatagram_BadMagic(t *testing.T) {
	frame := EncodeFrame([]byte("x"))
	frame[0] = 0x00

	_, err := DecodeDatagram(frame)
	require.ErrorIs(t, err, ErrBadDatagram)
}

func TestDecodeDatagram_SizeMismatch(t *testing.T) {
	frame := EncodeFrame([]byte("x"))
	truncated := frame[:len(frame)-1]

	_, err := DecodeDatagram(truncated)
	require.ErrorIs(t, err, ErrBadDatagram)
}

func TestDecodeDatagram_TooShort(t *testing.T) {
	_, err := DecodeDatagram([]byte{0xAA})
	require.ErrorIs(t, err, ErrBadDatagram)
}

func TestStreamReader_ReadsSequentialFrames(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(EncodeFrame([]byte("first")))
	wire.Write(EncodeFrame([]byte("second")))

	r := NewStreamReader(&wire)

	msg, err := r.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte("first"), msg)

	msg, err = r.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte("second"), msg)

	_, err = r.ReadMessage()
	require.ErrorIs(t, err, io.EOF)
}

func TestStreamReader_ResyncsPastGarbage(t *testing.T) {
	var wire bytes.Buffer
	wire.Write([]byte{0x01, 0x02, 0x03}) // garbage bytes before the first valid magic
	wire.Write(EncodeFrame([]byte("payload")))

	r := NewStreamReader(&wire)

	msg, err := r.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), msg)
}

func TestStreamReader_ResyncsPastEmbeddedGarbage(t *testing.T) {
	// A stray byte sequence that happens to contain the magic's first
	// byte but not a valid frame should not desynchronize the reader
	// permanently.
	var wire bytes.Buffer
	wire.Write([]byte{0xAA, 0x00, 0x00}) // looks like a magic lead-in, then breaks
	wire.Write(EncodeFrame([]byte("recovered")))

	r := NewStreamReader(&wire)

	msg, err := r.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte("recovered"), msg)
}

func TestAppendReadPrimitives_RoundTrip(t *testing.T) {
	buf := AppendUint16(nil, 0xBEEF)
	buf = AppendUint32(buf, 0xDEADBEEF)
	buf = AppendInt32(buf, -42)
	buf = AppendString(buf, "producer-1")

	u16, rest, err := ReadUint16(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(0xBEEF), u16)

	u32, rest, err := ReadUint32(rest)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)

	i32, rest, err := ReadInt32(rest)
	require.NoError(t, err)
	require.Equal(t, int32(-42), i32)

	s, rest, err := ReadString(rest)
	require.NoError(t, err)
	require.Equal(t, "producer-1", s)
	require.Empty(t, rest)
}
