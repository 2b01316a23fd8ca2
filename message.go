package pipeline

import (
	"math"
	"time"

	"github.com/sidecar-radar/pipeline/codec"
)

// VideoMessageType is the wire-level message-type key for Video.
const VideoMessageType uint16 = 1

// Video is the built-in native Message for a single PRI radial: one
// pulse-repetition-interval worth of amplitude samples plus the shaft
// encoder azimuth at which it was acquired. It is the concrete Message
// implementation file readers, writers and the round-trip tests in
// spec.md's scenarios (S1, S2, S6) exercise; DSP algorithms that consume
// or produce richer message types are out of scope (spec.md §1) but
// implement the same Message/Marshaler contract.
type Video struct {
	header  *Header
	Samples []int16
	Azimuth float64
}

// NewVideo builds a Video message with a fresh Header.
func NewVideo(producer string, seq uint32, samples []int16, azimuth float64) *Video {
	v := &Video{
		Samples: samples,
		Azimuth: azimuth,
	}
	v.header = NewHeader(producer, VideoMessageType, seq, nil)
	v.header.Size = len(samples)*2 + 8
	v.header.Emitted = timeNow()
	return v
}

// Header implements Message.
func (v *Video) Header() *Header { return v.header }

// MessageType implements Message.
func (v *Video) MessageType() uint16 { return VideoMessageType }

// MarshalCDR implements Marshaler.
func (v *Video) MarshalCDR() ([]byte, error) {
	ph := codec.PayloadHeader{
		HeaderVersion:  codec.HeaderVersion,
		GUIDVersion:    codec.GUIDVersion,
		Producer:       v.header.Producer,
		MessageType:    v.header.Type,
		Sequence:       v.header.Sequence,
		Representation: "",
		Seconds:        int32(v.header.Created.Unix()),
		Microseconds:   int32(v.header.Created.Nanosecond() / 1000),
	}

	buf := make([]byte, 0, 64+len(v.Samples)*2)
	buf = codec.EncodePayloadHeader(buf, ph)
	buf = codec.AppendUint32(buf, uint32(len(v.Samples)))
	for _, s := range v.Samples {
		buf = codec.AppendInt32(buf, int32(s))
	}
	buf = appendFloat64(buf, v.Azimuth)
	return buf, nil
}

// UnmarshalVideo decodes a Video message from a CDR payload (the bytes
// after the frame header, as returned by codec.StreamReader.ReadMessage
// or codec.DecodeDatagram).
func UnmarshalVideo(buf []byte) (*Video, error) {
	ph, rest, err := codec.DecodePayloadHeader(buf)
	if err != nil {
		return nil, err
	}

	var n uint32
	if n, rest, err = codec.ReadUint32(rest); err != nil {
		return nil, err
	}

	samples := make([]int16, n)
	for i := range samples {
		var s int32
		if s, rest, err = codec.ReadInt32(rest); err != nil {
			return nil, err
		}
		samples[i] = int16(s)
	}

	azimuth, _, err := readFloat64(rest)
	if err != nil {
		return nil, err
	}

	v := &Video{
		Samples: samples,
		Azimuth: azimuth,
	}
	v.header = &Header{
		Producer: ph.Producer,
		GUID:     "",
		Sequence: ph.Sequence,
		Type:     ph.MessageType,
		Created:  time.Unix(int64(ph.Seconds), int64(ph.Microseconds)*1000).UTC(),
		Size:     len(samples)*2 + 8,
	}
	return v, nil
}

func appendFloat64(buf []byte, f float64) []byte {
	bits := math.Float64bits(f)
	buf = codec.AppendUint32(buf, uint32(bits>>32))
	buf = codec.AppendUint32(buf, uint32(bits))
	return buf
}

func readFloat64(buf []byte) (float64, []byte, error) {
	hi, rest, err := codec.ReadUint32(buf)
	if err != nil {
		return 0, nil, err
	}
	lo, rest, err := codec.ReadUint32(rest)
	if err != nil {
		return 0, nil, err
	}
	bits := uint64(hi)<<32 | uint64(lo)
	return math.Float64frombits(bits), rest, nil
}

// init registers a decoder wrapping UnmarshalVideo as the default decoder
// for VideoMessageType in the package-level message registry used by
// readers (see RegisterMessageType / DecodeMessage in registry.go).
func init() {
	RegisterMessageType(VideoMessageType, func(buf []byte) (Message, error) {
		return UnmarshalVideo(buf)
	})
}
