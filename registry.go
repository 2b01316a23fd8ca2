package pipeline

import (
	"fmt"
	"sync"

	"github.com/sidecar-radar/pipeline/codec"
)

// Decoder turns a full CDR payload (starting with the fixed payload
// header fields, which DecodeMessage passes through unchanged) back into
// a native Message.
type Decoder func(payload []byte) (Message, error)

var (
	registryMu sync.RWMutex
	registry   = map[uint16]Decoder{}
)

// RegisterMessageType installs the Decoder used for a given wire
// message-type key. Mirrors spec.md §9's "Dynamic plugin loading" idea
// generalized to message types: algorithm/message packages register a
// stable factory at init time rather than the process resolving a dlopen
// symbol.
func RegisterMessageType(messageType uint16, dec Decoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[messageType] = dec
}

// DecodeMessage reads the fixed payload header from buf to learn the
// message type, then dispatches to the registered Decoder for that type.
func DecodeMessage(buf []byte) (Message, error) {
	ph, _, err := codec.DecodePayloadHeader(buf)
	if err != nil {
		return nil, err
	}

	registryMu.RLock()
	dec, ok := registry[ph.MessageType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pipeline: no decoder registered for message type %d", ph.MessageType)
	}

	return dec(buf)
}
