package pipeline

import (
	"sync"
	"time"
)

// SeqHysteresis is the hysteresis band applied before a backward jump in
// a sequence number is treated as a producer restart rather than a
// reordered/duplicate sample. spec.md §9 leaves the exact threshold an
// Open Question per subsystem; this module documents 16 as the chosen
// value for general-purpose input statistics (see DESIGN.md).
const SeqHysteresis = 16

// InputStats is the rolling counter block for one task input slot
// (spec.md §4.3, §8 invariant 5).
type InputStats struct {
	mu sync.Mutex

	messageCount uint64
	byteCount    uint64
	dropCount    uint64
	dupeCount    uint64

	haveSeq     bool
	expectedSeq uint32
	previousSeq uint32

	windowStart  time.Time
	windowBytes  uint64
	windowMsgs   uint64
	byteRate     float64
	messageRate  float64
}

// NewInputStats creates a zeroed InputStats block.
func NewInputStats() *InputStats {
	return &InputStats{windowStart: timeNow()}
}

// Snapshot is a point-in-time, race-free copy of an InputStats block.
type Snapshot struct {
	MessageCount uint64
	ByteCount    uint64
	DropCount    uint64
	DupeCount    uint64
	ByteRate     float64
	MessageRate  float64
}

// Update records receipt of a data envelope with the given sequence
// number and byte size, updating message/byte counters, rolling rates,
// and drop/dupe counts from the sequence-number delta (spec.md §4.3,
// §8 invariant 5, §6 scenario S6).
func (s *InputStats) Update(seq uint32, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messageCount++
	s.byteCount += uint64(size)
	s.windowMsgs++
	s.windowBytes += uint64(size)

	if !s.haveSeq {
		s.haveSeq = true
		s.expectedSeq = seq + 1
		s.previousSeq = seq
	} else {
		switch {
		case seq == s.previousSeq:
			s.dupeCount++
		case seq > s.expectedSeq:
			s.dropCount += uint64(seq - s.expectedSeq)
			s.expectedSeq = seq + 1
		case seq < s.previousSeq:
			// Backward movement: only treated as a drop-counter
			// re-anchor once it exceeds the hysteresis band: a small
			// backward wobble is reordering/duplication noise, a
			// large one is a producer restart. Within the band,
			// expectedSeq must hold so the next in-order value is
			// still measured against the pre-wobble anchor.
			if s.previousSeq-seq > SeqHysteresis {
				s.expectedSeq = seq + 1
			}
		default:
			s.expectedSeq = seq + 1
		}
		s.previousSeq = seq
	}

	s.rollWindow()
}

// rollWindow recomputes the windowed byte/message rate once per second
// of wall-clock time elapsed since the last roll; callers hold s.mu.
func (s *InputStats) rollWindow() {
	now := timeNow()
	elapsed := now.Sub(s.windowStart)
	if elapsed < time.Second {
		return
	}
	secs := elapsed.Seconds()
	s.byteRate = float64(s.windowBytes) / secs
	s.messageRate = float64(s.windowMsgs) / secs
	s.windowBytes = 0
	s.windowMsgs = 0
	s.windowStart = now
}

// Snapshot returns a race-free copy of the current counters.
func (s *InputStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		MessageCount: s.messageCount,
		ByteCount:    s.byteCount,
		DropCount:    s.dropCount,
		DupeCount:    s.dupeCount,
		ByteRate:     s.byteRate,
		MessageRate:  s.messageRate,
	}
}

// Clear resets all counters, as driven by a ClearStats control message
// (spec.md §4.4 control-handler table).
func (s *InputStats) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s = InputStats{windowStart: timeNow()}
}
