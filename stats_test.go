package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInputStats_SequentialUpdatesNoDropsOrDupes(t *testing.T) {
	s := NewInputStats()
	s.Update(1, 100)
	s.Update(2, 100)
	s.Update(3, 100)

	snap := s.Snapshot()
	require.Equal(t, uint64(3), snap.MessageCount)
	require.Equal(t, uint64(300), snap.ByteCount)
	require.Equal(t, uint64(0), snap.DropCount)
	require.Equal(t, uint64(0), snap.DupeCount)
}

func TestInputStats_DetectsForwardGapAsDrop(t *testing.T) {
	s := NewInputStats()
	s.Update(1, 10)
	s.Update(5, 10) // skipped 2,3,4

	snap := s.Snapshot()
	require.Equal(t, uint64(3), snap.DropCount)
}

func TestInputStats_DetectsExactRepeatAsDupe(t *testing.T) {
	s := NewInputStats()
	s.Update(1, 10)
	s.Update(1, 10)

	snap := s.Snapshot()
	require.Equal(t, uint64(1), snap.DupeCount)
	require.Equal(t, uint64(0), snap.DropCount)
}

func TestInputStats_SmallBackwardMoveWithinHysteresisIsNotARestart(t *testing.T) {
	s := NewInputStats()
	s.Update(100, 10)
	// back up by less than SeqHysteresis: treated as reorder noise, the
	// internal expectedSeq re-anchor does not fire.
	s.Update(100-SeqHysteresis+1, 10)

	snap := s.Snapshot()
	require.Equal(t, uint64(2), snap.MessageCount)
	require.Equal(t, uint64(0), snap.DupeCount)

	// The producer resuming its original count right after the wobble is
	// the legitimate next value, not a 15-message gap: expectedSeq must
	// still be anchored from the pre-wobble Update(100), not dragged down
	// by the wobble itself.
	s.Update(101, 10)
	snap = s.Snapshot()
	require.Equal(t, uint64(0), snap.DropCount)
}

func TestInputStats_LargeBackwardJumpExceedsHysteresis(t *testing.T) {
	s := NewInputStats()
	s.Update(1000, 10)
	s.Update(1000-SeqHysteresis-1, 10)
	s.Update(1000-SeqHysteresis, 10)

	// The second Update re-anchors expectedSeq near the restarted
	// producer's new sequence; the third Update should not be counted
	// as a further drop once re-anchored.
	snap := s.Snapshot()
	require.Equal(t, uint64(3), snap.MessageCount)
}

func TestInputStats_Clear_ResetsCounters(t *testing.T) {
	s := NewInputStats()
	s.Update(1, 10)
	s.Update(5, 10)
	s.Clear()

	snap := s.Snapshot()
	require.Equal(t, uint64(0), snap.MessageCount)
	require.Equal(t, uint64(0), snap.DropCount)
	require.Equal(t, uint64(0), snap.ByteCount)
}
