package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool_GetPutTracksStats(t *testing.T) {
	p := New("widget", func() int { return 0 })

	a := p.Get()
	b := p.Get()
	require.Equal(t, 0, a)
	require.Equal(t, 0, b)

	stats := p.Stats()
	require.Equal(t, uint64(2), stats.Allocations)
	require.Equal(t, uint64(2), stats.InUse)
	require.Equal(t, uint64(2), stats.HighWater)

	p.Put(a)
	stats = p.Stats()
	require.Equal(t, uint64(1), stats.Frees)
	require.Equal(t, uint64(1), stats.InUse)
	require.Equal(t, uint64(2), stats.HighWater, "high water mark must not decrease on Put")
}

func TestPool_Name(t *testing.T) {
	p := New("envelope", func() int { return 1 })
	require.Equal(t, "envelope", p.Name())
}

func TestNewBlockPool_RejectsOversizedCapacity(t *testing.T) {
	_, err := NewBlockPool(MaxBlockSize + 1)
	require.Error(t, err)
}

func TestBlockPool_GetReturnsZeroLengthWithCapacity(t *testing.T) {
	bp, err := NewBlockPool(1024)
	require.NoError(t, err)

	buf := bp.Get()
	require.Len(t, buf, 0)
	require.GreaterOrEqual(t, cap(buf), 1024)

	buf = append(buf, 1, 2, 3)
	bp.Put(buf)

	stats := bp.Stats()
	require.Equal(t, uint64(1), stats.Allocations)
	require.Equal(t, uint64(1), stats.Frees)
}
