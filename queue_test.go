package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskQueue_FIFOOrder(t *testing.T) {
	q := newTaskQueue()
	q.Put(queueItem{slot: 1})
	q.Put(queueItem{slot: 2})
	q.Put(queueItem{slot: 3})

	for _, want := range []int{1, 2, 3} {
		item, ok := q.Get()
		require.True(t, ok)
		require.Equal(t, want, item.slot)
	}
}

func TestTaskQueue_GetBlocksUntilPut(t *testing.T) {
	q := newTaskQueue()

	type result struct {
		item queueItem
		ok   bool
	}
	done := make(chan result, 1)
	go func() {
		item, ok := q.Get()
		done <- result{item, ok}
	}()

	select {
	case <-done:
		t.Fatal("Get returned before any item was enqueued")
	case <-time.After(20 * time.Millisecond):
	}

	q.Put(queueItem{slot: 9})

	select {
	case r := <-done:
		require.True(t, r.ok)
		require.Equal(t, 9, r.item.slot)
	case <-time.After(time.Second):
		t.Fatal("Get never unblocked after Put")
	}
}

func TestTaskQueue_PutAfterDeactivateFails(t *testing.T) {
	q := newTaskQueue()
	q.Deactivate()

	ok := q.Put(queueItem{slot: 1})
	require.False(t, ok)
}

func TestTaskQueue_DeactivateDrainsBufferedItemsFirst(t *testing.T) {
	q := newTaskQueue()
	q.Put(queueItem{slot: 1})
	q.Put(queueItem{slot: 2})
	q.Deactivate()

	item, ok := q.Get()
	require.True(t, ok)
	require.Equal(t, 1, item.slot)

	item, ok = q.Get()
	require.True(t, ok)
	require.Equal(t, 2, item.slot)

	_, ok = q.Get()
	require.False(t, ok, "queue must report exhausted once drained and deactivated")
}

func TestTaskQueue_DeactivateWakesBlockedGet(t *testing.T) {
	q := newTaskQueue()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Deactivate()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Deactivate did not wake a blocked Get")
	}
}

func TestTaskQueue_Len(t *testing.T) {
	q := newTaskQueue()
	require.Equal(t, 0, q.Len())
	q.Put(queueItem{slot: 1})
	q.Put(queueItem{slot: 2})
	require.Equal(t, 2, q.Len())
	q.Get()
	require.Equal(t, 1, q.Len())
}
