package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStream_Start_DrivesEveryTaskToInitialize(t *testing.T) {
	stream := NewStream("s1")
	a := NewTask(stream, "a", "algorithm", 0, nil)
	b := NewTask(stream, "b", "algorithm", 0, nil)
	stream.AddTask(a)
	stream.AddTask(b)

	stream.Start()
	defer stream.Halt()

	require.Eventually(t, func() bool {
		return a.State() == StateInitialize && b.State() == StateInitialize
	}, time.Second, 5*time.Millisecond)
	require.True(t, stream.Running())
}

func TestStream_Validate_RejectsDuplicateTaskNames(t *testing.T) {
	stream := NewStream("s1")
	stream.AddTask(NewTask(stream, "dup", "algorithm", 0, nil))
	stream.AddTask(NewTask(stream, "dup", "algorithm", 0, nil))

	err := stream.Validate()
	require.Error(t, err)
}

func TestStream_Validate_AcceptsUniqueNames(t *testing.T) {
	stream := NewStream("s1")
	stream.AddTask(NewTask(stream, "a", "algorithm", 0, nil))
	stream.AddTask(NewTask(stream, "b", "algorithm", 0, nil))

	require.NoError(t, stream.Validate())
}

func TestStream_Task_LooksUpByName(t *testing.T) {
	stream := NewStream("s1")
	a := NewTask(stream, "a", "algorithm", 0, nil)
	stream.AddTask(a)

	require.Same(t, a, stream.Task("a"))
	require.Nil(t, stream.Task("missing"))
}

func TestStream_Shutdown_ClosesEveryTaskQueue(t *testing.T) {
	stream := NewStream("s1")
	a := NewTask(stream, "a", "algorithm", 0, nil)
	b := NewTask(stream, "b", "algorithm", 0, nil)
	stream.AddTask(a)
	stream.AddTask(b)

	stream.Start()
	stream.Shutdown()

	require.Eventually(t, func() bool {
		return a.queue.IsDeactivated() && b.queue.IsDeactivated()
	}, time.Second, 5*time.Millisecond)
	require.False(t, stream.Running())
}

func TestStream_Halt_DoesNotRebroadcastShutdown(t *testing.T) {
	stream := NewStream("s1")
	a := NewTask(stream, "a", "algorithm", 0, nil)
	var shutdownCalls int
	a.OnShutdown = func() { shutdownCalls++ }
	stream.AddTask(a)

	stream.Start()
	stream.Halt()

	require.Eventually(t, func() bool { return a.queue.IsDeactivated() }, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, shutdownCalls, "Halt must close queues directly, never deliver a Shutdown control envelope")
}

func TestStream_QueueDepths_ReflectsBufferedItems(t *testing.T) {
	stream := NewStream("s1")
	a := NewTask(stream, "a", "algorithm", 1, nil)
	stream.AddTask(a)

	a.enqueue(WrapNative(NewVideo("radar-a", 1, []int16{1}, 0)), 0)
	a.enqueue(WrapNative(NewVideo("radar-a", 2, []int16{1}, 0)), 0)

	depths := stream.QueueDepths()
	require.Equal(t, []int{2}, depths)
}

func TestStream_Status_ReportsTaskStateAndStats(t *testing.T) {
	stream := NewStream("s1")
	a := NewTask(stream, "a", "algorithm", 1, nil)
	stream.AddTask(a)
	a.InputStats(0).Update(1, 100)

	report := stream.Status()
	require.Len(t, report, 1)
	require.Equal(t, "a", report[0].Name)
	require.Equal(t, uint64(1), report[0].Inputs[0].MessageCount)
}

func TestStream_RecomputeUpstreamUsingData_PropagatesAcrossTasks(t *testing.T) {
	stream := NewStream("s1")
	producer := NewTask(stream, "producer", "algorithm", 0, nil)
	stream.AddTask(producer)

	ch := NewChannel("0-0", "Video", producer)
	producer.AddOutput(ch)

	consumer := NewTask(stream, "consumer", "file-writer", 1, nil)
	stream.AddTask(consumer)
	ch.Connect(consumer, 0)

	producer.driveToward(StateRun)
	require.False(t, producer.UsingData())

	consumer.SetAlwaysUsingData(true)

	require.Eventually(t, func() bool { return producer.UsingData() }, time.Second, 5*time.Millisecond)
}
