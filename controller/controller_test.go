package controller_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sidecar-radar/pipeline"
	"github.com/sidecar-radar/pipeline/controller"
	ftesting "github.com/sidecar-radar/pipeline/testing"
	"github.com/stretchr/testify/require"
)

func TestOpen_UnregisteredAlgorithmFails(t *testing.T) {
	stream := pipeline.NewStream("s")
	_, err := controller.Open(stream, "alg", "no-such-algorithm", 1, false, nil, nil)
	require.Error(t, err)
}

func TestOpen_CallsStartupBeforeReturning(t *testing.T) {
	name := "test-startup-" + t.Name()
	fake := ftesting.NewFakeAlgorithm()
	controller.Register(name, ftesting.NewFakeAlgorithmFactory(fake))

	stream := pipeline.NewStream("s")
	_, err := controller.Open(stream, "alg", name, 1, false, nil, nil)
	require.NoError(t, err)
	require.True(t, fake.Started())
}

func TestOpen_StartupFailureReturnsErrorWithController(t *testing.T) {
	name := "test-startup-fail-" + t.Name()
	fake := ftesting.NewFakeAlgorithm()
	fake.StartupErr = errors.New("hardware not present")
	controller.Register(name, ftesting.NewFakeAlgorithmFactory(fake))

	stream := pipeline.NewStream("s")
	c, err := controller.Open(stream, "alg", name, 1, false, nil, nil)
	require.Error(t, err)
	require.NotNil(t, c)
}

func TestController_ProcessDataMessage_DispatchesWhileActive(t *testing.T) {
	name := "test-process-" + t.Name()
	fake := ftesting.NewFakeAlgorithm()
	controller.Register(name, ftesting.NewFakeAlgorithmFactory(fake))

	stream := pipeline.NewStream("s")
	c, err := controller.Open(stream, "alg", name, 1, false, nil, nil)
	require.NoError(t, err)

	c.Put(pipeline.WrapControl(pipeline.ProcessingStateChange, pipeline.ProcessingStateChangePayload{Goal: pipeline.StateRun}), -1)

	v := pipeline.NewVideo("radar-a", 1, []int16{1, 2}, 0)
	c.Put(pipeline.WrapNative(v), 0)

	calls := fake.Processed()
	require.Len(t, calls, 1)
	require.Equal(t, 0, calls[0].Slot)
}

func TestController_ProcessDataMessage_IgnoredWhileInactive(t *testing.T) {
	name := "test-inactive-" + t.Name()
	fake := ftesting.NewFakeAlgorithm()
	controller.Register(name, ftesting.NewFakeAlgorithmFactory(fake))

	stream := pipeline.NewStream("s")
	c, err := controller.Open(stream, "alg", name, 1, false, nil, nil)
	require.NoError(t, err)

	v := pipeline.NewVideo("radar-a", 1, []int16{1}, 0)
	c.Put(pipeline.WrapNative(v), 0)

	require.Empty(t, fake.Processed())
}

func TestController_ProcessDataMessage_ErrorEntersFailure(t *testing.T) {
	name := "test-process-err-" + t.Name()
	fake := ftesting.NewFakeAlgorithm()
	fake.ProcessErr = errors.New("bad sample")
	controller.Register(name, ftesting.NewFakeAlgorithmFactory(fake))

	stream := pipeline.NewStream("s")
	c, err := controller.Open(stream, "alg", name, 1, false, nil, nil)
	require.NoError(t, err)

	c.Put(pipeline.WrapControl(pipeline.ProcessingStateChange, pipeline.ProcessingStateChangePayload{Goal: pipeline.StateRun}), -1)
	c.Put(pipeline.WrapNative(pipeline.NewVideo("radar-a", 1, []int16{1}, 0)), 0)

	require.Equal(t, pipeline.StateFailure, c.State())
}

func TestController_StartStopAlarm_FiresProcessAlarmWhileActive(t *testing.T) {
	name := "test-alarm-" + t.Name()
	fake := ftesting.NewFakeAlgorithm()
	controller.Register(name, ftesting.NewFakeAlgorithmFactory(fake))

	stream := pipeline.NewStream("s")
	c, err := controller.Open(stream, "alg", name, 0, false, nil, nil)
	require.NoError(t, err)
	stream.AddTask(c.Task)
	go c.Run()

	c.Put(pipeline.WrapControl(pipeline.ProcessingStateChange, pipeline.ProcessingStateChangePayload{Goal: pipeline.StateRun}), -1)
	c.StartAlarm(10 * time.Millisecond)
	defer c.StopAlarm()

	require.Eventually(t, func() bool { return fake.Alarms() > 0 }, time.Second, 10*time.Millisecond)
}

func TestController_RecordingState_OpensAndClosesRecorders(t *testing.T) {
	name := "test-recording-" + t.Name()
	fake := ftesting.NewFakeAlgorithm()
	controller.Register(name, ftesting.NewFakeAlgorithmFactory(fake))

	stream := pipeline.NewStream("s")
	c, err := controller.Open(stream, "alg", name, 1, false, nil, nil)
	require.NoError(t, err)

	ch := pipeline.NewChannel("0-0", "Video", c.Task)
	c.Task.AddOutput(ch)

	dir := t.TempDir()
	require.NoError(t, c.SetRecordingState(dir))
	require.NoError(t, c.SetRecordingState(""))
}
