package pubsub

import (
	"net"
	"testing"
	"time"

	"github.com/sidecar-radar/pipeline"
	"github.com/sidecar-radar/pipeline/discovery"
	"github.com/stretchr/testify/require"
)

func TestTCPSubscriber_ConnectsAndForwardsDecodedMessage(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	disc := discovery.NewStaticRegistry()
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	_, err = disc.Register(discovery.Resolved{Name: "radar-feed", Host: host, Port: atoiPubsub(portStr)})
	require.NoError(t, err)

	stream := pipeline.NewStream("s")
	sub := OpenTCPSubscriber(stream, "sub", "radar-feed", disc, nil, nil)
	defer shutdownTask(sub.Task)

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	recvCh := make(chan *pipeline.Envelope, 1)
	out := sub.Output("0")
	require.NotNil(t, out)
	out.Connect(captureTask(stream, recvCh), 0)

	v := pipeline.NewVideo("radar-a", 1, []int16{7, 8, 9}, 2.0)
	buf, err := pipeline.WrapNative(v).GetEncoded()
	require.NoError(t, err)
	_, err = conn.Write(buf)
	require.NoError(t, err)

	select {
	case env := <-recvCh:
		video, err := pipeline.GetNative[*pipeline.Video](env)
		require.NoError(t, err)
		require.Equal(t, v.Samples, video.Samples)
		env.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded message")
	}
}

// captureTask builds a minimal active sink task that posts every data
// envelope it receives onto ch, for use as a subscriber's test recipient.
func captureTask(stream *pipeline.Stream, ch chan *pipeline.Envelope) *pipeline.Task {
	task := pipeline.NewTask(stream, "capture", "capture", 1, nil)
	task.Handle = func(t *pipeline.Task, slot int, env *pipeline.Envelope) {
		ch <- env.Duplicate()
	}
	task.Put(pipeline.WrapControl(pipeline.ProcessingStateChange, pipeline.ProcessingStateChangePayload{Goal: pipeline.StateRun}), -1)
	go task.Run()
	return task
}

func TestMulticastSubscriber_FailsWhenServiceNeverResolves(t *testing.T) {
	disc := discovery.NewStaticRegistry()
	stream := pipeline.NewStream("s")
	_, err := OpenMulticastSubscriber(stream, "sub", "radar-mc-missing", disc, nil, nil)
	require.Error(t, err)
}

func TestMulticastSubscriber_JoinsGroupAndHeartbeats(t *testing.T) {
	groupLn, err := net.ListenMulticastUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("239.1.2.3"), Port: 0})
	require.NoError(t, err)
	defer groupLn.Close()
	_, groupPort, _ := net.SplitHostPort(groupLn.LocalAddr().String())

	hbLn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer hbLn.Close()
	_, hbPort, _ := net.SplitHostPort(hbLn.LocalAddr().String())

	disc := discovery.NewStaticRegistry()
	_, err = disc.Register(discovery.Resolved{
		Name: "radar-mc", Host: "239.1.2.3", Port: atoiPubsub(groupPort),
		TXT: map[string]string{"HeartBeatPort": hbPort},
	})
	require.NoError(t, err)

	stream := pipeline.NewStream("s")
	sub, err := OpenMulticastSubscriber(stream, "sub", "radar-mc", disc, nil, nil)
	require.NoError(t, err)
	defer shutdownTask(sub.Task)

	buf := make([]byte, 16)
	hbLn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := hbLn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, "HI", string(buf[:2]))
	_ = n
}

func TestMulticastSubscriber_OnUsingDataChangedSendsByeAndStopsHeartbeat(t *testing.T) {
	groupLn, err := net.ListenMulticastUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("239.1.2.4"), Port: 0})
	require.NoError(t, err)
	defer groupLn.Close()
	_, groupPort, _ := net.SplitHostPort(groupLn.LocalAddr().String())

	hbLn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer hbLn.Close()
	_, hbPort, _ := net.SplitHostPort(hbLn.LocalAddr().String())

	disc := discovery.NewStaticRegistry()
	_, err = disc.Register(discovery.Resolved{
		Name: "radar-mc2", Host: "239.1.2.4", Port: atoiPubsub(groupPort),
		TXT: map[string]string{"HeartBeatPort": hbPort},
	})
	require.NoError(t, err)

	stream := pipeline.NewStream("s")
	sub, err := OpenMulticastSubscriber(stream, "sub", "radar-mc2", disc, nil, nil)
	require.NoError(t, err)
	defer shutdownTask(sub.Task)

	buf := make([]byte, 16)
	hbLn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = hbLn.ReadFromUDP(buf)
	require.NoError(t, err, "expected initial HI")

	sub.onUsingDataChanged(false)

	hbLn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := hbLn.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, "BYE", string(buf[:3]))
	_ = n
}

func atoiPubsub(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

