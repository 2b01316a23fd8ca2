package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticRegistry_BrowseBeforeRegister_ThenReceivesResolve(t *testing.T) {
	reg := NewStaticRegistry()
	events, stop := reg.Browse("radar-feed")
	defer stop()

	_, err := reg.Register(Resolved{Name: "radar-feed", Host: "127.0.0.1", Port: 9000})
	require.NoError(t, err)

	ev := <-events
	require.NotNil(t, ev.Resolved)
	require.False(t, ev.Lost)
	require.Equal(t, "radar-feed", ev.Resolved.Name)
	require.Equal(t, 9000, ev.Resolved.Port)
}

func TestStaticRegistry_BrowseAfterRegister_ReplaysCurrentState(t *testing.T) {
	reg := NewStaticRegistry()
	_, err := reg.Register(Resolved{Name: "radar-feed", Host: "10.0.0.1", Port: 9001})
	require.NoError(t, err)

	events, stop := reg.Browse("radar-feed")
	defer stop()

	ev := <-events
	require.NotNil(t, ev.Resolved)
	require.Equal(t, "10.0.0.1", ev.Resolved.Host)
}

func TestStaticRegistry_Unregister_SendsLostEvent(t *testing.T) {
	reg := NewStaticRegistry()
	unregister, err := reg.Register(Resolved{Name: "radar-feed", Host: "10.0.0.1", Port: 9001})
	require.NoError(t, err)

	events, stop := reg.Browse("radar-feed")
	defer stop()
	<-events // initial resolve replay

	unregister()

	ev := <-events
	require.True(t, ev.Lost)
	require.Nil(t, ev.Resolved)
}

func TestStaticRegistry_Stop_ClosesChannelAndStopsDelivery(t *testing.T) {
	reg := NewStaticRegistry()
	events, stop := reg.Browse("radar-feed")

	stop()

	_, ok := <-events
	require.False(t, ok, "the event channel must be closed once stop is called")
}

func TestStaticRegistry_BrowseUnrelatedNameSeesNothing(t *testing.T) {
	reg := NewStaticRegistry()
	_, err := reg.Register(Resolved{Name: "radar-feed", Host: "10.0.0.1", Port: 9001})
	require.NoError(t, err)

	events, stop := reg.Browse("other-feed")
	defer stop()

	select {
	case ev := <-events:
		t.Fatalf("unexpected event for unrelated name: %+v", ev)
	default:
	}
}
