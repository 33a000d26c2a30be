package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"OpenMCP-ChainManager/pkg/logger"
)

func newTestBus() *Bus {
	return NewBus(WithLogger(logger.Discard()))
}

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := newTestBus()
	var order []string
	bus.On(NameChainAdded, func(Event) { order = append(order, "first") })
	bus.On(NameChainAdded, func(Event) { order = append(order, "second") })
	bus.On(NameChainRemoved, func(Event) { order = append(order, "other") })

	bus.Emit(ChainAdded{Timestamp: time.Now()})
	require.Equal(t, []string{"first", "second"}, order)
}

func TestBusOffAndCancelAreIdempotent(t *testing.T) {
	bus := newTestBus()
	calls := 0
	sub := bus.On(NameChainChanged, func(Event) { calls++ })
	require.NotEmpty(t, sub.ID())
	require.Equal(t, 1, bus.ListenerCount(NameChainChanged))

	require.True(t, bus.Off(sub))
	require.False(t, bus.Off(sub))
	sub.Cancel()

	bus.Emit(ChainChanged{})
	require.Zero(t, calls)
	require.Zero(t, bus.ListenerCount(NameChainChanged))
}

func TestBusOnceFiresOnce(t *testing.T) {
	bus := newTestBus()
	calls := 0
	bus.Once(NameNetworkError, func(Event) { calls++ })

	bus.Emit(NetworkError{ChainID: "0x1"})
	bus.Emit(NetworkError{ChainID: "0x1"})
	require.Equal(t, 1, calls)
	require.Zero(t, bus.ListenerCount(NameNetworkError))
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := newTestBus()
	delivered := false
	bus.On(NameChainRemoved, func(Event) { panic("boom") })
	bus.On(NameChainRemoved, func(Event) { delivered = true })

	require.NotPanics(t, func() { bus.Emit(ChainRemoved{ChainID: "0x89"}) })
	require.True(t, delivered)
}

func TestBusHandlerMayUnsubscribeDuringEmit(t *testing.T) {
	bus := newTestBus()
	var sub *Subscription
	calls := 0
	sub = bus.On(NameChainAdded, func(Event) {
		calls++
		sub.Cancel()
	})

	bus.Emit(ChainAdded{})
	bus.Emit(ChainAdded{})
	require.Equal(t, 1, calls)
}

func TestRemoveAllListeners(t *testing.T) {
	bus := newTestBus()
	bus.On(NameChainAdded, func(Event) {})
	bus.On(NameChainRemoved, func(Event) {})
	bus.On(NameNetworkError, func(Event) {})

	bus.RemoveAllListeners(NameChainAdded)
	require.Zero(t, bus.ListenerCount(NameChainAdded))
	require.Equal(t, 1, bus.ListenerCount(NameChainRemoved))

	bus.RemoveAllListeners()
	require.Zero(t, bus.ListenerCount(NameChainRemoved))
	require.Zero(t, bus.ListenerCount(NameNetworkError))
}

func TestListenIsTyped(t *testing.T) {
	bus := newTestBus()
	var got ChainChanged
	Listen(bus, func(e ChainChanged) { got = e })

	bus.Emit(ChainChanged{PreviousChainID: "0x1", CurrentChainID: "0x89"})
	require.Equal(t, "0x89", got.CurrentChainID)

	count := 0
	ListenOnce(bus, func(NetworkError) { count++ })
	bus.Emit(NetworkError{})
	bus.Emit(NetworkError{})
	require.Equal(t, 1, count)
}

func TestNetworkErrorEnvelope(t *testing.T) {
	env, err := NewEnvelope(NetworkError{
		ChainID:   "0x1",
		Err:       errors.New("rpc down"),
		ErrorType: "RPC_ERROR",
	})
	require.NoError(t, err)
	require.Equal(t, NameNetworkError, env.Name)
	require.NotEmpty(t, env.ID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.Equal(t, "rpc down", payload["error"])
	require.Equal(t, "RPC_ERROR", payload["errorType"])
}

func TestForwardCoversEveryEvent(t *testing.T) {
	bus := newTestBus()
	var names []string
	subs := Forward(bus, func(e Event) { names = append(names, e.Name()) })
	require.Len(t, subs, 4)

	bus.Emit(ChainAdded{})
	bus.Emit(ChainRemoved{})
	bus.Emit(ChainChanged{})
	bus.Emit(NetworkError{})
	require.Equal(t, []string{NameChainAdded, NameChainRemoved, NameChainChanged, NameNetworkError}, names)
}
