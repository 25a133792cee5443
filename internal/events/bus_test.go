package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitAsync(t *testing.T) {
	bus := NewEventBus()
	var count atomic.Int32

	bus.Subscribe(EventBytesForwarded, "counter", func(ctx context.Context, e Event) error {
		count.Add(1)
		return nil
	})
	require.Equal(t, 1, bus.HandlerCount(EventBytesForwarded))

	for i := 0; i < 10; i++ {
		bus.Emit(context.Background(), Event{Type: EventBytesForwarded})
	}
	bus.Stop()
	require.Equal(t, int32(10), count.Load())
}

func TestEmitSyncOrdering(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	var got []string

	bus.Subscribe(EventPacketDecoded, "recorder", func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Source)
		return nil
	})

	for _, src := range []string{"a", "b", "c", "d"} {
		bus.EmitSync(context.Background(), Event{Type: EventPacketDecoded, Source: src})
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, got,
		"synchronous emission must preserve observation order")
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewEventBus()
	var after atomic.Bool

	bus.Subscribe(EventPacketDecoded, "bomb", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	bus.Subscribe(EventPacketDecoded, "survivor", func(ctx context.Context, e Event) error {
		after.Store(true)
		return nil
	})

	require.NotPanics(t, func() {
		bus.EmitSync(context.Background(), Event{Type: EventPacketDecoded})
	})
	require.True(t, after.Load(), "a panicking handler must not starve later handlers")
}

func TestStopRejectsNewEvents(t *testing.T) {
	bus := NewEventBus()
	var count atomic.Int32

	bus.Subscribe(EventShutdown, "counter", func(ctx context.Context, e Event) error {
		count.Add(1)
		return nil
	})

	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventShutdown})
	bus.EmitSync(context.Background(), Event{Type: EventShutdown})

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, count.Load())
}

func TestOriginMarkers(t *testing.T) {
	require.Equal(t, "-->>", OriginClient.Marker())
	require.Equal(t, "<<--", OriginServer.Marker())
	require.Equal(t, "client", OriginClient.String())
	require.Equal(t, "server", OriginServer.String())
}
