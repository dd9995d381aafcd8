package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moisa13/file-copy/internal/eventbus"
	"github.com/moisa13/file-copy/internal/logging"
)

func newTestBus(t *testing.T) (*eventbus.Bus, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := eventbus.New(logging.NewNop())
	bus.Start(ctx)
	t.Cleanup(func() { bus.Stop(time.Second) })
	return bus, ctx
}

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus, ctx := newTestBus(t)

	events, cleanup := bus.Subscribe(ctx, 4)
	defer cleanup()

	bus.Publish(eventbus.Event{Kind: eventbus.KindServiceChange, BucketID: 1, Message: "started"})

	select {
	case got := <-events:
		assert.Equal(t, eventbus.KindServiceChange, got.Kind)
		assert.Equal(t, "started", got.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMultipleSubscribersEachReceiveTheEvent(t *testing.T) {
	bus, ctx := newTestBus(t)

	events1, cleanup1 := bus.Subscribe(ctx, 4)
	defer cleanup1()
	events2, cleanup2 := bus.Subscribe(ctx, 4)
	defer cleanup2()

	bus.Publish(eventbus.Event{Kind: eventbus.KindStatusChange, BucketID: 1, EntryID: 7})

	for _, ch := range []<-chan eventbus.Event{events1, events2} {
		select {
		case got := <-ch:
			assert.Equal(t, int64(7), got.EntryID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event on one subscriber")
		}
	}
}

func TestCopyProgressEventsAreCoalesced(t *testing.T) {
	bus, ctx := newTestBus(t)

	events, cleanup := bus.Subscribe(ctx, 16)
	defer cleanup()

	for i := 0; i < 10; i++ {
		bus.Publish(eventbus.Event{Kind: eventbus.KindCopyProgress, EntryID: 1, Bytes: int64(i)})
	}

	time.Sleep(50 * time.Millisecond)

	count := 0
drain:
	for {
		select {
		case <-events:
			count++
		default:
			break drain
		}
	}

	assert.Less(t, count, 10, "rapid progress events for the same entry should be coalesced")
	assert.GreaterOrEqual(t, count, 1)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus, ctx := newTestBus(t)

	events, cleanup := bus.Subscribe(ctx, 4)
	cleanup()

	bus.Publish(eventbus.Event{Kind: eventbus.KindServiceChange, Message: "after cleanup"})

	select {
	case _, ok := <-events:
		require.False(t, ok, "channel should be closed after cleanup")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("channel was neither closed nor delivered to")
	}
}
