package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_SessionFilterAndDrop(t *testing.T) {
	bus := NewEventBus()

	all, unsubAll := bus.SubscribeChannel(1)
	one, unsubOne := bus.SubscribeSessionChannel("a", 4)
	defer unsubOne()

	var handled []uint64
	unsubHandler := bus.Subscribe(EventHandlerFunc(func(e *Event) {
		handled = append(handled, e.Seq)
	}))

	bus.Publish(&Event{Kind: EventFrame, SessionID: "a", Seq: 1})
	bus.Publish(&Event{Kind: EventFrame, SessionID: "b", Seq: 2})
	bus.Publish(nil)

	assert.Equal(t, []uint64{1, 2}, handled)
	assert.Equal(t, 3, bus.SubscriberCount())

	// Buffer of one: the second event was dropped
	first := <-all
	assert.Equal(t, uint64(1), first.Seq)
	assert.Empty(t, all)

	got := <-one
	assert.Equal(t, "a", got.SessionID)
	assert.Empty(t, one)

	unsubAll()
	_, ok := <-all
	require.False(t, ok, "channel closed on unsubscribe")

	unsubHandler()
	assert.Equal(t, 1, bus.SubscriberCount())
}
