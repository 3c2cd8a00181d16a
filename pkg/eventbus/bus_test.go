package eventbus

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	// Keep retries instant in tests.
	bus.baseBackoff = time.Millisecond
	return bus
}

func TestPublishAndQuery(t *testing.T) {
	bus := newTestBus(t)

	err := bus.Publish(Event{
		UserID:         "user-1",
		Type:           TypeRun,
		Status:         "thinking",
		Source:         "agent",
		ConversationID: "conv-1",
		Payload:        map[string]interface{}{"round": float64(1)},
	})
	require.NoError(t, err)

	events, err := bus.Events("user-1", Query{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, TypeRun, events[0].Type)
	assert.Equal(t, "conv-1", events[0].ConversationID)
	assert.Equal(t, float64(1), events[0].Payload["round"])
}

func TestPublishRequiresUser(t *testing.T) {
	bus := newTestBus(t)
	assert.Error(t, bus.Publish(Event{Type: TypeRun}))
}

func TestCursorAndFilters(t *testing.T) {
	bus := newTestBus(t)

	for i := 0; i < 5; i++ {
		eventType := TypeRun
		if i%2 == 1 {
			eventType = TypeToolCall
		}
		require.NoError(t, bus.Publish(Event{
			ID:     fmt.Sprintf("evt-%d", i),
			UserID: "user-1",
			Type:   eventType,
			Status: "ok",
			Source: "agent",
		}))
	}

	// Cursor: resume after evt-2.
	events, err := bus.Events("user-1", Query{AfterID: "evt-2"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-3", events[0].ID)
	assert.Equal(t, "evt-4", events[1].ID)

	// Type filter.
	events, err = bus.Events("user-1", Query{Types: []EventType{TypeToolCall}})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// Status + source filters.
	events, err = bus.Events("user-1", Query{Status: "ok", Source: "agent", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, events, 3)

	// Other user sees nothing.
	events, err = bus.Events("user-2", Query{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSubscribeDeliversLive(t *testing.T) {
	bus := newTestBus(t)

	ch, cancel := bus.Subscribe("user-1")
	defer cancel()

	require.NoError(t, bus.Publish(Event{UserID: "user-1", Type: TypeApproval, Status: "pending", Source: "agent"}))
	require.NoError(t, bus.Publish(Event{UserID: "user-2", Type: TypeRun, Status: "done", Source: "agent"}))

	select {
	case event := <-ch:
		assert.Equal(t, TypeApproval, event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected live event")
	}

	// The other user's event is not delivered here.
	select {
	case event := <-ch:
		t.Fatalf("unexpected event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	bus := newTestBus(t)

	ch, cancel := bus.Subscribe("user-1")
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic.
	require.NoError(t, bus.Publish(Event{UserID: "user-1", Type: TypeRun, Status: "done", Source: "agent"}))
}
