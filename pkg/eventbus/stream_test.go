package eventbus

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamFixture(t *testing.T, pingInterval time.Duration) (*Bus, *httptest.Server) {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)

	bus, err := Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	srv := httptest.NewServer(NewStreamServer(bus, pingInterval, logger))
	t.Cleanup(srv.Close)
	return bus, srv
}

func wsURL(srv *httptest.Server, query string) string {
	return strings.Replace(srv.URL, "http://", "ws://", 1) + "/?" + query
}

func TestStreamRequiresUser(t *testing.T) {
	_, srv := newStreamFixture(t, time.Minute)

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 400, resp.StatusCode)
}

func TestStreamDeliversPublishedEvents(t *testing.T) {
	bus, srv := newStreamFixture(t, time.Minute)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "user=u1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the subscription a moment to register before publishing.
	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subscribers["u1"]) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(Event{
		UserID: "u1",
		Type:   TypeRun,
		Status: "started",
		Source: "agent",
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, TypeRun, got.Type)
	assert.Equal(t, "u1", got.UserID)
	assert.NotEmpty(t, got.ID)
}

func TestStreamSkipsOtherUsers(t *testing.T) {
	bus, srv := newStreamFixture(t, time.Minute)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "user=u1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subscribers["u1"]) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(Event{UserID: "u2", Type: TypeRun, Status: "started", Source: "agent"}))
	require.NoError(t, bus.Publish(Event{UserID: "u1", Type: TypeFailure, Status: "error", Source: "agent"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, TypeFailure, got.Type)
}

func TestStreamPings(t *testing.T) {
	_, srv := newStreamFixture(t, 50*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "user=u1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	// ReadMessage drives the ping handler.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	go conn.ReadMessage()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}
