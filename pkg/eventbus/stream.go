package eventbus

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamServer exposes a user's live event feed over a websocket with a
// periodic liveness ping.
type StreamServer struct {
	bus          *Bus
	logger       zerolog.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
}

// NewStreamServer creates a stream server. A zero ping interval
// defaults to 30s.
func NewStreamServer(bus *Bus, pingInterval time.Duration, logger zerolog.Logger) *StreamServer {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &StreamServer{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		pingInterval: pingInterval,
		writeTimeout: 10 * time.Second,
	}
}

// ServeHTTP upgrades the connection and streams events for the user
// named in the "user" query parameter until the client goes away.
func (s *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.bus.Subscribe(userID)
	defer cancel()

	s.logger.Debug().Str("user_id", userID).Msg("Event stream opened")

	// Drain client frames so close/pong handling works.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug().Err(err).Str("user_id", userID).Msg("Event stream write failed")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug().Err(err).Str("user_id", userID).Msg("Event stream ping failed")
				return
			}
		}
	}
}
