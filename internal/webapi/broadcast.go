package webapi

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Broadcaster fans out JSON messages to every currently-connected /ws
// client. Grounded on gorilla/websocket's standard hub pattern (the
// teacher imports gorilla/websocket for venue streaming but has no
// dashboard-facing broadcaster of its own to copy verbatim).
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	logger  zerolog.Logger
}

func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{clients: make(map[*websocket.Conn]struct{}), logger: logger}
}

// Register adds conn to the fan-out set and starts a read loop that drops
// the connection once the client disconnects (gorilla/websocket requires
// reading to detect close frames, even if the server never expects
// inbound messages).
func (b *Broadcaster) Register(conn *websocket.Conn) {
	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer b.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	delete(b.clients, conn)
	b.mu.Unlock()
	conn.Close()
}

// Publish sends payload to every connected client, dropping any client
// whose write fails.
func (b *Broadcaster) Publish(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.Debug().Err(err).Msg("webapi: dropping broadcast client")
			delete(b.clients, conn)
			conn.Close()
		}
	}
}
