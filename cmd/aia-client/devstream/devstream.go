// Package devstream exposes a local WebSocket endpoint that mirrors every
// engine event as JSON, for live debugging during development. It is not
// part of the wire protocol: nothing published or subscribed through
// pkg/aia/transport goes anywhere near it.
package devstream

import (
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/aia-client/pkg/aia/events"
)

const clientBufferSize = 64

// Server fans a stream of events out to every connected WebSocket client.
// The caller forwards events to it explicitly via Broadcast; Server does
// not read the engine's event channel itself, since that channel may have
// only one real consumer.
type Server struct {
	mu      sync.Mutex
	clients map[chan events.Event]struct{}
}

// New returns an empty Server ready to accept connections.
func New() *Server {
	return &Server{clients: make(map[chan events.Event]struct{})}
}

// Broadcast fans ev out to every currently connected client. A client
// whose buffer is full is skipped rather than blocking the caller.
func (s *Server) Broadcast(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams every
// subsequent Broadcast call to it as a JSON text message until the client
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ch := make(chan events.Event, clientBufferSize)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, ch)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case ev := <-ch:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
