package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/marketd/internal/events"
)

const (
	// streamWriteWait bounds one frame write.
	streamWriteWait = 10 * time.Second
	// streamBuffer is the per-client event backlog before the client is
	// considered too slow and dropped.
	streamBuffer = 64
)

// StreamHandler fans bus events out to websocket subscribers as JSON
// frames.
type StreamHandler struct {
	bus *events.Bus
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	ch   chan *events.Event
}

// NewStreamHandler creates the handler and subscribes it to every event
// type on the bus.
func NewStreamHandler(bus *events.Bus, log zerolog.Logger) *StreamHandler {
	h := &StreamHandler{
		bus:     bus,
		log:     log.With().Str("component", "event_stream").Logger(),
		clients: make(map[*streamClient]struct{}),
	}
	if bus != nil {
		bus.SubscribeAll(h.broadcast)
	}
	return h
}

// broadcast queues the event for every connected client. A client whose
// backlog is full is disconnected rather than allowed to block the bus.
func (h *StreamHandler) broadcast(e *events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.ch <- e:
		default:
			h.log.Warn().Msg("Dropping slow event stream client")
			delete(h.clients, client)
			go client.conn.Close(websocket.StatusPolicyViolation, "event backlog overflow")
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects or the server shuts down.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &streamClient{conn: conn, ch: make(chan *events.Event, streamBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	// The stream is write-only; CloseRead surfaces client disconnects as
	// context cancellation.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-client.ch:
			if err := h.write(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Msg("Event stream write failed")
				return
			}
		}
	}
}

func (h *StreamHandler) write(ctx context.Context, conn *websocket.Conn, event *events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// Close disconnects every client and stops accepting new ones.
func (h *StreamHandler) Close() {
	h.mu.Lock()
	clients := make([]*streamClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*streamClient]struct{})
	h.closed = true
	h.mu.Unlock()

	for _, client := range clients {
		client.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
