package caption

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// clientBuffer is the number of frames queued per overlay client before
	// it is dropped as too slow.
	clientBuffer = 32

	writeTimeout = 5 * time.Second
)

// errHubClosed is returned by the Surface methods after Close.
var errHubClosed = errors.New("caption: hub closed")

// Message is the JSON document sent to overlay clients.
type Message struct {
	// Type is "show", "highlight" or "hide".
	Type string `json:"type"`
	Frame
}

// HubOption configures a [Hub].
type HubOption func(*Hub)

// WithOriginPatterns allows cross-origin overlay clients (e.g. a browser
// source in streaming software served from another host).
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// WithHubLogger sets the logger. Defaults to slog.Default().
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

type client struct {
	send chan []byte
}

// Hub is a [Surface] that broadcasts caption frames to websocket clients.
// It is also the http.Handler serving those clients. A client that connects
// mid-caption immediately receives the current frame.
type Hub struct {
	log     *slog.Logger
	origins []string

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	closed  bool
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		log:     slog.Default(),
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Show implements [Surface].
func (h *Hub) Show(f Frame) error { return h.broadcast(Message{Type: "show", Frame: f}) }

// Highlight implements [Surface].
func (h *Hub) Highlight(f Frame) error { return h.broadcast(Message{Type: "highlight", Frame: f}) }

// Hide implements [Surface].
func (h *Hub) Hide(sessionID string) error {
	return h.broadcast(Message{Type: "hide", Frame: Frame{SessionID: sessionID, Active: -1}})
}

// broadcast queues msg for every client without blocking. Clients whose
// queue is full are disconnected.
func (h *Hub) broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHubClosed
	}
	if msg.Type == "hide" {
		h.last = nil
	} else {
		h.last = data
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("caption: overlay client too slow, disconnecting")
			delete(h.clients, c)
			close(c.send)
		}
	}
	return nil
}

// ServeHTTP upgrades the request to a websocket and streams caption frames
// until the client disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Debug("caption: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c := &client{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info("caption: overlay client connected", "remote", r.RemoteAddr, "clients", n)

	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		h.log.Info("caption: overlay client disconnected", "remote", r.RemoteAddr)
	}()

	// Overlay clients never send; CloseRead handles pings and close frames.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "disconnected")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Closed reports whether [Hub.Close] has been called.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close disconnects every client. Later Surface calls fail.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}
