package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxnode/internal/observe"
	"github.com/MrWong99/voxnode/internal/session"
)

const (
	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// wsMessage is one WebSocket frame. The first frame of a connection is a
// snapshot; updates follow.
type wsMessage struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Update   *session.Update   `json:"update,omitempty"`
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubMetrics tracks connected clients in m.
func WithHubMetrics(m *observe.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns allows cross-origin WebSocket clients matching patterns.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = patterns }
}

// Hub is the single consumer of a session's update channel. It fans every
// update out to the connected WebSocket clients; a client that falls behind
// loses updates instead of stalling the others.
type Hub struct {
	snapshot func() session.Snapshot
	metrics  *observe.Metrics
	origins  []string

	mu      sync.Mutex
	clients map[chan session.Update]struct{}
	closed  bool
}

// NewHub returns a Hub. snapshot provides the first frame of each connection.
func NewHub(snapshot func() session.Snapshot, opts ...HubOption) *Hub {
	h := &Hub{
		snapshot: snapshot,
		clients:  make(map[chan session.Update]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run consumes updates until ctx is done or the channel closes, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context, updates <-chan session.Update) error {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			h.broadcast(u)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(u session.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- u:
		default:
			slog.Debug("api: websocket client behind, dropping update", "kind", u.Kind)
		}
	}
}

func (h *Hub) register() (chan session.Update, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan session.Update, clientBuffer)
	h.clients[ch] = struct{}{}
	return ch, true
}

func (h *Hub) unregister(ch chan session.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// ServeHTTP upgrades the request and streams wsMessage frames.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Debug("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ch, ok := h.register()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unregister(ch)

	h.metrics.AddSubscribers(r.Context(), 1)
	defer h.metrics.AddSubscribers(context.WithoutCancel(r.Context()), -1)

	// Clients only listen; CloseRead handles their close frame.
	ctx := conn.CloseRead(r.Context())

	snap := h.snapshot()
	if err := h.write(ctx, conn, wsMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.write(ctx, conn, wsMessage{Type: "update", Update: &u}); err != nil {
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg wsMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		slog.Debug("api: websocket write failed", "type", msg.Type, "err", err)
		return err
	}
	return nil
}
