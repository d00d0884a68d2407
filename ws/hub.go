// Package ws implements the dashboard live-update broadcaster: a set of connected
// websocket clients that receive {event, data} pushes for meme and folder mutations.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexus-console/backend/telemetry"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	// The dashboard is served from a separate origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// conn is the slice of *websocket.Conn the hub needs. Tests substitute fakes.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Event is the wire shape pushed to every dashboard socket.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub owns the set of live dashboard sockets. Membership is self-healing: a socket
// whose send fails is dropped on the same broadcast pass, so no separate heartbeat
// bookkeeping is needed.
type Hub struct {
	mu    sync.Mutex
	conns map[conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[conn]struct{})}
}

// Add registers a socket for broadcasts.
func (h *Hub) Add(c conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	telemetry.DashboardClients.Set(float64(n))
}

// Remove drops a socket and closes it.
func (h *Hub) Remove(c conn) {
	h.mu.Lock()
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()
	telemetry.DashboardClients.Set(float64(n))
	_ = c.Close()
}

// Len reports the current number of connected sockets.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast serializes {event, data} and sends it to every connected socket. Sends
// run concurrently outside the membership lock, so a slow or dead socket delays the
// caller by at most one write deadline and never stalls delivery to the rest (or
// Add/Remove of other clients). Sockets whose send fails are removed on this same pass.
func (h *Hub) Broadcast(event string, data any) {
	payload, err := json.Marshal(Event{Event: event, Data: data})
	if err != nil {
		slog.Error("ws: broadcast marshal failed", slog.String("event", event), slog.Any("err", err))
		return
	}

	h.mu.Lock()
	conns := make([]conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	var deadMu sync.Mutex
	var dead []conn
	for _, c := range conns {
		wg.Add(1)
		go func(c conn) {
			defer wg.Done()
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				deadMu.Lock()
				dead = append(dead, c)
				deadMu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	if len(dead) > 0 {
		h.mu.Lock()
		for _, c := range dead {
			if _, ok := h.conns[c]; ok {
				delete(h.conns, c)
				_ = c.Close()
				telemetry.BroadcastDrops.Inc()
			}
		}
		n := len(h.conns)
		h.mu.Unlock()
		telemetry.DashboardClients.Set(float64(n))
		slog.Debug("ws: pruned dead sockets", slog.Int("count", len(dead)), slog.String("event", event))
	}
	telemetry.BroadcastsSent.Inc()
}

// deadlineConn wraps a live websocket connection so broadcast writes carry a deadline.
// The mutex serializes writes from overlapping broadcasts; gorilla connections allow
// only one concurrent writer.
type deadlineConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (d *deadlineConn) WriteMessage(messageType int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = d.SetWriteDeadline(time.Now().Add(writeWait))
	return d.Conn.WriteMessage(messageType, data)
}

// ServeHTTP upgrades the request and keeps the socket registered until it closes.
// Client-to-server messages are read and discarded; the push channel is one-way.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws: upgrade failed", slog.Any("err", err))
		return
	}
	dc := &deadlineConn{Conn: c}
	h.Add(dc)
	slog.Debug("ws: client connected", slog.String("remote_addr", r.RemoteAddr))

	c.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	h.Remove(dc)
	slog.Debug("ws: client disconnected", slog.String("remote_addr", r.RemoteAddr))
}
