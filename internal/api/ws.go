package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mr1hm/go-emergency-alerts/internal/observability"
	"github.com/mr1hm/go-emergency-alerts/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled by the router
	},
}

// wsConn pushes one store's snapshots to one browser.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	stop func()
	gone chan struct{} // closed on unregister

	mu          sync.Mutex
	closed      bool
	lastVersion uint64
}

// Hub tracks live websocket connections so they can be closed on shutdown.
type Hub struct {
	mu    sync.Mutex
	conns map[*wsConn]struct{}
	wg    sync.WaitGroup
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*wsConn]struct{})}
}

// Serve upgrades the request and streams s's snapshots until the peer
// disconnects.
func (h *Hub) Serve(c *gin.Context, s *store.Store) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &wsConn{
		conn: conn,
		send: make(chan []byte, 64),
		gone: make(chan struct{}),
	}

	h.mu.Lock()
	h.conns[client] = struct{}{}
	h.mu.Unlock()
	observability.WSConnections.Inc()
	slog.Debug("ws client connected", "subject", s.Identity().Subject)

	client.stop = s.Watch(client.push)
	client.push(s.Snapshot())

	h.wg.Add(3)
	go func() {
		defer h.wg.Done()
		client.closeWhenDone(s.Done())
	}()
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
		h.unregister(client)
	}()
}

func (h *Hub) unregister(client *wsConn) {
	h.mu.Lock()
	_, ok := h.conns[client]
	delete(h.conns, client)
	h.mu.Unlock()
	if !ok {
		return
	}

	client.stop()
	client.mu.Lock()
	client.closed = true
	close(client.send)
	client.mu.Unlock()
	close(client.gone)

	observability.WSConnections.Dec()
	slog.Debug("ws client disconnected")
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client and waits for their pumps to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	for client := range h.conns {
		client.conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// push drops snapshots older than one already queued, and drops the
// message when the peer is too slow to keep up; a later snapshot
// supersedes it anyway.
func (c *wsConn) push(snap store.Snapshot) {
	data, err := json.Marshal(toSnapshotJSON(snap))
	if err != nil {
		slog.Error("marshal ws snapshot", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || snap.Version < c.lastVersion {
		return
	}
	c.lastVersion = snap.Version
	select {
	case c.send <- data:
	default:
	}
}

// closeWhenDone hangs up once the store behind the connection is closed
// (sign-out or eviction), so the browser reconnects to a live store.
func (c *wsConn) closeWhenDone(done <-chan struct{}) {
	select {
	case <-c.gone:
		return
	case <-done:
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "session ended")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}

func (c *wsConn) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *wsConn) readPump() {
	defer c.conn.Close()

	for {
		// Incoming messages are ignored; the loop detects disconnection.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
