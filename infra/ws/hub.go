// Package ws serves the real-time event stream over WebSocket. Each client
// subscribes to the relay topics it names on connect; delivery inherits the
// relay's best-effort semantics, so a slow consumer misses events instead of
// slowing the publishers down.
package ws

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emsgo/dispatch/core/logger"
	"github.com/emsgo/dispatch/core/relay"
	"github.com/emsgo/dispatch/internal/topicbus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in development, configure for production
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

type client struct {
	conn   *websocket.Conn
	sub    <-chan topicbus.Message
	topics []string
}

// Hub upgrades HTTP connections and pumps relay events to them.
type Hub struct {
	relay *relay.Relay
	log   logger.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool
}

// NewHub creates a Hub over the given relay.
func NewHub(rel *relay.Relay, log logger.Logger) *Hub {
	return &Hub{relay: rel, log: log, clients: make(map[*client]bool)}
}

// ServeHTTP upgrades the request and streams events for the topics named in
// the "topics" query parameter (comma separated). Without the parameter the
// client gets the dispatch-center stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics := parseTopics(r.URL.Query().Get("topics"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorf("ws: upgrade failed: %v", err)
		}
		return
	}

	c := &client{conn: conn, sub: h.relay.Subscribe(topics...), topics: topics}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.relay.Unsubscribe(c.sub)
		_ = conn.Close()
		return
	}
	h.clients[c] = true
	h.mu.Unlock()
	if h.log != nil {
		h.log.Infof("ws: client %s connected (topics %v)", conn.RemoteAddr(), topics)
	}

	go h.writePump(c)
	go h.readPump(c)
}

func parseTopics(raw string) []string {
	if raw == "" {
		return []string{relay.TopicDispatchCenter}
	}
	parts := strings.Split(raw, ",")
	topics := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			topics = append(topics, p)
		}
	}
	if len(topics) == 0 {
		return []string{relay.TopicDispatchCenter}
	}
	return topics
}

// writePump serializes relay envelopes to the socket and keeps the
// connection alive with pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()
	for {
		select {
		case msg, ok := <-c.sub:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
				return
			}
			env, ok := msg.(relay.Envelope)
			if !ok {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and notices disconnects. Clients choose
// their topics at connect time; there is no in-band subscription protocol.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()
	h.relay.Unsubscribe(c.sub)
	_ = c.conn.Close()
	if h.log != nil {
		h.log.Infof("ws: client %s disconnected", c.conn.RemoteAddr())
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]bool)
	h.mu.Unlock()
	for _, c := range clients {
		h.relay.Unsubscribe(c.sub)
		_ = c.conn.Close()
	}
}
