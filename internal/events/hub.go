// Package events implements the live Event Feed (C13): a websocket hub
// broadcasting QueryEvent records to dashboard subscribers. Grounded on
// the teacher's internal/websocket hub (register/unregister channels,
// a single broadcaster goroutine, non-blocking per-client send with
// drop-on-full) rewritten around a smaller event payload.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// QueryEvent is one entry in the live feed.
type QueryEvent struct {
	Kind      string    `json:"kind"` // executed | cache_hit | cache_evicted | engine_failed
	Table     string    `json:"table,omitempty"`
	EngineID  string    `json:"engine_id,omitempty"`
	WallTimeS float64   `json:"wall_time_s,omitempty"`
	At        time.Time `json:"at"`
}

const (
	KindExecuted      = "executed"
	KindCacheHit      = "cache_hit"
	KindCacheEvicted  = "cache_evicted"
	KindEngineFailed  = "engine_failed"
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan QueryEvent
}

// Hub fans QueryEvents out to every connected client. Publish never
// blocks: a client whose send buffer is full is dropped rather than
// slowing down the query path that produced the event.
type Hub struct {
	mu         sync.Mutex
	clients    map[string]*client
	register   chan *client
	unregister chan string
	broadcast  chan QueryEvent
}

// NewHub constructs an idle Hub. Call Run in its own goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan string),
		broadcast:  make(chan QueryEvent, 64),
	}
}

// Run drives the hub's select loop for the life of the process, matching
// the teacher's Run pattern: it has no stop signal, never closes the
// hub's own channels, and returns only when the process exits.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
		case id := <-h.unregister:
			h.mu.Lock()
			if c, ok := h.clients[id]; ok {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
		case evt := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- evt:
				default:
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// publish enqueues evt for broadcast. Never blocks the caller beyond the
// hub's own buffered channel.
func (h *Hub) publish(evt QueryEvent) {
	evt.At = time.Now()
	select {
	case h.broadcast <- evt:
	default:
		log.Warn().Str("kind", evt.Kind).Msg("event feed backlog full, dropping event")
	}
}

// PublishExecuted is called by the orchestrator after a non-cached run.
func (h *Hub) PublishExecuted(table, engineID string, wallTimeS float64) {
	h.publish(QueryEvent{Kind: KindExecuted, Table: table, EngineID: engineID, WallTimeS: wallTimeS})
}

// PublishCacheHit satisfies querycache.Publisher.
func (h *Hub) PublishCacheHit(table string) {
	h.publish(QueryEvent{Kind: KindCacheHit, Table: table})
}

// PublishCacheEvicted satisfies querycache.Publisher.
func (h *Hub) PublishCacheEvicted(table string) {
	h.publish(QueryEvent{Kind: KindCacheEvicted, Table: table})
}

// PublishEngineFailed is called when an engine returns an error.
func (h *Hub) PublishEngineFailed(table, engineID string) {
	h.publish(QueryEvent{Kind: KindEngineFailed, Table: table, EngineID: engineID})
}

// ConnectedClients reports the current subscriber count, used by the
// dashboard snapshot.
func (h *Hub) ConnectedClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ServeWS upgrades r into a websocket connection and registers it with
// the hub. The connection is torn down on write failure or when the hub
// closes its send channel.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("event feed websocket upgrade failed")
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan QueryEvent, 16)}

	h.register <- c
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case evt, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump exists to drain and discard client frames so gorilla's
// connection keeps pong handling alive; this feed is publish-only.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c.id
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
