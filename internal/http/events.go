package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mrlokans/shelfsync/internal/logging"
	"github.com/mrlokans/shelfsync/internal/network"
	"github.com/mrlokans/shelfsync/internal/queue"
	"github.com/mrlokans/shelfsync/internal/syncer"
)

const (
	EventQueuePrefix      = "queue."
	EventPermanentFailure = "queue.permanent_failure"
	EventSyncStatus       = "sync.status"
	EventNetworkChanged   = "network.changed"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256

	// criticalWait bounds how long a permanent failure waits for room in a
	// backed-up hub.
	criticalWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts clients without an Origin header (native hosts) and
// browser clients served from the same host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// Envelope wraps every message sent to event stream clients.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type wsClient struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
	hub  *EventHub
}

// EventHub fans queue, sync and network events out to websocket clients.
type EventHub struct {
	clients    map[uint64]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	closeOnce  sync.Once
	nextID     atomic.Uint64
	count      atomic.Int64
	wait       time.Duration
	log        *zerolog.Logger
}

func NewEventHub() *EventHub {
	hub := &EventHub{
		clients:    make(map[uint64]*wsClient),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		wait:       criticalWait,
		log:        logging.Get("events"),
	}
	go hub.run()
	return hub
}

func (h *EventHub) run() {
	for {
		select {
		case <-h.done:
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.count.Store(0)
			return

		case client := <-h.register:
			h.clients[client.id] = client
			h.count.Store(int64(len(h.clients)))
			h.log.Debug().Uint64("client", client.id).Int("total", len(h.clients)).Msg("client connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.count.Store(int64(len(h.clients)))
			h.log.Debug().Uint64("client", client.id).Int("total", len(h.clients)).Msg("client disconnected")

		case message := <-h.broadcast:
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Send buffer full; drop the client.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// Close disconnects every client and stops the hub.
func (h *EventHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	return int(h.count.Load())
}

// Broadcast sends an event to every connected client. Events are dropped
// when the hub is backed up or closed.
func (h *EventHub) Broadcast(eventType string, data any) {
	message, ok := h.encode(eventType, data)
	if !ok {
		return
	}
	select {
	case <-h.done:
	case h.broadcast <- message:
	default:
		h.log.Warn().Str("type", eventType).Msg("event stream backed up, dropping event")
	}
}

// broadcastCritical is Broadcast for events that must not be dropped while
// the hub is only briefly backed up. It waits up to h.wait for room.
func (h *EventHub) broadcastCritical(eventType string, data any) {
	message, ok := h.encode(eventType, data)
	if !ok {
		return
	}
	timer := time.NewTimer(h.wait)
	defer timer.Stop()
	select {
	case <-h.done:
	case h.broadcast <- message:
	case <-timer.C:
		h.log.Error().Str("type", eventType).Dur("waited", h.wait).Msg("event stream backed up, dropping event")
	}
}

func (h *EventHub) encode(eventType string, data any) ([]byte, bool) {
	bytes, err := json.Marshal(Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.log.Error().Err(err).Str("type", eventType).Msg("failed to marshal event")
		return nil, false
	}
	return bytes, true
}

func (h *EventHub) PublishQueueEvent(e queue.Event) {
	h.Broadcast(EventQueuePrefix+string(e.Kind), e.Action)
}

func (h *EventHub) PublishPermanentFailure(f queue.PermanentFailure) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	h.broadcastCritical(EventPermanentFailure, map[string]any{
		"action": f.Action,
		"error":  msg,
	})
}

func (h *EventHub) PublishSyncStatus(s syncer.Status) {
	h.Broadcast(EventSyncStatus, s)
}

func (h *EventHub) PublishNetworkState(s network.State) {
	h.Broadcast(EventNetworkChanged, s)
}

// Serve handles GET /api/sync/events
func (h *EventHub) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade event stream")
		return
	}

	client := &wsClient{
		id:   h.nextID.Add(1),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only watches for close and pong frames; clients do not send
// commands.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Uint64("client", c.id).Msg("read error")
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
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
