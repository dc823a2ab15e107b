// Package notify pushes cache notifications to connected WebSocket clients,
// which keep their own copies of the JSON resources and drop or refetch them
// when told to.
package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/jsoncache/pkg/message"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Per-client queue length before the client is dropped
	sendBuffer = 64
)

var (
	// ErrHubClosed is returned when posting to a hub that has stopped.
	ErrHubClosed = errors.New("notification hub closed")

	// ErrBufferFull is returned when the broadcast queue is saturated.
	ErrBufferFull = errors.New("notification buffer full")

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jsoncache_ws_connections",
		Help: "Current number of connected notification clients",
	})

	wsMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jsoncache_ws_messages_sent_total",
		Help: "Total notification messages queued to clients",
	})
)

// client is a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	closeOnce  sync.Once

	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub creates a new notification hub. Call Run to start it.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same-origin checks are left to the fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			wsConnections.Inc()
			h.logger.Info().Int("total_clients", total).Msg("Notification client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				wsConnections.Dec()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Int("total_clients", total).Msg("Notification client disconnected")

		case data := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
					wsMessagesSent.Inc()
				default:
					// Client's send buffer is full, drop the connection
					close(c.send)
					delete(h.clients, c)
					wsConnections.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// shutdown closes every client and marks the hub done.
func (h *Hub) shutdown() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
			wsConnections.Dec()
		}
	})
}

// PostMessage queues msg for every connected client. It never blocks.
func (h *Hub) PostMessage(ctx context.Context, msg message.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	select {
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case h.broadcast <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump drains incoming frames so control messages are processed.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Msg("WebSocket unexpected close")
			}
			return
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
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
