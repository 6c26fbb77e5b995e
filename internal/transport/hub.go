package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gantryio/gantry/internal/event"
)

const (
	// writeWait bounds one write to a client.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the client.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// clientSendBuffer is each client's outbound queue; a full queue drops
	// the message, never blocks the hub.
	clientSendBuffer = 64
)

// StreamMessage is one bus event serialized to admin clients.
type StreamMessage struct {
	Topic     string    `json:"topic"`
	Payload   any       `json:"payload"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans bus events out to connected websocket clients. One wildcard bus
// subscription feeds the broadcast channel; slow clients lose messages
// rather than stall the hub.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	quit       chan struct{}

	mu      sync.Mutex
	running bool

	bus    *event.Bus
	busSub *event.Subscription
	logger *slog.Logger

	upgrader websocket.Upgrader
}

// NewHub creates a hub bridged to the bus.
func NewHub(bus *event.Bus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		quit:       make(chan struct{}),
		bus:        bus,
		logger:     logger.With(slog.String("component", "transport.hub")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The admin API is same-host tooling.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start installs the bus bridge and launches the hub loop.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	sub, err := h.bus.SubscribeFunc("**", func(_ context.Context, evt event.Envelope) error {
		h.Broadcast(StreamMessage{
			Topic:     evt.Topic.String(),
			Payload:   evt.Payload,
			Source:    evt.Meta.Source,
			Timestamp: evt.Meta.Timestamp,
		})
		return nil
	})
	if err != nil {
		return err
	}
	h.busSub = sub

	go h.run()
	return nil
}

// Stop removes the bus bridge and disconnects every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	if h.busSub != nil {
		_ = h.bus.Unsubscribe(h.busSub)
	}
	close(h.quit)
}

// Broadcast queues a message for every connected client. Unserializable
// payloads and a saturated hub are dropped with a log line.
func (h *Hub) Broadcast(msg StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("dropping unserializable stream message",
			slog.String("topic", msg.Topic),
			slog.Any("error", err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("hub broadcast queue full, dropping message",
			slog.String("topic", msg.Topic))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client connected", slog.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client disconnected", slog.Int("clients", n))

		case data := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow client: drop it rather than block the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeWS upgrades the request and attaches the client to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.quit:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// wsClient is one connected admin client.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// readPump drains inbound frames so pings are answered; the stream is
// one-way, inbound payloads are discarded.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
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
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
