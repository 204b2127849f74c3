package telemetry

import (
	"bytes"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const sendBuffer = 4

// HubObserver receives connection level events, e.g. for metrics.
type HubObserver interface {
	SetClients(n int)
	ClientDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) SetClients(int)        {}
func (nopObserver) ClientDropped(string) {}

type HubConfig struct {
	MaxClients   int
	PingInterval time.Duration
	PongTimeout  time.Duration
	// WriteTimeout bounds one frame write; a client that cannot keep up is dropped.
	WriteTimeout time.Duration
	MaxMessage   int64
}

// Hub tracks connected telemetry clients.
type Hub struct {
	cfg      HubConfig
	upgrader websocket.Upgrader
	handle   func(c *Client, data []byte)
	observer HubObserver

	mu      sync.Mutex
	clients []*Client // oldest first

	lastKeepalive atomic.Int64
}

func NewHub(cfg HubConfig, start time.Time, handle func(c *Client, data []byte)) *Hub {
	h := &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		handle:   handle,
		observer: nopObserver{},
	}
	h.lastKeepalive.Store(start.UnixNano())
	return h
}

func (h *Hub) SetObserver(o HubObserver) {
	h.observer = o
}

// LastKeepalive is the most recent ping/pong exchange with any client.
func (h *Hub) LastKeepalive() time.Time {
	return time.Unix(0, h.lastKeepalive.Load())
}

func (h *Hub) touch() {
	h.lastKeepalive.Store(time.Now().UnixNano())
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the client, evicting the
// oldest client when the hub is full.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	c := h.newClient(conn)
	log.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("Telemetry client connected")
	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) newClient(conn *websocket.Conn) *Client {
	conn.SetReadLimit(h.cfg.MaxMessage)
	return &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// register adds c, evicting the oldest client when the hub is full.
func (h *Hub) register(c *Client) {
	var evicted *Client
	h.mu.Lock()
	if len(h.clients) >= h.cfg.MaxClients {
		evicted = h.clients[0]
	}
	h.clients = append(h.clients, c)
	h.mu.Unlock()

	if evicted != nil {
		log.Info().Str("client", evicted.id).Msg("Client limit reached, dropping oldest client")
		h.observer.ClientDropped("evicted")
		evicted.close()
	}

	h.touch()
	h.observer.SetClients(h.Count())
}

// Broadcast queues msg for every client without blocking. A client whose
// queue is full is disconnected.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	clients := append([]*Client(nil), h.clients...)
	h.mu.Unlock()

	for _, c := range clients {
		if !c.trySend(msg) {
			log.Warn().Str("client", c.id).Msg("Client too slow, disconnecting")
			h.observer.ClientDropped("slow")
			c.close()
		}
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := append([]*Client(nil), h.clients...)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	for i, other := range h.clients {
		if other == c {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			break
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.observer.SetClients(n)
}

// Client is one websocket connection. Only writePump writes to conn.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues a reply for this client only.
func (c *Client) Send(msg []byte) {
	if !c.trySend(msg) {
		c.hub.observer.ClientDropped("slow")
		c.close()
	}
}

func (c *Client) trySend(msg []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.remove(c)
		c.conn.Close()
		log.Info().Str("client", c.id).Msg("Telemetry client disconnected")
	})
}

func (c *Client) readPump() {
	defer c.close()

	// Every pong pushes the deadline one ping interval plus the pong timeout
	// ahead, so a client that stops answering is dropped at most PongTimeout
	// after the ping it missed.
	_ = c.conn.SetReadDeadline(c.nextReadDeadline())
	c.conn.SetPongHandler(func(string) error {
		c.hub.touch()
		return c.conn.SetReadDeadline(c.nextReadDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("Client read failed")
			}
			return
		}
		if isPing(data) {
			c.hub.touch()
			_ = c.conn.SetReadDeadline(c.nextReadDeadline())
		}
		c.hub.handle(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("Client write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.cfg.WriteTimeout)); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("Ping failed")
				return
			}
		}
	}
}

func (c *Client) nextReadDeadline() time.Time {
	return time.Now().Add(c.hub.cfg.PingInterval + c.hub.cfg.PongTimeout)
}

func isPing(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "ping"
}
