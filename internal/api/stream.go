// Package api is the optional, read-only dashboard surface: an HTTP
// snapshot endpoint plus a WebSocket stream of the pipeline's own bus
// events. It never feeds back into the detection pipeline.
//
// Hub folds directly into internal/bus.Bus instead of being driven by a
// caller-owned broadcast loop: NewHub subscribes itself to the event
// types a dashboard client cares about and fans each publish straight
// out to clients, so the Bus stays the one place ingress is wired.
// Per-client delivery also departs from a plain "send or disconnect"
// policy: a slow client keeps a small ring of the most recent events
// and loses only the stale backlog, never the connection — the same
// "only the latest state matters" reasoning that already excludes raw
// book ticks from streamedEvents.
package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sublimine-ids/internal/bus"
	"sublimine-ids/pkg/types"
)

// streamedEvents are the bus event types forwarded to dashboard clients.
// Raw book/trade ingress is excluded — a client cares about the derived
// signal, not the tick-by-tick feed, and forwarding every book update
// would overwhelm clients at market-data rates.
var streamedEvents = []types.EventType{
	types.EventSignal,
	types.EventTradeIntent,
	types.EventOrderRequest,
	types.EventOrderAck,
	types.EventOrderFill,
	types.EventPositionSnap,
	types.EventDataQuality,
	types.EventEngineState,
}

// StreamEvent is the wrapper every bus event is re-marshalled into
// before reaching a WebSocket client.
type StreamEvent struct {
	Type      types.EventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      any             `json:"data"`
}

// Hub subscribes to a Bus and fans its events out to connected WebSocket
// clients. There is no internal broadcast actor: client bookkeeping is a
// plain mutex-guarded map, since Subscribe's handler already runs on the
// publisher's goroutine and needs no further serialization.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub wires a Hub to every event type in streamedEvents on b.
func NewHub(b *bus.Bus, logger *slog.Logger) *Hub {
	h := &Hub{clients: make(map[*Client]struct{}), logger: logger.With("component", "ws-hub")}
	for _, et := range streamedEvents {
		et := et
		b.Subscribe(et, func(payload any) {
			h.broadcast(StreamEvent{Type: et, Timestamp: time.Now().UTC(), Data: payload})
		})
	}
	return h
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("client connected", "count", h.count())
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
		h.logger.Info("client disconnected", "count", h.count())
	}
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(evt StreamEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.push(data)
	}
}

// clientBacklog bounds how many un-flushed messages a client's ring
// holds before push starts dropping the oldest one.
const clientBacklog = 32

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Client represents a connected WebSocket client. Delivery is pull-based:
// push appends to a bounded ring and wakes writePump, which drains
// whatever is pending in one pass.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	mu      sync.Mutex
	pending [][]byte
	closed  bool
	wake    chan struct{}
}

// NewClient registers conn with hub and starts its read/write pumps.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{hub: hub, conn: conn, wake: make(chan struct{}, 1)}
	hub.register(c)
	go c.writePump()
	go c.readPump()
	return c
}

// push enqueues msg for delivery, dropping the oldest pending message
// first if the client's ring is already full.
func (c *Client) push(msg []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.pending) >= clientBacklog {
		c.pending = append(c.pending[:0], c.pending[1:]...)
	}
	c.pending = append(c.pending, msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	out := c.pending
	c.pending = nil
	return out
}

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writePump drains whatever is pending on each wake-up and pings on an
// idle ticker, mirroring the keepalive shape of a standard gorilla/
// websocket hub while replacing its per-message channel send.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.wake:
			for _, msg := range c.drain() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
			if c.isClosed() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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

// readPump discards every client message: the dashboard is read-only.
// Its only job is detecting disconnects and keeping the pong deadline
// fresh.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
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
				c.hub.logger.Error("websocket error", "error", err)
			}
			break
		}
	}
}
