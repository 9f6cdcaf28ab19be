// Package ws fans position snapshots out to dashboard clients over
// websockets. The hub holds one pattern subscription on the cache bus and
// relays each snapshot to every client subscribed to that trader.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradeflow/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// snapshotFrame is the message pushed to dashboard clients.
type snapshotFrame struct {
	Type     string          `json:"type"`
	Trader   string          `json:"trader_id"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// subscribeMsg is the only message clients send. An empty trader list
// subscribes to all traders.
type subscribeMsg struct {
	Action  string   `json:"action"`
	Traders []string `json:"traders"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	traders map[string]struct{}
	all     bool
}

func (c *client) wants(trader string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.all {
		return true
	}
	_, ok := c.traders[trader]
	return ok
}

func (c *client) setTraders(traders []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(traders) == 0 {
		c.all = true
		c.traders = nil
		return
	}
	c.all = false
	c.traders = make(map[string]struct{}, len(traders))
	for _, t := range traders {
		c.traders[t] = struct{}{}
	}
}

// Hub relays pnl snapshots from the cache bus to websocket clients.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
}

func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run subscribes to the pnl channels and pumps until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, "pnl:*")
	if err != nil {
		return err
	}
	h.logger.Info("hub started")

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return ctx.Err()

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Debug("client connected", slog.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("client disconnected", slog.Int("clients", len(h.clients)))
			}

		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			h.dispatch(payload)
		}
	}
}

// dispatch routes one snapshot payload to interested clients. The trader is
// read from the snapshot body since the pattern subscription does not carry
// the channel name. Slow clients are dropped rather than blocking the relay.
func (h *Hub) dispatch(payload []byte) {
	var peek struct {
		TraderID string `json:"trader_id"`
	}
	if err := json.Unmarshal(payload, &peek); err != nil || peek.TraderID == "" {
		h.logger.Warn("dropping malformed snapshot payload")
		return
	}

	frame, err := json.Marshal(snapshotFrame{
		Type:     "position_snapshot",
		Trader:   peek.TraderID,
		Snapshot: payload,
	})
	if err != nil {
		return
	}

	for c := range h.clients {
		if !c.wants(peek.TraderID) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("dropping slow client")
		}
	}
}

// HandleWS upgrades the connection and starts the client pumps. New clients
// receive all traders until they send a subscribe message.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), all: true}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Action == "subscribe" {
			c.setTraders(msg.Traders)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
