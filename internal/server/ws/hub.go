// Package ws streams recorded alerts to WebSocket clients. The hub bridges
// the Redis alert bus to connected clients and replays recent alerts on
// connect so a dashboard doesn't start from a blank screen.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/polypulse/polypulse/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds incoming client messages; clients only pong.
	maxMessageSize = 512

	// sendBufferSize is the per-client outgoing buffer.
	sendBufferSize = 64

	// replayCount is how many recent alerts a fresh client receives.
	replayCount = 50
)

// AlertFeed is the bus side the hub consumes: a live subscription plus
// recent history for replay.
type AlertFeed interface {
	Subscribe(ctx context.Context) (<-chan []byte, error)
	Recent(ctx context.Context, count int) ([]domain.Alert, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// severityRank orders severities for per-client filtering.
var severityRank = map[domain.Severity]int{
	domain.SeverityInfo:     0,
	domain.SeverityLow:      1,
	domain.SeverityMedium:   2,
	domain.SeverityHigh:     3,
	domain.SeverityCritical: 4,
}

// client is one WebSocket connection with its severity floor.
type client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	minSeverity int
}

// Hub fans alert bus messages out to all connected clients.
type Hub struct {
	feed       AlertFeed
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	mu         sync.RWMutex
	gauge      prometheus.Gauge // may be nil
	logger     *slog.Logger
}

// NewHub creates a hub over the given alert feed. gauge may be nil.
func NewHub(feed AlertFeed, gauge prometheus.Gauge, logger *slog.Logger) *Hub {
	return &Hub{
		feed:       feed,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		gauge:      gauge,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run consumes the alert feed and dispatches to clients until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.feed.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.setGauge(0)
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.setGauge(n)
			h.logger.Info("client connected", slog.Int("total", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.setGauge(n)
			h.logger.Info("client disconnected", slog.Int("total", n))

		case data, ok := <-msgs:
			if !ok {
				return nil
			}
			h.dispatch(data)
		}
	}
}

// dispatch routes one serialized alert to every client whose severity floor
// admits it. Slow clients drop messages rather than stall the hub.
func (h *Hub) dispatch(data []byte) {
	rank := severityOf(data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if rank < c.minSeverity {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

// severityOf peeks at the severity field of a serialized alert. Unknown
// payloads rank as critical so they are never silently filtered.
func severityOf(data []byte) int {
	var peek struct {
		Severity domain.Severity `json:"Severity"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		return severityRank[domain.SeverityCritical]
	}
	if rank, ok := severityRank[peek.Severity]; ok {
		return rank
	}
	return severityRank[domain.SeverityCritical]
}

func (h *Hub) setGauge(n int) {
	if h.gauge != nil {
		h.gauge.Set(float64(n))
	}
}

// HandleWS upgrades the connection and attaches the client to the hub.
// ?min_severity=high sets the client's severity floor; ?replay=0 disables
// the recent-alert replay.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	minSeverity := 0
	if v := r.URL.Query().Get("min_severity"); v != "" {
		if rank, ok := severityRank[domain.Severity(v)]; ok {
			minSeverity = rank
		}
	}

	c := &client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		minSeverity: minSeverity,
	}
	h.register <- c

	go c.writeLoop()
	go c.readLoop()

	// The request context dies when this handler returns; the replay gets
	// its own deadline.
	if replay := r.URL.Query().Get("replay"); replay != "0" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			h.replayRecent(ctx, c)
		}()
	}
}

// replayRecent queues the most recent alerts for a newly connected client,
// oldest first, honoring its severity floor.
func (h *Hub) replayRecent(ctx context.Context, c *client) {
	alerts, err := h.feed.Recent(ctx, replayCount)
	if err != nil {
		h.logger.Warn("alert replay failed", slog.String("error", err.Error()))
		return
	}

	for _, alert := range alerts {
		if severityRank[alert.Severity] < c.minSeverity {
			continue
		}
		data, err := json.Marshal(alert)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			return // buffer full, the client will catch up live
		}
	}
}

// readLoop discards client messages and detects disconnects.
func (c *client) readLoop() {
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
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop pushes queued messages and periodic pings to the client.
func (c *client) writeLoop() {
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
