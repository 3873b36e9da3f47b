package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polypulse/polypulse/internal/domain"
)

const (
	// defaultWSURL is the public CLOB market-data feed.
	defaultWSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before reconnecting.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// BookHandler receives every full orderbook snapshot pushed on the "book"
// channel. Handlers run on the read loop goroutine and must not block.
type BookHandler func(domain.OrderBookSnapshot)

// WSClient streams live orderbook snapshots from the CLOB market WebSocket.
// It reconnects with exponential backoff and restores subscriptions after a
// drop.
type WSClient struct {
	wsURL string

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	// Asset IDs to resubscribe after reconnect.
	assets []string

	handlerMu sync.RWMutex
	handlers  []BookHandler

	done chan struct{}
}

// NewWSClient creates a WebSocket client. An empty wsURL selects the
// production market feed.
func NewWSClient(wsURL string) *WSClient {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops. Subscriptions from a previous connection are restored.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: client closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	if len(w.assets) > 0 {
		if err := w.sendCommand(WSCommand{Type: "subscribe", Assets: w.assets}); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to book updates for the given outcome tokens.
func (w *WSClient) Subscribe(tokenIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	if err := w.sendCommand(WSCommand{Type: "subscribe", Assets: tokenIDs}); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	seen := make(map[string]struct{}, len(w.assets))
	for _, a := range w.assets {
		seen[a] = struct{}{}
	}
	for _, id := range tokenIDs {
		if _, ok := seen[id]; !ok {
			w.assets = append(w.assets, id)
		}
	}
	return nil
}

// Unsubscribe stops book updates for the given outcome tokens.
func (w *WSClient) Unsubscribe(tokenIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	if err := w.sendCommand(WSCommand{Type: "unsubscribe", Assets: tokenIDs}); err != nil {
		return fmt.Errorf("polymarket/ws: unsubscribe: %w", err)
	}

	drop := make(map[string]struct{}, len(tokenIDs))
	for _, id := range tokenIDs {
		drop[id] = struct{}{}
	}
	remaining := w.assets[:0]
	for _, a := range w.assets {
		if _, ok := drop[a]; !ok {
			remaining = append(remaining, a)
		}
	}
	w.assets = remaining
	return nil
}

// OnBook registers a handler for orderbook snapshots.
func (w *WSClient) OnBook(h BookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Close shuts down the connection and stops all loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// sendCommand sends a JSON command. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads messages until the connection drops, then reconnects.
func (w *WSClient) readLoop() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop keeps the connection alive with periodic pings.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches "book" events to the registered handlers. The
// feed delivers events both singly and in JSON arrays. Other event types
// and unparseable frames are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		batch = []json.RawMessage{raw}
	}

	for _, item := range batch {
		var envelope struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(item, &envelope); err != nil {
			continue
		}
		if envelope.EventType != "book" {
			continue
		}

		var book BookMessage
		if err := json.Unmarshal(item, &book); err != nil {
			continue
		}
		snap := book.ToSnapshot()

		w.handlerMu.RLock()
		handlers := w.handlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(snap)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
