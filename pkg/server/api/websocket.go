package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StrathCole/settlement-pricer/pkg/logging"
	"github.com/StrathCole/settlement-pricer/pkg/server/settlement"
	"github.com/StrathCole/settlement-pricer/pkg/server/store"
)

// WebSocketServer streams accepted settlement prices to connected clients.
type WebSocketServer struct {
	addr     string
	logger   *logging.Logger
	upgrader websocket.Upgrader

	// Client management
	mu      sync.RWMutex
	clients map[*WebSocketClient]bool

	updates chan settlement.Submission

	// Server control
	ctx    context.Context
	cancel context.CancelFunc
}

var _ settlement.Listener = (*WebSocketServer)(nil)

// WebSocketClient represents a connected WebSocket client.
type WebSocketClient struct {
	conn             *websocket.Conn
	send             chan []byte
	server           *WebSocketServer
	subscribedAll    bool
	subscribedAssets map[string]bool
	mu               sync.RWMutex
}

// WebSocketMessage represents a client message.
type WebSocketMessage struct {
	Type   string   `json:"type"`   // "subscribe", "unsubscribe", "ping"
	Assets []string `json:"assets"` // assets to (un)subscribe; empty or "*" means all
}

// SettlementMessage is sent to clients for every accepted settlement.
type SettlementMessage struct {
	Type       string         `json:"type"`      // "settlement"
	Timestamp  string         `json:"timestamp"` // ISO 8601 timestamp
	Settlement SettlementData `json:"settlement"`
}

// SettlementData is one forwarded price.
type SettlementData struct {
	Asset        string `json:"asset"`
	Expiry       int64  `json:"expiry"`
	Price        string `json:"price"`
	Decimals     uint8  `json:"decimals"`
	PriceDecimal string `json:"price_decimal"`
	Kind         string `json:"kind"`
	Source       string `json:"source,omitempty"`
}

// NewWebSocketServer creates a new WebSocket server and starts its broadcast loop.
func NewWebSocketServer(addr string, logger *logging.Logger) *WebSocketServer {
	ctx, cancel := context.WithCancel(context.Background())

	s := &WebSocketServer{
		addr:   addr,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				// Allow all origins (configure CORS as needed)
				return true
			},
		},
		clients: make(map[*WebSocketClient]bool),
		updates: make(chan settlement.Submission, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
	go s.broadcastUpdates()
	return s
}

// Handler returns the /ws route on its own mux.
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start serves /ws on the configured address until Stop is called.
func (s *WebSocketServer) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting WebSocket server", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", "error", err)
			errCh <- err
		}
	}()

	select {
	case <-s.ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown with timeout based on parent context
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Stop stops the WebSocket server and its broadcast loop.
func (s *WebSocketServer) Stop() {
	s.cancel()
}

// OnSettlement queues a settlement for broadcast.
func (s *WebSocketServer) OnSettlement(sub settlement.Submission) {
	select {
	case s.updates <- sub:
	case <-time.After(100 * time.Millisecond):
		s.logger.Warn("Update channel full, dropping settlement", "asset", sub.Asset)
	}
}

// ClientCount returns the number of connected clients.
func (s *WebSocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// handleWebSocket handles new WebSocket connections.
func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &WebSocketClient{
		conn:             conn,
		send:             make(chan []byte, 256),
		server:           s,
		subscribedAll:    true, // Subscribe to all by default
		subscribedAssets: make(map[string]bool),
	}

	s.registerClient(client)

	go client.writePump()
	go client.readPump()

	s.logger.Info("New WebSocket client connected", "remote", conn.RemoteAddr())
}

func (s *WebSocketServer) registerClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
}

func (s *WebSocketServer) unregisterClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

func (s *WebSocketServer) broadcastUpdates() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case sub := <-s.updates:
			s.broadcast(sub)
		}
	}
}

// broadcast sends a settlement to all subscribed clients.
func (s *WebSocketServer) broadcast(sub settlement.Submission) {
	message := SettlementMessage{
		Type:      "settlement",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Settlement: SettlementData{
			Asset:        sub.Asset,
			Expiry:       sub.Expiry.Unix(),
			Price:        sub.Price.String(),
			Decimals:     sub.Decimals,
			PriceDecimal: humanPrice(sub.Price, sub.Decimals),
			Kind:         sub.Kind,
			Source:       sub.Source,
		},
	}

	data, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("Failed to marshal settlement", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		if client.shouldReceive(sub.Asset) {
			select {
			case client.send <- data:
			default:
				s.logger.Warn("Client send buffer full, skipping update")
			}
		}
	}
}

// writePump sends messages to the WebSocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.server.unregisterClient(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes client messages.
func (c *WebSocketClient) handleMessage(data []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.server.logger.Warn("Invalid client message", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Assets)
	case "unsubscribe":
		c.unsubscribe(msg.Assets)
	case "ping":
		c.sendPong()
	default:
		c.server.logger.Warn("Unknown message type", "type", msg.Type)
	}
}

func allAssets(assets []string) bool {
	return len(assets) == 0 || (len(assets) == 1 && assets[0] == "*")
}

func (c *WebSocketClient) subscribe(assets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if allAssets(assets) {
		c.subscribedAll = true
		c.subscribedAssets = make(map[string]bool)
	} else {
		c.subscribedAll = false
		for _, asset := range assets {
			c.subscribedAssets[store.CanonicalAsset(asset)] = true
		}
	}

	c.server.logger.Debug("Client subscribed", "assets", assets)
}

func (c *WebSocketClient) unsubscribe(assets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if allAssets(assets) {
		c.subscribedAll = false
		c.subscribedAssets = make(map[string]bool)
	} else {
		for _, asset := range assets {
			delete(c.subscribedAssets, store.CanonicalAsset(asset))
		}
	}

	c.server.logger.Debug("Client unsubscribed", "assets", assets)
}

func (c *WebSocketClient) shouldReceive(asset string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribedAll || c.subscribedAssets[asset]
}

// sendPong sends a pong response.
func (c *WebSocketClient) sendPong() {
	pong := map[string]string{"type": "pong"}
	data, _ := json.Marshal(pong)
	select {
	case c.send <- data:
	default:
	}
}
