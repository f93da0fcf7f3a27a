package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/funnyzak/mocktap/internal/logger"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// wsClient serializes writes; gorilla connections allow one writer at a time.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func (c *wsClient) write(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(messageType, payload)
}

// WebsocketHub fans hit events out to live connections.
type WebsocketHub struct {
	logger  logger.Logger
	clients map[*wsClient]struct{}
	mu      sync.RWMutex

	upgrader websocket.Upgrader
}

// NewWebsocketHub creates a new hub.
func NewWebsocketHub(log logger.Logger) *WebsocketHub {
	return &WebsocketHub{
		logger:  log,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Upgrade upgrades the HTTP connection to WebSocket.
func (h *WebsocketHub) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	h.register(conn)
	return conn, nil
}

// Clients returns the number of live connections.
func (h *WebsocketHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebsocketHub) register(conn *websocket.Conn) {
	client := &wsClient{conn: conn, done: make(chan struct{})}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.readLoop(client)
	go h.pingLoop(client)
}

// readLoop discards inbound frames and notices when the peer goes away.
func (h *WebsocketHub) readLoop(client *wsClient) {
	defer h.unregister(client)

	conn := client.conn
	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebsocketHub) pingLoop(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			return
		case <-ticker.C:
			if err := client.write(websocket.PingMessage, nil); err != nil {
				h.unregister(client)
				return
			}
		}
	}
}

func (h *WebsocketHub) unregister(client *wsClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	client.once.Do(func() {
		close(client.done)
		client.conn.Close()
	})
}

// Broadcast sends event to all active connections.
func (h *WebsocketHub) Broadcast(event interface{}) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal websocket payload", "error", err)
		return
	}

	for _, client := range clients {
		if err := client.write(websocket.TextMessage, payload); err != nil {
			h.logger.Warn("Failed to write to websocket client", "error", err)
			h.unregister(client)
		}
	}
}

// Close terminates all connections.
func (h *WebsocketHub) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		client.once.Do(func() {
			close(client.done)
			client.conn.Close()
		})
	}
}
