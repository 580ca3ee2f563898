package events

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
)

const (
	clientBuffer = 64
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The management API key check runs before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hubClient is one websocket subscriber. prefix filters event types.
type hubClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	prefix string
}

// Hub streams bus events to websocket clients. Slow clients lose events
// instead of blocking the bus.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*hubClient
	logger  *logging.ColoredLogger
}

// NewHub creates a hub; attach it with bus.Subscribe(hub.Handle).
func NewHub(logger *logging.ColoredLogger) *Hub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Hub{clients: map[string]*hubClient{}, logger: logger}
}

// Handle is a bus Subscriber.
func (h *Hub) Handle(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.ComponentWarn(logging.ComponentEvents, "Failed to encode event", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.prefix != "" && !strings.HasPrefix(e.Type, c.prefix) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.ComponentDebug(logging.ComponentEvents, "Dropping event for slow client",
				zap.String("client_id", c.id), zap.String("type", e.Type))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. The optional "type" query parameter filters by event type prefix.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.ComponentWarn(logging.ComponentEvents, "Websocket upgrade failed", zap.Error(err))
		return
	}
	c := &hubClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
		prefix: r.URL.Query().Get("type"),
	}
	h.register(c)
	defer h.unregister(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Reads only detect the close; clients do not send anything.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.ComponentDebug(logging.ComponentEvents, "Event stream client connected",
		zap.String("client_id", c.id), zap.Int("clients", n))
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	_ = c.conn.Close()
}
