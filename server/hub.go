package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nedpals/nfcard/nfc"
)

// writeTimeout bounds one write to a peer that stopped reading.
const writeTimeout = 5 * time.Second

// client wraps a connection so writes from the hub and from request handlers
// never interleave.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn}
}

func (c *client) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *client) Close() error { return c.conn.Close() }

// Hub fans out reports and device status to consumer connections and keeps
// the last report for late joiners.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool

	lastMu     sync.RWMutex
	lastReport *nfc.TagReport

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*client]bool),
		logger:  logger,
	}
}

// Add registers c and sends it the last report, if any.
func (h *Hub) Add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	if report := h.LastReport(); report != nil {
		if err := c.WriteJSON(Message{Type: TypeTagReport, Payload: report}); err != nil {
			h.logger.Debug("Failed to send last report", zap.Error(err))
		}
	}
}

func (h *Hub) Remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) LastReport() *nfc.TagReport {
	h.lastMu.RLock()
	defer h.lastMu.RUnlock()
	return h.lastReport
}

// BroadcastReport records report as the last one and pushes it to every
// consumer.
func (h *Hub) BroadcastReport(report *nfc.TagReport) {
	if report == nil {
		return
	}
	h.lastMu.Lock()
	h.lastReport = report
	h.lastMu.Unlock()

	h.broadcast(Message{Type: TypeTagReport, Payload: report})
}

func (h *Hub) BroadcastDeviceStatus(status DeviceStatus) {
	h.broadcast(Message{Type: TypeDeviceStatus, Payload: status})
}

// broadcast writes msg to every consumer in parallel without holding the
// client set, so a slow consumer only delays itself.
func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := c.WriteJSON(msg); err != nil {
				h.logger.Warn("WebSocket write error", zap.Error(err))
				c.Close()
				h.Remove(c)
			}
		}(c)
	}
	wg.Wait()
}

// CloseAll closes every consumer connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.Close()
		delete(h.clients, c)
	}
}
