package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"absensi/internal/attendance"
	"absensi/internal/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60

	// EventChanged tells views to refetch the collection.
	EventChanged = "absensi_changed"
)

// ChangePayload is the data of an EventChanged message.
type ChangePayload struct {
	Count    int    `json:"count"`
	Op       string `json:"op,omitempty"`
	External bool   `json:"external"`
}

// Hub fans messages out to every connected view.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	metrics.WSClients.Inc()
	h.logger.Debug("view connected", zap.String("client_id", c.ID))
}

// Unregister removes a client and closes its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	if ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		metrics.WSClients.Dec()
		h.logger.Debug("view disconnected", zap.String("client_id", c.ID))
	}
}

// Count reports connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends event to every client. Slow clients miss messages rather
// than block the sender.
func (h *Hub) Broadcast(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("marshal ws payload", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// NotifyChange is an attendance.Listener that forwards store events.
func (h *Hub) NotifyChange(ev attendance.Event) {
	p := ChangePayload{Count: ev.Records, External: ev.External}
	if ev.Op != 0 {
		p.Op = ev.Op.String()
	}
	h.Broadcast(EventChanged, p)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
		metrics.WSClients.Dec()
	}
	h.mu.Unlock()
}
