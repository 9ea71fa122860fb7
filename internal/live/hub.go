// Package live streams station availability changes to browsers over
// WebSockets so the map can update without polling.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iliyamo/evee/internal/model"
)

// Message types sent to subscribers.
const (
	TypeAvailability = "availability"
	TypeDeleted      = "deleted"
)

// Message is one frame of the live feed.
type Message struct {
	Type      string `json:"type"`
	StationID uint64 `json:"stationId"`
	Available *int   `json:"available,omitempty"`
	Total     *int   `json:"total,omitempty"`
}

// MessageFor converts a committed station change into a feed message.
func MessageFor(change model.StationChange) Message {
	if change.Deleted {
		return Message{Type: TypeDeleted, StationID: change.StationID}
	}
	available, total := change.Availability.Available, change.Availability.Total
	return Message{Type: TypeAvailability, StationID: change.StationID, Available: &available, Total: &total}
}

// Hub tracks live feed subscribers and fans station changes out to all
// of them.
type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	pingInterval time.Duration
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// NewHub builds a hub.  allowOrigin decides which browser origins may
// subscribe; nil accepts every origin.
func NewHub(pingInterval time.Duration, allowOrigin func(origin string) bool, logger *zap.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	h := &Hub{
		clients:      make(map[*Client]struct{}),
		pingInterval: pingInterval,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowOrigin == nil {
				return true
			}
			return allowOrigin(origin)
		},
	}
	return h
}

// StationChanged broadcasts change to every subscriber.  Slow
// subscribers drop the message instead of blocking the caller.
func (h *Hub) StationChanged(_ context.Context, change model.StationChange) {
	payload, err := json.Marshal(MessageFor(change))
	if err != nil {
		h.logger.Warn("live: marshal message failed", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.Send(payload)
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// ServeHTTP upgrades the request and subscribes the connection until
// either side closes it or Shutdown is called.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("live: websocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(conn, h.pingInterval, h.writeTimeout, h.logger, h.remove)
	h.add(client)
	h.logger.Debug("live: subscriber connected", zap.String("remote", r.RemoteAddr))
	go client.start()
}

// Shutdown disconnects every subscriber.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}
