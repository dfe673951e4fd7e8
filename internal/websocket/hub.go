package websocket

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/metrics"
)

// Hub maintains the set of gateway clients, grouped by client id.
// Fan-out itself is done by the channel backend; the hub only tracks who
// is connected so sessions can be counted and shut down together.
type Hub struct {
	// clients maps client id to that identity's open sockets
	clients map[string]map[*Client]bool

	// register requests from clients
	register chan *Client

	// unregister requests from clients
	unregister chan *Client

	// stopped is closed when Run returns
	stopped chan struct{}

	// mutex for thread-safe client lookups
	mu sync.RWMutex

	logger zerolog.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main event loop.
// This should be called in a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// add hands a client to the hub loop; it reports false once the hub has stopped
func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// registerClient adds a client under its client id
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.ClientID] == nil {
		h.clients[client.ClientID] = make(map[*Client]bool)
	}
	h.clients[client.ClientID][client] = true
	metrics.GatewayConnections.Inc()

	h.logger.Info().
		Str("client_id", client.ClientID).
		Int("sockets", len(h.clients[client.ClientID])).
		Msg("client connected")
}

// unregisterClient removes a client
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sockets, ok := h.clients[client.ClientID]
	if !ok || !sockets[client] {
		return
	}
	delete(sockets, client)
	metrics.GatewayConnections.Dec()
	if len(sockets) == 0 {
		delete(h.clients, client.ClientID)
	}

	h.logger.Info().
		Str("client_id", client.ClientID).
		Int("sockets", len(sockets)).
		Msg("client disconnected")
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	var all []*Client
	for _, sockets := range h.clients {
		for client := range sockets {
			all = append(all, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range all {
		client.stop()
	}
}

// ClientCount returns the number of open sockets
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sockets := range h.clients {
		n += len(sockets)
	}
	return n
}

// SocketsFor returns how many sockets a client id has open
func (h *Hub) SocketsFor(clientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[clientID])
}
