// Package websocket is the channel gateway: it exposes a channel.Provider
// to browsers and CLI clients over a WebSocket speaking wire frames.
package websocket

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/channel/wire"
	"github.com/adi-253/roomfeed/backend/internal/identity"
)

// connectTimeout bounds how long a socket waits for its backend connection
const connectTimeout = 10 * time.Second

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub      *Hub
	provider channel.Provider
	apiKey   string
	logger   zerolog.Logger
}

// NewHandler creates a new gateway handler. An empty apiKey disables the
// key check.
func NewHandler(hub *Hub, provider channel.Provider, apiKey string, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		provider: provider,
		apiKey:   apiKey,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// ServeWS handles WebSocket upgrade requests at /ws
// Query params: client_id (identity token), key
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		http.Error(w, "client_id required", http.StatusBadRequest)
		return
	}
	if _, err := identity.Decode(clientID); err != nil {
		http.Error(w, "invalid client_id", http.StatusBadRequest)
		return
	}

	if h.apiKey != "" {
		key := r.URL.Query().Get("key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
			http.Error(w, "invalid key", http.StatusUnauthorized)
			return
		}
	}

	// The backend connection outlives the upgrade request
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	backend, err := h.provider.Connect(ctx, channel.Credentials{ClientID: clientID})
	if err != nil {
		h.logger.Error().Err(err).Msg("backend connect failed")
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := channel.WaitReady(ctx, backend); err != nil {
		backend.Close()
		h.logger.Error().Err(err).Msg("backend not ready")
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		backend.Close()
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	// Create client and register with hub
	client := NewClient(h.hub, conn, backend, h.logger)
	if !h.hub.add(client) {
		conn.Close()
		backend.Close()
		return
	}
	client.push(wire.Frame{Action: wire.ActionConnected, ClientID: clientID})

	// Start read/write pumps in separate goroutines
	go client.WritePump()
	go client.ReadPump()
}
