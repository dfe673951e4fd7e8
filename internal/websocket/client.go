package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/channel/wire"
	"github.com/adi-253/roomfeed/backend/internal/metrics"
	"github.com/adi-253/roomfeed/backend/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Time allowed for a single backend operation
	opTimeout = 10 * time.Second
)

// Client is one gateway socket and the backend connection it drives.
type Client struct {
	hub *Hub

	// WebSocket connection
	conn *websocket.Conn

	// Buffered channel of outbound frames
	send chan []byte

	// done is closed when the client stops
	done     chan struct{}
	stopOnce sync.Once

	// ClientID is the identity token the socket connected with
	ClientID string

	backend channel.Connection
	logger  zerolog.Logger

	mu       sync.Mutex
	attached map[string]channel.Subscription
	watching map[string]channel.Subscription
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, backend channel.Connection, logger zerolog.Logger) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		ClientID: backend.ClientID(),
		backend:  backend,
		logger:   logger.With().Str("client_id", backend.ClientID()).Logger(),
		attached: make(map[string]channel.Subscription),
		watching: make(map[string]channel.Subscription),
	}
}

// ReadPump reads request frames from the socket and answers each one.
// This runs in its own goroutine per client
func (c *Client) ReadPump() {
	defer func() {
		c.hub.remove(c)
		c.stop()
		c.release()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.push(wire.Error("", fmt.Errorf("invalid frame: %w", err)))
			continue
		}
		metrics.GatewayFrames.WithLabelValues(string(frame.Action)).Inc()

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		reply := c.handle(ctx, frame)
		cancel()
		c.push(reply)
	}
}

// WritePump pumps frames from the send queue to the WebSocket connection
// This runs in its own goroutine per client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// Send each frame as a separate WebSocket message
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handle executes one request frame against the backend.
func (c *Client) handle(ctx context.Context, frame wire.Frame) wire.Frame {
	if frame.Channel == "" {
		return wire.Error(frame.ID, fmt.Errorf("%s: channel is required", frame.Action))
	}
	ch := c.backend.Channel(frame.Channel)

	switch frame.Action {
	case wire.ActionAttach:
		return c.attach(ctx, frame, ch)

	case wire.ActionDetach:
		c.mu.Lock()
		sub, ok := c.attached[frame.Channel]
		delete(c.attached, frame.Channel)
		c.mu.Unlock()
		if ok {
			sub.Unsubscribe()
		}
		return wire.Ack(frame.ID)

	case wire.ActionPublish:
		if len(frame.Data) == 0 {
			return wire.Error(frame.ID, fmt.Errorf("publish: data is required"))
		}
		if err := ch.Publish(ctx, frame.Name, frame.Data); err != nil {
			metrics.ActivityPublishFailures.Inc()
			return wire.Error(frame.ID, err)
		}
		c.countActivity(frame)
		return wire.Ack(frame.ID)

	case wire.ActionHistory:
		page, err := ch.History(ctx, frame.Limit)
		if err != nil {
			return wire.Error(frame.ID, err)
		}
		reply := wire.Ack(frame.ID)
		reply.Page = page
		return reply

	case wire.ActionPresenceEnter:
		if err := ch.Presence().Enter(ctx); err != nil {
			return wire.Error(frame.ID, err)
		}
		return wire.Ack(frame.ID)

	case wire.ActionPresenceLeave:
		if err := ch.Presence().Leave(ctx); err != nil {
			return wire.Error(frame.ID, err)
		}
		return wire.Ack(frame.ID)

	case wire.ActionPresenceGet:
		members, err := ch.Presence().Get(ctx)
		if err != nil {
			return wire.Error(frame.ID, err)
		}
		reply := wire.Ack(frame.ID)
		reply.Members = members
		return reply

	case wire.ActionPresenceAttach:
		return c.watchPresence(ctx, frame, ch)

	case wire.ActionPresenceDetach:
		c.mu.Lock()
		sub, ok := c.watching[frame.Channel]
		delete(c.watching, frame.Channel)
		c.mu.Unlock()
		if ok {
			sub.Unsubscribe()
		}
		return wire.Ack(frame.ID)
	}

	return wire.Error(frame.ID, fmt.Errorf("unknown action %q", frame.Action))
}

func (c *Client) attach(ctx context.Context, frame wire.Frame, ch channel.Channel) wire.Frame {
	c.mu.Lock()
	_, ok := c.attached[frame.Channel]
	c.mu.Unlock()
	if ok {
		return wire.Ack(frame.ID)
	}

	name := frame.Channel
	sub, err := ch.Subscribe(ctx, func(ev channel.Event) {
		c.push(wire.Frame{Action: wire.ActionMessage, Channel: name, Event: &ev})
	})
	if err != nil {
		return wire.Error(frame.ID, err)
	}

	c.mu.Lock()
	if _, raced := c.attached[name]; raced {
		c.mu.Unlock()
		sub.Unsubscribe()
		return wire.Ack(frame.ID)
	}
	c.attached[name] = sub
	c.mu.Unlock()
	return wire.Ack(frame.ID)
}

func (c *Client) watchPresence(ctx context.Context, frame wire.Frame, ch channel.Channel) wire.Frame {
	c.mu.Lock()
	_, ok := c.watching[frame.Channel]
	c.mu.Unlock()
	if ok {
		return wire.Ack(frame.ID)
	}

	name := frame.Channel
	sub, err := ch.Presence().Subscribe(ctx, func(msg channel.PresenceMessage) {
		c.push(wire.Frame{Action: wire.ActionPresence, Channel: name, Presence: &msg})
	})
	if err != nil {
		return wire.Error(frame.ID, err)
	}

	c.mu.Lock()
	if _, raced := c.watching[name]; raced {
		c.mu.Unlock()
		sub.Unsubscribe()
		return wire.Ack(frame.ID)
	}
	c.watching[name] = sub
	c.mu.Unlock()
	return wire.Ack(frame.ID)
}

// countActivity records activity messages published through the gateway.
func (c *Client) countActivity(frame wire.Frame) {
	if !strings.HasSuffix(frame.Channel, ":activity") {
		return
	}
	var msg models.ActivityMessage
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		return
	}
	metrics.ActivityPublished.WithLabelValues(string(msg.Payload.Type()), "gateway").Inc()
}

// push queues a frame for the socket. A client whose queue is full is
// disconnected rather than allowed to stall the backend.
func (c *Client) push(frame wire.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal frame")
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.logger.Warn().Msg("send buffer full, disconnecting")
		c.stop()
	}
}

func (c *Client) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

// release drops subscriptions and closes the backend connection, which
// leaves every presence set the socket entered.
func (c *Client) release() {
	c.mu.Lock()
	subs := make([]channel.Subscription, 0, len(c.attached)+len(c.watching))
	for _, sub := range c.attached {
		subs = append(subs, sub)
	}
	for _, sub := range c.watching {
		subs = append(subs, sub)
	}
	c.attached = make(map[string]channel.Subscription)
	c.watching = make(map[string]channel.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if err := c.backend.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("failed to close backend connection")
	}
}
