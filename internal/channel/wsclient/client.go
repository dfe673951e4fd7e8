// Package wsclient is a channel backend that talks to the gateway over a
// WebSocket. Connect returns immediately with a pending connection; the
// dial happens in the background and Ready is closed when it finishes.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/channel/wire"
)

const (
	dialTimeout = 10 * time.Second
	writeWait   = 10 * time.Second

	// dispatchBuffer holds pushed frames waiting for their handlers.
	dispatchBuffer = 256
)

// Provider connects to the gateway at URL, e.g. "ws://localhost:8080/ws".
type Provider struct {
	URL    string
	Dialer *websocket.Dialer
	Logger zerolog.Logger
}

// Connect starts dialing and returns the pending connection.
func (p *Provider) Connect(ctx context.Context, creds channel.Credentials) (channel.Connection, error) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	query := u.Query()
	query.Set("client_id", creds.ClientID)
	if creds.Key != "" {
		query.Set("key", creds.Key)
	}
	u.RawQuery = query.Encode()

	dialer := p.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	c := &Conn{
		clientID: creds.ClientID,
		logger:   p.Logger.With().Str("component", "wsclient").Logger(),
		state:    channel.StatePending,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		dispatch: make(chan func(), dispatchBuffer),
		pending:  make(map[string]chan wire.Frame),
		handlers: make(map[string]map[int]channel.Handler),
		presence: make(map[string]map[int]channel.PresenceHandler),
	}
	go c.dial(dialer, u.String())
	go c.runDispatch()
	return c, nil
}

// Conn is a gateway connection.
type Conn struct {
	clientID string
	logger   zerolog.Logger

	ws      *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	state    channel.State
	err      error
	ready    chan struct{}
	done     chan struct{}
	nextID   int
	pending  map[string]chan wire.Frame
	handlers map[string]map[int]channel.Handler
	presence map[string]map[int]channel.PresenceHandler

	dispatch chan func()
}

func (c *Conn) dial(dialer *websocket.Dialer, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	ws, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dial failed")
		c.shutdown(channel.StateFailed, fmt.Errorf("gateway dial failed: %w", err))
		return
	}

	c.mu.Lock()
	if c.state != channel.StatePending {
		// Closed while dialing
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.state = channel.StateConnected
	close(c.ready)
	c.mu.Unlock()

	c.readLoop()
}

func (c *Conn) readLoop() {
	defer c.shutdown(channel.StateFailed, errors.New("gateway connection lost"))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("skipping undecodable frame")
			continue
		}
		c.route(frame)
	}
}

func (c *Conn) route(frame wire.Frame) {
	switch frame.Action {
	case wire.ActionAck, wire.ActionError:
		c.mu.Lock()
		reply, ok := c.pending[frame.ID]
		delete(c.pending, frame.ID)
		c.mu.Unlock()
		if ok {
			reply <- frame
		}

	case wire.ActionMessage:
		if frame.Event == nil {
			return
		}
		ev := *frame.Event
		c.mu.Lock()
		handlers := make([]channel.Handler, 0, len(c.handlers[frame.Channel]))
		for _, h := range c.handlers[frame.Channel] {
			handlers = append(handlers, h)
		}
		c.mu.Unlock()
		c.enqueue(func() {
			for _, h := range handlers {
				h(ev)
			}
		})

	case wire.ActionPresence:
		if frame.Presence == nil {
			return
		}
		msg := *frame.Presence
		c.mu.Lock()
		handlers := make([]channel.PresenceHandler, 0, len(c.presence[frame.Channel]))
		for _, h := range c.presence[frame.Channel] {
			handlers = append(handlers, h)
		}
		c.mu.Unlock()
		c.enqueue(func() {
			for _, h := range handlers {
				h(msg)
			}
		})

	case wire.ActionConnected:
		c.logger.Debug().Str("client_id", frame.ClientID).Msg("gateway session started")
	}
}

// enqueue hands work to the dispatch goroutine so handlers never run on
// the read loop and may issue requests themselves.
func (c *Conn) enqueue(fn func()) {
	select {
	case c.dispatch <- fn:
	case <-c.done:
	}
}

func (c *Conn) runDispatch() {
	for {
		select {
		case fn := <-c.dispatch:
			fn()
		case <-c.done:
			return
		}
	}
}

// shutdown moves the connection to its final state, fails every
// in-flight request and stops handler dispatch. Only the first call
// takes effect, except that an explicit Close always ends in StateClosed.
func (c *Conn) shutdown(state channel.State, cause error) {
	c.mu.Lock()
	select {
	case <-c.done:
		if state == channel.StateClosed {
			c.state = channel.StateClosed
		}
		c.mu.Unlock()
		return
	default:
	}
	close(c.done)
	if c.state == channel.StatePending {
		close(c.ready)
	}
	c.state = state
	if state == channel.StateFailed {
		c.err = cause
	}
	pending := c.pending
	c.pending = make(map[string]chan wire.Frame)
	ws := c.ws
	c.mu.Unlock()

	for id, reply := range pending {
		reply <- wire.Error(id, channel.ErrClosed)
	}
	if ws != nil {
		ws.Close()
	}
}

func (c *Conn) ClientID() string { return c.clientID }

func (c *Conn) State() channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Ready() <-chan struct{} { return c.ready }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Channel(name string) channel.Channel {
	return &wsChannel{conn: c, name: name}
}

// Close ends the session. The gateway leaves presence on our behalf.
func (c *Conn) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		c.writeMu.Lock()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
	}
	c.shutdown(channel.StateClosed, channel.ErrClosed)
	return nil
}

func (c *Conn) check() error {
	switch c.State() {
	case channel.StateConnected:
		return nil
	case channel.StatePending:
		return channel.ErrNotReady
	case channel.StateFailed:
		if err := c.Err(); err != nil {
			return err
		}
	}
	return channel.ErrClosed
}

// request sends frame and waits for its ack.
func (c *Conn) request(ctx context.Context, frame wire.Frame) (wire.Frame, error) {
	if err := c.check(); err != nil {
		return wire.Frame{}, err
	}

	reply := make(chan wire.Frame, 1)
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return wire.Frame{}, channel.ErrClosed
	default:
	}
	c.nextID++
	frame.ID = strconv.Itoa(c.nextID)
	c.pending[frame.ID] = reply
	c.mu.Unlock()

	data, err := json.Marshal(frame)
	if err != nil {
		c.forget(frame.ID)
		return wire.Frame{}, fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(frame.ID)
		return wire.Frame{}, fmt.Errorf("failed to send %s: %w", frame.Action, err)
	}

	select {
	case resp := <-reply:
		if resp.Action == wire.ActionError {
			if resp.Error == channel.ErrClosed.Error() {
				return resp, channel.ErrClosed
			}
			return resp, fmt.Errorf("gateway: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(frame.ID)
		return wire.Frame{}, ctx.Err()
	}
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) addHandler(name string, h channel.Handler) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	first := len(c.handlers[name]) == 0
	if c.handlers[name] == nil {
		c.handlers[name] = make(map[int]channel.Handler)
	}
	c.nextID++
	c.handlers[name][c.nextID] = h
	return c.nextID, first
}

func (c *Conn) removeHandler(name string, key int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[name][key]; !ok {
		return false
	}
	delete(c.handlers[name], key)
	if len(c.handlers[name]) == 0 {
		delete(c.handlers, name)
		return true
	}
	return false
}

func (c *Conn) addPresenceHandler(name string, h channel.PresenceHandler) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	first := len(c.presence[name]) == 0
	if c.presence[name] == nil {
		c.presence[name] = make(map[int]channel.PresenceHandler)
	}
	c.nextID++
	c.presence[name][c.nextID] = h
	return c.nextID, first
}

func (c *Conn) removePresenceHandler(name string, key int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.presence[name][key]; !ok {
		return false
	}
	delete(c.presence[name], key)
	if len(c.presence[name]) == 0 {
		delete(c.presence, name)
		return true
	}
	return false
}
