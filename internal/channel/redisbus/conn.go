package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/adi-253/roomfeed/backend/internal/channel"
)

// Conn is one client's view of the bus. Each Conn has its own id so two
// connections of the same client are tracked as separate presence entries.
type Conn struct {
	bus      *Bus
	clientID string
	connID   string
	ready    chan struct{}

	mu      sync.Mutex
	state   channel.State
	cleanup []func()
	entered map[string]struct{}
}

func (c *Conn) ClientID() string { return c.clientID }

func (c *Conn) State() channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Ready() <-chan struct{} { return c.ready }

func (c *Conn) Err() error { return nil }

func (c *Conn) Channel(name string) channel.Channel {
	return &busChannel{conn: c, name: name}
}

// Close drops the connection's subscriptions and presence entries.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == channel.StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = channel.StateClosed
	cleanup := c.cleanup
	c.cleanup = nil
	entered := c.entered
	c.entered = make(map[string]struct{})
	c.mu.Unlock()

	for _, fn := range cleanup {
		fn()
	}

	ctx := context.Background()
	for name := range entered {
		if err := c.bus.leave(ctx, name, c.clientID, c.connID); err != nil {
			c.bus.logger.Warn().Err(err).Str("channel", name).Msg("failed to leave presence on close")
		}
	}
	return nil
}

func (c *Conn) check() error {
	if c.State() == channel.StateClosed {
		return channel.ErrClosed
	}
	return nil
}

func (c *Conn) track(unsub func()) channel.Subscription {
	var once sync.Once
	stop := func() { once.Do(unsub) }

	c.mu.Lock()
	c.cleanup = append(c.cleanup, stop)
	c.mu.Unlock()
	return channel.SubscriptionFunc(stop)
}

type busChannel struct {
	conn *Conn
	name string
}

func (ch *busChannel) Name() string { return ch.name }

func (ch *busChannel) Publish(ctx context.Context, name string, data any) error {
	if err := ch.conn.check(); err != nil {
		return err
	}
	raw, err := channel.Encode(data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	return ch.conn.bus.publish(ctx, channel.Event{
		ID:        ulid.Make().String(),
		Channel:   ch.name,
		Name:      name,
		ClientID:  ch.conn.clientID,
		Data:      raw,
		Timestamp: ch.conn.bus.now().UTC(),
	})
}

func (ch *busChannel) Subscribe(ctx context.Context, handler channel.Handler) (channel.Subscription, error) {
	if err := ch.conn.check(); err != nil {
		return nil, err
	}
	logger := ch.conn.bus.logger
	unsub, err := ch.conn.bus.subscribeRaw(ctx, eventsKey(ch.name), func(payload string) {
		var ev channel.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			logger.Warn().Err(err).Str("channel", ch.name).Msg("skipping undecodable event")
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, err
	}
	return ch.conn.track(unsub), nil
}

func (ch *busChannel) History(ctx context.Context, limit int) (*channel.Page, error) {
	if err := ch.conn.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = ch.conn.bus.historyLimit
	}
	return ch.conn.bus.history(ctx, ch.name, limit)
}

func (ch *busChannel) Presence() channel.Presence {
	return &busPresence{ch: ch}
}

type busPresence struct {
	ch *busChannel
}

func (p *busPresence) Enter(ctx context.Context) error {
	c := p.ch.conn
	if err := c.check(); err != nil {
		return err
	}
	if err := c.bus.enter(ctx, p.ch.name, c.clientID, c.connID); err != nil {
		return err
	}
	c.mu.Lock()
	c.entered[p.ch.name] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (p *busPresence) Leave(ctx context.Context) error {
	c := p.ch.conn
	if err := c.check(); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.entered, p.ch.name)
	c.mu.Unlock()
	return c.bus.leave(ctx, p.ch.name, c.clientID, c.connID)
}

func (p *busPresence) Get(ctx context.Context) ([]channel.PresenceMessage, error) {
	if err := p.ch.conn.check(); err != nil {
		return nil, err
	}
	return p.ch.conn.bus.members(ctx, p.ch.name)
}

func (p *busPresence) Subscribe(ctx context.Context, handler channel.PresenceHandler) (channel.Subscription, error) {
	c := p.ch.conn
	if err := c.check(); err != nil {
		return nil, err
	}
	unsub, err := c.bus.subscribeRaw(ctx, presenceEventsKey(p.ch.name), func(payload string) {
		var msg channel.PresenceMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			c.bus.logger.Warn().Err(err).Str("channel", p.ch.name).Msg("skipping undecodable presence message")
			return
		}
		handler(msg)
	})
	if err != nil {
		return nil, err
	}
	return c.track(unsub), nil
}
