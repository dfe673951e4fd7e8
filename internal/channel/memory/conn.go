package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/adi-253/roomfeed/backend/internal/channel"
)

// Conn is a connection to a Broker.
type Conn struct {
	broker   *Broker
	clientID string

	mu      sync.Mutex
	state   channel.State
	ready   chan struct{}
	cleanup []func()
	entered map[string]struct{}
}

func (c *Conn) establish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != channel.StatePending {
		return
	}
	c.state = channel.StateConnected
	close(c.ready)
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
	return &memChannel{conn: c, name: name}
}

// Close leaves every presence set the connection entered and drops its
// subscriptions.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == channel.StateClosed {
		c.mu.Unlock()
		return nil
	}
	if c.state == channel.StatePending {
		close(c.ready)
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
	for name := range entered {
		c.broker.leave(c, name)
	}
	return nil
}

func (c *Conn) check() error {
	switch c.State() {
	case channel.StateConnected:
		return nil
	case channel.StateClosed:
		return channel.ErrClosed
	}
	return channel.ErrNotReady
}

func (c *Conn) track(unsub func()) channel.Subscription {
	var once sync.Once
	stop := func() { once.Do(unsub) }

	c.mu.Lock()
	c.cleanup = append(c.cleanup, stop)
	c.mu.Unlock()
	return channel.SubscriptionFunc(stop)
}

func (c *Conn) forget(channelName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entered, channelName)
}

type memChannel struct {
	conn *Conn
	name string
}

func (ch *memChannel) Name() string { return ch.name }

func (ch *memChannel) Publish(ctx context.Context, name string, data any) error {
	if err := ch.conn.check(); err != nil {
		return err
	}
	raw, err := channel.Encode(data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	ch.conn.broker.publish(ch.conn, ch.name, name, raw)
	return nil
}

func (ch *memChannel) Subscribe(ctx context.Context, handler channel.Handler) (channel.Subscription, error) {
	if err := ch.conn.check(); err != nil {
		return nil, err
	}
	return ch.conn.track(ch.conn.broker.subscribe(ch.name, handler)), nil
}

func (ch *memChannel) History(ctx context.Context, limit int) (*channel.Page, error) {
	if err := ch.conn.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return ch.conn.broker.history(ch.name, limit), nil
}

func (ch *memChannel) Presence() channel.Presence {
	return &memPresence{ch: ch}
}

type memPresence struct {
	ch *memChannel
}

func (p *memPresence) Enter(ctx context.Context) error {
	c := p.ch.conn
	if err := c.check(); err != nil {
		return err
	}
	c.mu.Lock()
	c.entered[p.ch.name] = struct{}{}
	c.mu.Unlock()
	c.broker.enter(c, p.ch.name)
	return nil
}

func (p *memPresence) Leave(ctx context.Context) error {
	c := p.ch.conn
	if err := c.check(); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.entered, p.ch.name)
	c.mu.Unlock()
	c.broker.leave(c, p.ch.name)
	return nil
}

func (p *memPresence) Get(ctx context.Context) ([]channel.PresenceMessage, error) {
	if err := p.ch.conn.check(); err != nil {
		return nil, err
	}
	return p.ch.conn.broker.members(p.ch.name), nil
}

func (p *memPresence) Subscribe(ctx context.Context, handler channel.PresenceHandler) (channel.Subscription, error) {
	c := p.ch.conn
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.track(c.broker.subscribePresence(p.ch.name, handler)), nil
}
