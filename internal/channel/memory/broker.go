// Package memory is an in-process channel backend. It serves single-node
// deployments and tests: channels are created on first use and history
// is kept in memory up to a fixed number of events per channel.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/channel"
)

const (
	defaultHistoryLimit = 500

	// backlogWarn is the queue depth at which a subscriber is logged as slow.
	backlogWarn = 256
)

// Broker holds every channel of the process.
type Broker struct {
	mu       sync.Mutex
	topics   map[string]*topic
	pending  []*Conn
	logger   zerolog.Logger
	now      func() time.Time
	maxKeep  int
	deferred bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithHistoryLimit caps retained events per channel.
func WithHistoryLimit(n int) Option {
	return func(b *Broker) { b.maxKeep = n }
}

// WithLogger sets the broker's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithDeferredConnect leaves new connections pending until Establish is called.
func WithDeferredConnect() Option {
	return func(b *Broker) { b.deferred = true }
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		topics:  make(map[string]*topic),
		logger:  zerolog.Nop(),
		now:     time.Now,
		maxKeep: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type member struct {
	conns    map[*Conn]struct{}
	lastSeen time.Time
}

type topic struct {
	name         string
	history      []channel.Event
	subs         map[*pump[channel.Event]]struct{}
	presence     map[string]*member
	presenceSubs map[*pump[channel.PresenceMessage]]struct{}
}

// topicLocked returns the named topic, creating it on first use.
func (b *Broker) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			name:         name,
			subs:         make(map[*pump[channel.Event]]struct{}),
			presence:     make(map[string]*member),
			presenceSubs: make(map[*pump[channel.PresenceMessage]]struct{}),
		}
		b.topics[name] = t
	}
	return t
}

// Connect opens a connection for creds.ClientID.
func (b *Broker) Connect(ctx context.Context, creds channel.Credentials) (channel.Connection, error) {
	conn := &Conn{
		broker:   b,
		clientID: creds.ClientID,
		state:    channel.StatePending,
		ready:    make(chan struct{}),
		entered:  make(map[string]struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deferred {
		b.pending = append(b.pending, conn)
		return conn, nil
	}
	conn.establish()
	return conn, nil
}

// Establish completes every pending connection.
func (b *Broker) Establish() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, conn := range pending {
		conn.establish()
	}
}

func (b *Broker) publish(conn *Conn, channelName, name string, data []byte) channel.Event {
	ev := channel.Event{
		ID:        ulid.Make().String(),
		Channel:   channelName,
		Name:      name,
		ClientID:  conn.clientID,
		Data:      data,
		Timestamp: b.now().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(channelName)
	t.history = append(t.history, ev)
	if over := len(t.history) - b.maxKeep; over > 0 {
		t.history = append([]channel.Event(nil), t.history[over:]...)
	}

	for sub := range t.subs {
		if sub.offer(ev) == backlogWarn {
			b.logger.Warn().Str("channel", channelName).Int("backlog", backlogWarn).Msg("slow subscriber")
		}
	}
	return ev
}

func (b *Broker) history(channelName string, limit int) *channel.Page {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(channelName)
	page := &channel.Page{}
	for i := len(t.history) - 1; i >= 0 && len(page.Items) < limit; i-- {
		page.Items = append(page.Items, t.history[i])
	}
	page.HasNext = len(t.history) > len(page.Items)
	return page
}

func (b *Broker) subscribe(channelName string, handler channel.Handler) func() {
	p := newPump(handler)

	b.mu.Lock()
	t := b.topicLocked(channelName)
	t.subs[p] = struct{}{}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := t.subs[p]; ok {
			delete(t.subs, p)
			p.close()
		}
	}
}

func (b *Broker) subscribePresence(channelName string, handler channel.PresenceHandler) func() {
	p := newPump(handler)

	b.mu.Lock()
	t := b.topicLocked(channelName)
	t.presenceSubs[p] = struct{}{}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := t.presenceSubs[p]; ok {
			delete(t.presenceSubs, p)
			p.close()
		}
	}
}

func (b *Broker) enter(conn *Conn, channelName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(channelName)
	now := b.now().UTC()
	m, ok := t.presence[conn.clientID]
	if !ok {
		m = &member{conns: make(map[*Conn]struct{})}
		t.presence[conn.clientID] = m
	}
	m.conns[conn] = struct{}{}
	m.lastSeen = now

	action := channel.PresenceUpdate
	if !ok {
		action = channel.PresenceEnter
	}
	b.notifyPresenceLocked(t, channel.PresenceMessage{
		Action:    action,
		Channel:   channelName,
		ClientID:  conn.clientID,
		Timestamp: now,
	})
}

func (b *Broker) leave(conn *Conn, channelName string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(channelName)
	m, ok := t.presence[conn.clientID]
	if !ok {
		return
	}
	delete(m.conns, conn)
	if len(m.conns) > 0 {
		return
	}
	delete(t.presence, conn.clientID)
	b.notifyPresenceLocked(t, channel.PresenceMessage{
		Action:    channel.PresenceLeave,
		Channel:   channelName,
		ClientID:  conn.clientID,
		Timestamp: b.now().UTC(),
	})
}

func (b *Broker) members(channelName string) []channel.PresenceMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(channelName)
	out := make([]channel.PresenceMessage, 0, len(t.presence))
	for clientID, m := range t.presence {
		out = append(out, channel.PresenceMessage{
			Action:    channel.PresencePresent,
			Channel:   channelName,
			ClientID:  clientID,
			Timestamp: m.lastSeen,
		})
	}
	return out
}

// ReapPresence removes members whose last enter is older than before.
func (b *Broker) ReapPresence(ctx context.Context, before time.Time) ([]channel.PresenceMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var reaped []channel.PresenceMessage
	for _, t := range b.topics {
		for clientID, m := range t.presence {
			if !m.lastSeen.Before(before) {
				continue
			}
			delete(t.presence, clientID)
			for conn := range m.conns {
				conn.forget(t.name)
			}
			msg := channel.PresenceMessage{
				Action:    channel.PresenceLeave,
				Channel:   t.name,
				ClientID:  clientID,
				Timestamp: b.now().UTC(),
			}
			b.notifyPresenceLocked(t, msg)
			reaped = append(reaped, msg)
		}
	}
	return reaped, nil
}

func (b *Broker) notifyPresenceLocked(t *topic, msg channel.PresenceMessage) {
	for sub := range t.presenceSubs {
		if sub.offer(msg) == backlogWarn {
			b.logger.Warn().Str("channel", t.name).Int("backlog", backlogWarn).Msg("slow presence subscriber")
		}
	}
}
