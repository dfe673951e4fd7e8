// Package redisbus is the Redis channel backend. Live events go through
// PUBLISH/SUBSCRIBE, history is a sorted set scored by publish time, and
// presence is a hash of members per channel.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/channel"
)

const (
	defaultHistoryLimit = 500
	defaultHistoryTTL   = 7 * 24 * time.Hour

	// presenceIndexKey lists every channel that has had presence members.
	presenceIndexKey = "presence:channels"

	// memberSep joins client id and connection id in a presence hash field.
	// Client ids are base64 and never contain it.
	memberSep = "|"
)

// Bus is a channel.Provider backed by Redis.
type Bus struct {
	client       *redis.Client
	logger       zerolog.Logger
	now          func() time.Time
	historyLimit int
	historyTTL   time.Duration
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// WithHistoryLimit caps retained events per channel.
func WithHistoryLimit(n int) Option {
	return func(b *Bus) { b.historyLimit = n }
}

// WithHistoryTTL sets how long an idle channel's history is kept.
func WithHistoryTTL(d time.Duration) Option {
	return func(b *Bus) { b.historyTTL = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New connects to the Redis server at redisURL.
func New(ctx context.Context, redisURL string, opts ...Option) (*Bus, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, opts...), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, opts ...Option) *Bus {
	b := &Bus{
		client:       client,
		logger:       zerolog.Nop(),
		now:          time.Now,
		historyLimit: defaultHistoryLimit,
		historyTTL:   defaultHistoryTTL,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Close closes the Redis connection pool.
func (b *Bus) Close() error {
	return b.client.Close()
}

// Ping checks the Redis connection.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// eventsKey is the pub/sub channel carrying a channel's live events.
func eventsKey(name string) string {
	return fmt.Sprintf("channel:%s", name)
}

// historyKey is the sorted set holding a channel's retained events.
func historyKey(name string) string {
	return fmt.Sprintf("channel:%s:history", name)
}

// presenceKey is the hash of a channel's presence members.
func presenceKey(name string) string {
	return fmt.Sprintf("presence:%s", name)
}

// presenceEventsKey is the pub/sub channel carrying presence changes.
func presenceEventsKey(name string) string {
	return fmt.Sprintf("presence:%s:events", name)
}

func memberField(clientID, connID string) string {
	return clientID + memberSep + connID
}

func splitMemberField(field string) (clientID, connID string) {
	clientID, connID, _ = strings.Cut(field, memberSep)
	return clientID, connID
}

// Connect returns a connection that is ready immediately: the Redis pool
// is shared by every connection of the process.
func (b *Bus) Connect(ctx context.Context, creds channel.Credentials) (channel.Connection, error) {
	conn := &Conn{
		bus:      b,
		clientID: creds.ClientID,
		connID:   ulid.Make().String(),
		ready:    make(chan struct{}),
		entered:  make(map[string]struct{}),
		state:    channel.StateConnected,
	}
	close(conn.ready)
	return conn, nil
}

func (b *Bus) publish(ctx context.Context, ev channel.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := historyKey(ev.Channel)
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(ev.Timestamp.UnixMilli()),
			Member: string(data),
		})
		pipe.ZRemRangeByRank(ctx, key, 0, int64(-b.historyLimit-1))
		if b.historyTTL > 0 {
			pipe.Expire(ctx, key, b.historyTTL)
		}
		pipe.Publish(ctx, eventsKey(ev.Channel), string(data))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish on %s: %w", ev.Channel, err)
	}
	return nil
}

func (b *Bus) history(ctx context.Context, name string, limit int) (*channel.Page, error) {
	key := historyKey(name)

	// Newest first
	results, err := b.client.ZRevRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", name, err)
	}
	total, err := b.client.ZCard(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to count history of %s: %w", name, err)
	}

	page := &channel.Page{Items: make([]channel.Event, 0, len(results))}
	for _, data := range results {
		var ev channel.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			b.logger.Warn().Err(err).Str("channel", name).Msg("skipping undecodable history entry")
			continue
		}
		page.Items = append(page.Items, ev)
	}
	page.HasNext = total > int64(len(results))
	return page, nil
}

// subscribeRaw subscribes to a Redis pub/sub channel and hands every
// payload to deliver on a dedicated goroutine.
func (b *Bus) subscribeRaw(ctx context.Context, key string, deliver func(string)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, key)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", key, err)
	}

	msgs := pubsub.Channel()
	go func() {
		for msg := range msgs {
			deliver(msg.Payload)
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Debug().Err(err).Str("key", key).Msg("pubsub close")
		}
	}, nil
}

// clientFields returns the hash fields held by clientID on a channel.
func (b *Bus) clientFields(ctx context.Context, name, clientID string) ([]string, error) {
	all, err := b.client.HKeys(ctx, presenceKey(name)).Result()
	if err != nil {
		return nil, err
	}
	var fields []string
	for _, field := range all {
		if id, _ := splitMemberField(field); id == clientID {
			fields = append(fields, field)
		}
	}
	return fields, nil
}

func (b *Bus) enter(ctx context.Context, name, clientID, connID string) error {
	existing, err := b.clientFields(ctx, name, clientID)
	if err != nil {
		return fmt.Errorf("failed to read presence of %s: %w", name, err)
	}

	now := b.now().UTC()
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, presenceKey(name), memberField(clientID, connID), now.UnixMilli())
		pipe.SAdd(ctx, presenceIndexKey, name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enter presence on %s: %w", name, err)
	}

	action := channel.PresenceEnter
	if len(existing) > 0 {
		action = channel.PresenceUpdate
	}
	return b.notifyPresence(ctx, channel.PresenceMessage{
		Action:    action,
		Channel:   name,
		ClientID:  clientID,
		Timestamp: now,
	})
}

func (b *Bus) leave(ctx context.Context, name, clientID, connID string) error {
	removed, err := b.client.HDel(ctx, presenceKey(name), memberField(clientID, connID)).Result()
	if err != nil {
		return fmt.Errorf("failed to leave presence on %s: %w", name, err)
	}
	if removed == 0 {
		return nil
	}

	remaining, err := b.clientFields(ctx, name, clientID)
	if err != nil {
		return fmt.Errorf("failed to read presence of %s: %w", name, err)
	}
	if len(remaining) > 0 {
		return nil
	}
	return b.notifyPresence(ctx, channel.PresenceMessage{
		Action:    channel.PresenceLeave,
		Channel:   name,
		ClientID:  clientID,
		Timestamp: b.now().UTC(),
	})
}

func (b *Bus) members(ctx context.Context, name string) ([]channel.PresenceMessage, error) {
	fields, err := b.client.HGetAll(ctx, presenceKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence of %s: %w", name, err)
	}

	latest := make(map[string]time.Time)
	for field, value := range fields {
		clientID, _ := splitMemberField(field)
		seen := parseMillis(value)
		if seen.After(latest[clientID]) || latest[clientID].IsZero() {
			latest[clientID] = seen
		}
	}

	out := make([]channel.PresenceMessage, 0, len(latest))
	for clientID, seen := range latest {
		out = append(out, channel.PresenceMessage{
			Action:    channel.PresencePresent,
			Channel:   name,
			ClientID:  clientID,
			Timestamp: seen,
		})
	}
	return out, nil
}

// ReapPresence removes member entries last refreshed before the given
// time and publishes a leave for every client left with no entries.
func (b *Bus) ReapPresence(ctx context.Context, before time.Time) ([]channel.PresenceMessage, error) {
	names, err := b.client.SMembers(ctx, presenceIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence channels: %w", err)
	}

	var reaped []channel.PresenceMessage
	for _, name := range names {
		fields, err := b.client.HGetAll(ctx, presenceKey(name)).Result()
		if err != nil {
			return reaped, fmt.Errorf("failed to read presence of %s: %w", name, err)
		}
		if len(fields) == 0 {
			b.client.SRem(ctx, presenceIndexKey, name)
			continue
		}

		alive := make(map[string]bool)
		var stale []string
		for field, value := range fields {
			clientID, _ := splitMemberField(field)
			if parseMillis(value).Before(before) {
				stale = append(stale, field)
				if _, ok := alive[clientID]; !ok {
					alive[clientID] = false
				}
				continue
			}
			alive[clientID] = true
		}
		if len(stale) == 0 {
			continue
		}
		if err := b.client.HDel(ctx, presenceKey(name), stale...).Err(); err != nil {
			return reaped, fmt.Errorf("failed to reap presence of %s: %w", name, err)
		}

		for clientID, ok := range alive {
			if ok {
				continue
			}
			msg := channel.PresenceMessage{
				Action:    channel.PresenceLeave,
				Channel:   name,
				ClientID:  clientID,
				Timestamp: b.now().UTC(),
			}
			if err := b.notifyPresence(ctx, msg); err != nil {
				b.logger.Warn().Err(err).Str("channel", name).Msg("failed to announce reaped member")
			}
			reaped = append(reaped, msg)
		}
	}
	return reaped, nil
}

func (b *Bus) notifyPresence(ctx context.Context, msg channel.PresenceMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal presence message: %w", err)
	}
	if err := b.client.Publish(ctx, presenceEventsKey(msg.Channel), string(data)).Err(); err != nil {
		return fmt.Errorf("failed to publish presence on %s: %w", msg.Channel, err)
	}
	return nil
}

func parseMillis(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
