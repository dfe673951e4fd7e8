// Package channel defines the pub/sub capability that room activity and
// presence are built on: named channels with publish, subscribe, a
// newest-first history page, and a presence set of client ids.
//
// Backends live in subpackages: memory (in-process), redisbus (Redis
// pub/sub) and wsclient (this server's WebSocket gateway).
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("channel: connection closed")

	// ErrNotReady is returned when an operation needs an established
	// connection and the connection is still pending.
	ErrNotReady = errors.New("channel: connection not ready")
)

// Event is one message published on a channel. ID and Timestamp are
// assigned by the backend at publish time.
type Event struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Name      string          `json:"name,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// PresenceAction describes a presence change.
type PresenceAction string

const (
	PresenceEnter   PresenceAction = "enter"
	PresenceLeave   PresenceAction = "leave"
	PresenceUpdate  PresenceAction = "update"
	PresencePresent PresenceAction = "present"
)

// PresenceMessage reports a client's membership on a channel.
type PresenceMessage struct {
	Action    PresenceAction `json:"action"`
	Channel   string         `json:"channel"`
	ClientID  string         `json:"client_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives live events. Events from a single publisher arrive in
// publish order; nothing is promised across publishers.
type Handler func(Event)

// PresenceHandler receives presence changes.
type PresenceHandler func(PresenceMessage)

// Subscription is a registered handler.
type Subscription interface {
	Unsubscribe()
}

// Page is one page of channel history, newest first.
type Page struct {
	Items []Event `json:"items"`
	// HasNext reports whether older events exist beyond this page.
	HasNext bool `json:"has_next"`
}

// Channel is a named topic.
type Channel interface {
	Name() string
	// Publish sends data (JSON-encoded) under the given event name.
	Publish(ctx context.Context, name string, data any) error
	Subscribe(ctx context.Context, handler Handler) (Subscription, error)
	// History returns up to limit recent events, newest first.
	History(ctx context.Context, limit int) (*Page, error)
	Presence() Presence
}

// Presence is the membership set of a channel. Members are identified
// by the connection's client id.
type Presence interface {
	// Enter announces the connection's client id. Entering again only
	// refreshes the member.
	Enter(ctx context.Context) error
	Leave(ctx context.Context) error
	Get(ctx context.Context) ([]PresenceMessage, error)
	Subscribe(ctx context.Context, handler PresenceHandler) (Subscription, error)
}

// State is the lifecycle state of a connection.
type State int

const (
	StatePending State = iota
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is a session scoped to one client id. A fresh connection
// may still be pending; Ready is closed once it is usable or has failed.
type Connection interface {
	ClientID() string
	State() State
	Ready() <-chan struct{}
	// Err reports why the connection failed, if it did.
	Err() error
	Channel(name string) Channel
	Close() error
}

// Credentials select the identity a connection is scoped to.
type Credentials struct {
	ClientID string
	Key      string
}

// Provider opens connections.
type Provider interface {
	Connect(ctx context.Context, creds Credentials) (Connection, error)
}

// Reaper is implemented by backends that can expire presence members
// which stopped refreshing.
type Reaper interface {
	ReapPresence(ctx context.Context, before time.Time) ([]PresenceMessage, error)
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// Channel names for a room. Presence lives on the bare room channel;
// activity is the primary stream. Feed and shortlist are reserved.
func PresenceChannel(roomID string) string  { return roomID }
func ActivityChannel(roomID string) string  { return roomID + ":activity" }
func FeedChannel(roomID string) string      { return roomID + ":feed" }
func ShortlistChannel(roomID string) string { return roomID + ":shortlist" }

// Encode marshals publish data, passing raw JSON through untouched.
func Encode(data any) (json.RawMessage, error) {
	switch d := data.(type) {
	case json.RawMessage:
		return d, nil
	case []byte:
		return json.RawMessage(d), nil
	}
	return json.Marshal(data)
}

// WaitReady blocks until conn is ready, has failed, or ctx is done.
func WaitReady(ctx context.Context, conn Connection) error {
	select {
	case <-conn.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	switch conn.State() {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrClosed
	}
	if err := conn.Err(); err != nil {
		return err
	}
	return ErrNotReady
}
