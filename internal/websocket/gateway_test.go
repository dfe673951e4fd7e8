package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/channel/memory"
	"github.com/adi-253/roomfeed/backend/internal/channel/wsclient"
	"github.com/adi-253/roomfeed/backend/internal/identity"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type gateway struct {
	hub    *Hub
	broker *memory.Broker
	server *httptest.Server
	url    string
}

func newGateway(t *testing.T, apiKey string) *gateway {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	broker := memory.NewBroker()
	handler := NewHandler(hub, broker, apiKey, zerolog.Nop())
	server := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	t.Cleanup(server.Close)

	return &gateway{
		hub:    hub,
		broker: broker,
		server: server,
		url:    "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func (g *gateway) connect(t *testing.T, email, key string) channel.Connection {
	t.Helper()
	provider := &wsclient.Provider{URL: g.url, Logger: zerolog.Nop()}
	conn, err := provider.Connect(context.Background(), channel.Credentials{
		ClientID: identity.Encode(email),
		Key:      key,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := channel.WaitReady(ctx, conn); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	return conn
}

func TestServeWSRejectsBadRequests(t *testing.T) {
	g := newGateway(t, "secret")

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{"missing client id", "", http.StatusBadRequest},
		{"client id not base64", "?client_id=%25%25%25&key=secret", http.StatusBadRequest},
		{"wrong key", "?client_id=" + identity.Encode("a@x.com") + "&key=nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(g.server.URL + tt.query)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestFailedDialFailsConnection(t *testing.T) {
	g := newGateway(t, "secret")

	provider := &wsclient.Provider{URL: g.url, Logger: zerolog.Nop()}
	conn, err := provider.Connect(context.Background(), channel.Credentials{
		ClientID: identity.Encode("a@x.com"),
		Key:      "wrong",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := channel.WaitReady(ctx, conn); err == nil {
		t.Fatalf("expected connection to fail")
	}
	if conn.State() != channel.StateFailed {
		t.Errorf("state = %v, want failed", conn.State())
	}
	if err := conn.Channel("r1").Publish(ctx, "message", "hi"); err == nil {
		t.Errorf("publish on failed connection should error")
	}
}

func TestGatewayRoundTrip(t *testing.T) {
	g := newGateway(t, "secret")
	ctx := context.Background()

	alice := g.connect(t, "alice@x.com", "secret")
	bob := g.connect(t, "bob@x.com", "secret")

	waitFor(t, "both sockets registered", func() bool { return g.hub.ClientCount() == 2 })

	var mu sync.Mutex
	var events []channel.Event
	var presence []channel.PresenceMessage

	activity := channel.ActivityChannel("r1")
	if _, err := alice.Channel(activity).Subscribe(ctx, func(ev channel.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := alice.Channel("r1").Presence().Subscribe(ctx, func(msg channel.PresenceMessage) {
		mu.Lock()
		presence = append(presence, msg)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("presence subscribe: %v", err)
	}

	for _, text := range []string{"one", "two"} {
		if err := bob.Channel(activity).Publish(ctx, "message", map[string]string{"type": "text", "text": text}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	waitFor(t, "live events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	})
	mu.Lock()
	if events[0].ClientID != identity.Encode("bob@x.com") || events[0].ID == "" {
		t.Errorf("first event = %+v", events[0])
	}
	if !strings.Contains(string(events[1].Data), `"two"`) {
		t.Errorf("second event data = %s", events[1].Data)
	}
	mu.Unlock()

	page, err := alice.Channel(activity).History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Items) != 2 || !strings.Contains(string(page.Items[0].Data), `"two"`) {
		t.Fatalf("history = %+v, want newest first", page.Items)
	}

	if err := alice.Channel("r1").Presence().Enter(ctx); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := bob.Channel("r1").Presence().Enter(ctx); err != nil {
		t.Fatalf("enter: %v", err)
	}
	members, err := alice.Channel("r1").Presence().Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %+v", members)
	}

	// Dropping the socket leaves presence on the closer's behalf.
	bob.Close()
	waitFor(t, "bob's leave event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, msg := range presence {
			if msg.Action == channel.PresenceLeave && msg.ClientID == identity.Encode("bob@x.com") {
				return true
			}
		}
		return false
	})
	waitFor(t, "bob unregistered", func() bool { return g.hub.ClientCount() == 1 })
}

func TestSocketsGroupedByClientID(t *testing.T) {
	g := newGateway(t, "")

	g.connect(t, "alice@x.com", "")
	g.connect(t, "alice@x.com", "")

	waitFor(t, "two tabs registered", func() bool {
		return g.hub.SocketsFor(identity.Encode("alice@x.com")) == 2
	})
	if g.hub.ClientCount() != 2 {
		t.Errorf("client count = %d, want 2", g.hub.ClientCount())
	}
}
