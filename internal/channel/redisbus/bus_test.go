package redisbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/adi-253/roomfeed/backend/internal/channel"
)

func newTestBus(t *testing.T, opts ...Option) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewWithClient(client, opts...)
	t.Cleanup(func() { bus.Close() })
	return bus, mr
}

func connect(t *testing.T, bus *Bus, clientID string) channel.Connection {
	t.Helper()
	conn, err := bus.Connect(context.Background(), channel.Credentials{ClientID: clientID})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

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

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New(context.Background(), "not-a-url"); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}

func TestPublishSubscribeAndHistory(t *testing.T) {
	bus, _ := newTestBus(t, WithHistoryLimit(3))
	ctx := context.Background()
	alice := connect(t, bus, "alice")
	bob := connect(t, bus, "bob")

	var mu sync.Mutex
	var got []channel.Event
	if _, err := bob.Channel("r1:activity").Subscribe(ctx, func(ev channel.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for _, text := range []string{"m1", "m2", "m3", "m4"} {
		if err := alice.Channel("r1:activity").Publish(ctx, "message", text); err != nil {
			t.Fatalf("publish: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	waitFor(t, "live events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	})
	mu.Lock()
	if string(got[0].Data) != `"m1"` || got[0].ClientID != "alice" || got[0].ID == "" {
		t.Fatalf("first event = %+v", got[0])
	}
	mu.Unlock()

	page, err := bob.Channel("r1:activity").History(ctx, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Items) != 3 {
		t.Fatalf("history should be trimmed to 3, got %d", len(page.Items))
	}
	if string(page.Items[0].Data) != `"m4"` || string(page.Items[2].Data) != `"m2"` {
		t.Fatalf("history not newest-first: %s .. %s", page.Items[0].Data, page.Items[2].Data)
	}

	page, _ = bob.Channel("r1:activity").History(ctx, 1)
	if len(page.Items) != 1 || !page.HasNext {
		t.Fatalf("first page = %+v", page)
	}
}

func TestPresenceAcrossConnections(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	tab1 := connect(t, bus, "alice")
	tab2 := connect(t, bus, "alice")
	bob := connect(t, bus, "bob")

	var mu sync.Mutex
	var events []channel.PresenceMessage
	if _, err := bob.Channel("r1").Presence().Subscribe(ctx, func(msg channel.PresenceMessage) {
		mu.Lock()
		events = append(events, msg)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for _, conn := range []channel.Connection{tab1, tab2, bob} {
		if err := conn.Channel("r1").Presence().Enter(ctx); err != nil {
			t.Fatalf("enter: %v", err)
		}
	}

	members, err := bob.Channel("r1").Presence().Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %+v, want alice and bob once each", members)
	}

	// Closing one of alice's tabs keeps her present.
	tab1.Close()
	members, _ = bob.Channel("r1").Presence().Get(ctx)
	if len(members) != 2 {
		t.Fatalf("members after closing one tab = %+v", members)
	}

	tab2.Close()
	members, _ = bob.Channel("r1").Presence().Get(ctx)
	if len(members) != 1 || members[0].ClientID != "bob" {
		t.Fatalf("members after closing both tabs = %+v", members)
	}

	waitFor(t, "leave event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			if ev.Action == channel.PresenceLeave && ev.ClientID == "alice" {
				return true
			}
		}
		return false
	})
}

func TestReapPresence(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	bus, _ := newTestBus(t, WithClock(clock))
	ctx := context.Background()

	stale := connect(t, bus, "stale")
	if err := stale.Channel("r1").Presence().Enter(ctx); err != nil {
		t.Fatalf("enter: %v", err)
	}

	mu.Lock()
	now = now.Add(10 * time.Minute)
	mu.Unlock()

	fresh := connect(t, bus, "fresh")
	if err := fresh.Channel("r1").Presence().Enter(ctx); err != nil {
		t.Fatalf("enter: %v", err)
	}

	reaped, err := bus.ReapPresence(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ClientID != "stale" {
		t.Fatalf("reaped = %+v", reaped)
	}

	members, _ := fresh.Channel("r1").Presence().Get(ctx)
	if len(members) != 1 || members[0].ClientID != "fresh" {
		t.Fatalf("members = %+v", members)
	}
}
