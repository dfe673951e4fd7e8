package services

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/channel/memory"
	"github.com/adi-253/roomfeed/backend/internal/identity"
	"github.com/adi-253/roomfeed/backend/internal/models"
)

func TestActivityHistoryIsOldestFirst(t *testing.T) {
	broker := memory.NewBroker()
	svc := NewActivityService(broker, 10, zerolog.Nop())
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if err := svc.PublishText(ctx, "r1", "a@x.com", text); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := svc.PublishShare(ctx, "r1", "b@x.com", models.Listing{PropertyID: "p1", Price: 450000}); err != nil {
		t.Fatalf("share: %v", err)
	}

	entries, err := svc.History(ctx, "r1", "a@x.com", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if p, ok := entries[0].Message.Payload.(models.TextPayload); !ok || p.Text != "one" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[3].Message.From != "b@x.com" || entries[3].Message.Payload.Type() != models.PayloadShare {
		t.Errorf("last entry = %+v", entries[3])
	}
	for _, e := range entries {
		if e.ID == "" {
			t.Errorf("entry without id: %+v", e)
		}
	}

	entries, _ = svc.History(ctx, "r1", "a@x.com", 2)
	if len(entries) != 2 {
		t.Fatalf("limited entries = %d", len(entries))
	}
	if p := entries[1].Message.Payload; p.Type() != models.PayloadShare {
		t.Errorf("limited page should end with the newest entry, got %+v", p)
	}
}

func TestPublishTextRejectsEmptyInput(t *testing.T) {
	broker := memory.NewBroker()
	svc := NewActivityService(broker, 10, zerolog.Nop())
	ctx := context.Background()

	if err := svc.PublishText(ctx, "r1", "a@x.com", "  \t "); !errors.Is(err, models.ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	entries, _ := svc.History(ctx, "r1", "a@x.com", 0)
	if len(entries) != 0 {
		t.Errorf("empty input was published")
	}
}

func TestPublishedEventsCarryPublisherIdentity(t *testing.T) {
	broker := memory.NewBroker()
	svc := NewActivityService(broker, 10, zerolog.Nop())
	ctx := context.Background()

	watcher, _ := broker.Connect(ctx, channel.Credentials{ClientID: identity.Encode("w@x.com")})
	defer watcher.Close()

	var mu sync.Mutex
	var got []channel.Event
	watcher.Channel(channel.ActivityChannel("r1")).Subscribe(ctx, func(ev channel.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	if err := svc.PublishText(ctx, "r1", "a@x.com", "hello"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event not delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got[0].ClientID != identity.Encode("a@x.com") {
		t.Errorf("client id = %q", got[0].ClientID)
	}
}

func TestOnlineListsPresentEmails(t *testing.T) {
	broker := memory.NewBroker()
	svc := NewActivityService(broker, 10, zerolog.Nop())
	ctx := context.Background()

	for _, email := range []string{"b@x.com", "a@x.com"} {
		conn, _ := broker.Connect(ctx, channel.Credentials{ClientID: identity.Encode(email)})
		defer conn.Close()
		if err := conn.Channel(channel.PresenceChannel("r1")).Presence().Enter(ctx); err != nil {
			t.Fatalf("enter: %v", err)
		}
	}

	online, err := svc.Online(ctx, "r1", "viewer@x.com")
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	want := []string{"a@x.com", "b@x.com"}
	if !reflect.DeepEqual(online, want) {
		t.Errorf("online = %v, want %v", online, want)
	}
}
