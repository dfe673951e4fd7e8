package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/models"
	"github.com/adi-253/roomfeed/backend/internal/supabase"
)

// fakeStore is an in-memory RoomStore.
type fakeStore struct {
	mu          sync.Mutex
	rooms       map[string]models.Room
	memberships []models.Membership
	failCreate  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rooms: make(map[string]models.Room)}
}

func (f *fakeStore) CreateRoom(ctx context.Context, room *models.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	f.rooms[room.ID] = *room
	return nil
}

func (f *fakeStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, supabase.ErrNotFound)
	}
	return &room, nil
}

func (f *fakeStore) ListRoomsForUser(ctx context.Context, email string) ([]models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Room
	for _, m := range f.memberships {
		if m.UserEmail == email {
			out = append(out, f.rooms[m.RoomID])
		}
	}
	return out, nil
}

func (f *fakeStore) AddMembership(ctx context.Context, membership *models.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memberships {
		if m.RoomID == membership.RoomID && m.UserEmail == membership.UserEmail {
			return nil
		}
	}
	f.memberships = append(f.memberships, *membership)
	return nil
}

func (f *fakeStore) GetMemberships(ctx context.Context, roomID string) ([]models.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Membership
	for _, m := range f.memberships {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestCreateRoomAddsOwnerMembership(t *testing.T) {
	store := newFakeStore()
	svc := NewRoomService(store, zerolog.Nop())
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.ID == "" || room.OwnerEmail != "a@x.com" {
		t.Errorf("room = %+v", room)
	}
	if parts := strings.Split(room.Name, "-"); len(parts) != 3 {
		t.Errorf("name %q should have three words", room.Name)
	}

	_, members, err := svc.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(members) != 1 || members[0].UserEmail != "a@x.com" {
		t.Errorf("members = %+v", members)
	}
}

func TestCreateRoomPropagatesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.failCreate = errors.New("db down")
	svc := NewRoomService(store, zerolog.Nop())

	if _, err := svc.CreateRoom(context.Background(), "a@x.com"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestListRoomsOnlyReturnsMemberRooms(t *testing.T) {
	store := newFakeStore()
	svc := NewRoomService(store, zerolog.Nop())
	ctx := context.Background()

	mine, _ := svc.CreateRoom(ctx, "a@x.com")
	svc.CreateRoom(ctx, "b@x.com")

	rooms, err := svc.ListRooms(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != mine.ID {
		t.Errorf("rooms = %+v", rooms)
	}

	rooms, _ = svc.ListRooms(ctx, "nobody@x.com")
	if rooms == nil || len(rooms) != 0 {
		t.Errorf("want empty non-nil list, got %#v", rooms)
	}
}

func TestJoinRoom(t *testing.T) {
	store := newFakeStore()
	svc := NewRoomService(store, zerolog.Nop())
	ctx := context.Background()

	room, _ := svc.CreateRoom(ctx, "a@x.com")

	_, members, err := svc.JoinRoom(ctx, room.ID, "b@x.com")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("members = %+v", members)
	}

	// Joining again does not duplicate the membership.
	_, members, _ = svc.JoinRoom(ctx, room.ID, "b@x.com")
	if len(members) != 2 {
		t.Errorf("members after rejoin = %+v", members)
	}

	if _, _, err := svc.JoinRoom(ctx, "missing", "b@x.com"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("err = %v, want ErrRoomNotFound", err)
	}
}

func TestGenerateSlug(t *testing.T) {
	for i := 0; i < 50; i++ {
		slug := generateSlug(3)
		parts := strings.Split(slug, "-")
		if len(parts) != 3 {
			t.Fatalf("slug %q has %d words", slug, len(parts))
		}
		for _, p := range parts {
			if p == "" {
				t.Fatalf("slug %q has an empty word", slug)
			}
		}
	}
	if parts := strings.Split(generateSlug(0), "-"); len(parts) != 1 {
		t.Errorf("generateSlug(0) should still return one word")
	}
}
