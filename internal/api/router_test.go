package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/api/middleware"
	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/channel/memory"
	"github.com/adi-253/roomfeed/backend/internal/handlers"
	"github.com/adi-253/roomfeed/backend/internal/identity"
	"github.com/adi-253/roomfeed/backend/internal/models"
	"github.com/adi-253/roomfeed/backend/internal/services"
	"github.com/adi-253/roomfeed/backend/internal/supabase"
)

type memStore struct {
	mu          sync.Mutex
	rooms       map[string]models.Room
	memberships []models.Membership
}

func (m *memStore) CreateRoom(ctx context.Context, room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = *room
	return nil
}

func (m *memStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, supabase.ErrNotFound)
	}
	return &room, nil
}

func (m *memStore) ListRoomsForUser(ctx context.Context, email string) ([]models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Room
	for _, ms := range m.memberships {
		if ms.UserEmail == email {
			out = append(out, m.rooms[ms.RoomID])
		}
	}
	return out, nil
}

func (m *memStore) AddMembership(ctx context.Context, membership *models.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ms := range m.memberships {
		if ms.RoomID == membership.RoomID && ms.UserEmail == membership.UserEmail {
			return nil
		}
	}
	m.memberships = append(m.memberships, *membership)
	return nil
}

func (m *memStore) GetMemberships(ctx context.Context, roomID string) ([]models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Membership
	for _, ms := range m.memberships {
		if ms.RoomID == roomID {
			out = append(out, ms)
		}
	}
	return out, nil
}

type testServer struct {
	handler http.Handler
	broker  *memory.Broker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	broker := memory.NewBroker()
	store := &memStore{rooms: make(map[string]models.Room)}

	router := NewRouter(logger, Deps{
		Rooms:       handlers.NewRoomHandler(services.NewRoomService(store, logger), logger),
		Activity:    handlers.NewActivityHandler(services.NewActivityService(broker, 50, logger), logger),
		Backend:     "memory",
		CORSOrigins: []string{"http://localhost:5173"},
	})
	return &testServer{handler: router, broker: broker}
}

func (s *testServer) do(t *testing.T, method, path, email, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if email != "" {
		req.Header.Set(middleware.UserHeader, email)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp handlers.HealthResponse
	decode(t, rec, &resp)
	if resp.Status != "ok" || resp.Backend != "memory" {
		t.Errorf("health = %+v", resp)
	}
}

func TestRoomRoutesRequireUser(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/rooms", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRoomLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/rooms", "owner@x.com", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created models.CreateRoomResponse
	decode(t, rec, &created)
	if created.Room.ID == "" || created.Room.OwnerEmail != "owner@x.com" {
		t.Fatalf("created = %+v", created.Room)
	}
	if parts := strings.Split(created.Room.Name, "-"); len(parts) != 3 {
		t.Errorf("room name %q is not a three word slug", created.Room.Name)
	}

	rec = srv.do(t, http.MethodPost, "/api/rooms/"+created.Room.ID+"/join", "guest@x.com", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("join status = %d", rec.Code)
	}
	var info models.RoomInfoResponse
	decode(t, rec, &info)
	if len(info.Members) != 2 {
		t.Errorf("members = %+v", info.Members)
	}

	rec = srv.do(t, http.MethodGet, "/api/rooms", "guest@x.com", "")
	var rooms []models.Room
	decode(t, rec, &rooms)
	if len(rooms) != 1 || rooms[0].ID != created.Room.ID {
		t.Errorf("rooms = %+v", rooms)
	}

	rec = srv.do(t, http.MethodGet, "/api/rooms", "stranger@x.com", "")
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("empty list body = %q", body)
	}

	rec = srv.do(t, http.MethodGet, "/api/rooms/"+created.Room.ID, "guest@x.com", "")
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}
}

func TestUnknownRoom(t *testing.T) {
	srv := newTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/rooms/nope"},
		{http.MethodPost, "/api/rooms/nope/join"},
	} {
		rec := srv.do(t, tc.method, tc.path, "a@x.com", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, rec.Code)
		}
	}
}

func TestActivityFallback(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/rooms/r1/activity/text", "a@x.com", `{"text":"look at this one"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("text status = %d", rec.Code)
	}
	rec = srv.do(t, http.MethodPost, "/api/rooms/r1/activity/share", "b@x.com",
		`{"propertyId":"p9","image":"https://img/p9.jpg","address":"1 Main St","price":450000}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("share status = %d", rec.Code)
	}

	rec = srv.do(t, http.MethodGet, "/api/rooms/r1/activity", "a@x.com", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("activity status = %d", rec.Code)
	}
	var resp models.ActivityResponse
	decode(t, rec, &resp)
	if len(resp.Entries) != 2 {
		t.Fatalf("entries = %+v", resp.Entries)
	}
	if p, ok := resp.Entries[0].Message.Payload.(models.TextPayload); !ok || p.Text != "look at this one" {
		t.Errorf("first entry = %+v", resp.Entries[0].Message)
	}
	if p, ok := resp.Entries[1].Message.Payload.(models.SharePayload); !ok || p.PropertyID != "p9" || p.Price != 450000 {
		t.Errorf("second entry = %+v", resp.Entries[1].Message)
	}

	rec = srv.do(t, http.MethodGet, "/api/rooms/r1/activity?limit=1", "a@x.com", "")
	resp = models.ActivityResponse{}
	decode(t, rec, &resp)
	if len(resp.Entries) != 1 || resp.Entries[0].Message.Payload.Type() != models.PayloadShare {
		t.Errorf("limited entries = %+v", resp.Entries)
	}
}

func TestActivityRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"blank text", http.MethodPost, "/api/rooms/r1/activity/text", `{"text":"   "}`},
		{"malformed text body", http.MethodPost, "/api/rooms/r1/activity/text", `{`},
		{"share without property", http.MethodPost, "/api/rooms/r1/activity/share", `{"price":1}`},
		{"bad limit", http.MethodGet, "/api/rooms/r1/activity?limit=zero", ""},
		{"negative limit", http.MethodGet, "/api/rooms/r1/activity?limit=-3", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, tt.method, tt.path, "a@x.com", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	conn, err := srv.broker.Connect(context.Background(), channel.Credentials{ClientID: identity.Encode("a@x.com")})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	page, err := conn.Channel(channel.ActivityChannel("r1")).History(context.Background(), 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("rejected input was published: %+v", page.Items)
	}
}

func TestPresence(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	conn, err := srv.broker.Connect(ctx, channel.Credentials{ClientID: identity.Encode("online@x.com")})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	if err := conn.Channel(channel.PresenceChannel("r1")).Presence().Enter(ctx); err != nil {
		t.Fatalf("enter: %v", err)
	}

	rec := srv.do(t, http.MethodGet, "/api/rooms/r1/presence", "a@x.com", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp models.PresenceResponse
	decode(t, rec, &resp)
	if len(resp.Online) != 1 || resp.Online[0] != "online@x.com" {
		t.Errorf("online = %v", resp.Online)
	}

	rec = srv.do(t, http.MethodGet, "/api/rooms/empty/presence", "a@x.com", "")
	resp = models.PresenceResponse{}
	decode(t, rec, &resp)
	if resp.Online == nil || len(resp.Online) != 0 {
		t.Errorf("empty room online = %#v", resp.Online)
	}
}
