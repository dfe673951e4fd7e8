package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/metrics"
	"github.com/adi-253/roomfeed/backend/internal/models"
	"github.com/adi-253/roomfeed/backend/internal/supabase"
)

// ErrRoomNotFound is returned when a room does not exist.
var ErrRoomNotFound = errors.New("room not found")

// RoomStore persists rooms and memberships. *supabase.Client implements it;
// lookups that match nothing return an error wrapping supabase.ErrNotFound.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, email string) ([]models.Room, error)
	AddMembership(ctx context.Context, membership *models.Membership) error
	GetMemberships(ctx context.Context, roomID string) ([]models.Membership, error)
}

// RoomService handles all room-related business logic.
// It acts as an intermediary between HTTP handlers and the database.
type RoomService struct {
	db     RoomStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewRoomService creates a new RoomService instance.
func NewRoomService(db RoomStore, logger zerolog.Logger) *RoomService {
	return &RoomService{
		db:     db,
		logger: logger.With().Str("service", "room").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateRoom creates a room named with a random three word slug and makes
// the owner its first member.
func (s *RoomService) CreateRoom(ctx context.Context, ownerEmail string) (*models.Room, error) {
	now := s.now()
	room := &models.Room{
		ID:         uuid.New().String(),
		Name:       generateSlug(3),
		OwnerEmail: ownerEmail,
		CreatedAt:  now,
	}

	if err := s.db.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	membership := &models.Membership{
		ID:        uuid.New().String(),
		RoomID:    room.ID,
		UserEmail: ownerEmail,
		JoinedAt:  now,
	}
	if err := s.db.AddMembership(ctx, membership); err != nil {
		return nil, fmt.Errorf("failed to add owner membership: %w", err)
	}

	metrics.RoomsCreated.Inc()
	s.logger.Info().Str("room_id", room.ID).Str("name", room.Name).Str("owner", ownerEmail).Msg("room created")
	return room, nil
}

// GetRoom retrieves a room by its ID along with its members.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*models.Room, []models.Membership, error) {
	room, err := s.db.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, supabase.ErrNotFound) {
			return nil, nil, ErrRoomNotFound
		}
		return nil, nil, err
	}

	members, err := s.db.GetMemberships(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}

	return room, members, nil
}

// ListRooms retrieves the rooms the user is a member of.
func (s *RoomService) ListRooms(ctx context.Context, email string) ([]models.Room, error) {
	rooms, err := s.db.ListRoomsForUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	return rooms, nil
}

// JoinRoom makes the user a member of an existing room. Joining twice is harmless.
func (s *RoomService) JoinRoom(ctx context.Context, roomID, email string) (*models.Room, []models.Membership, error) {
	// Verify room exists
	room, err := s.db.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, supabase.ErrNotFound) {
			return nil, nil, ErrRoomNotFound
		}
		return nil, nil, err
	}

	membership := &models.Membership{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		UserEmail: email,
		JoinedAt:  s.now(),
	}
	if err := s.db.AddMembership(ctx, membership); err != nil {
		return nil, nil, fmt.Errorf("failed to join room: %w", err)
	}

	// Get updated member list
	members, err := s.db.GetMemberships(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}

	return room, members, nil
}
