package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/api/middleware"
	"github.com/adi-253/roomfeed/backend/internal/models"
	"github.com/adi-253/roomfeed/backend/internal/services"
)

// RoomHandler contains HTTP handlers for room operations.
// All handlers follow RESTful conventions and return JSON responses.
type RoomHandler struct {
	roomService *services.RoomService
	logger      zerolog.Logger
}

// NewRoomHandler creates a new RoomHandler instance.
func NewRoomHandler(roomService *services.RoomService, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{roomService: roomService, logger: logger}
}

// CreateRoom handles POST /api/rooms
// Creates a room owned by the current user and returns it.
func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	email := middleware.UserEmail(r.Context())

	room, err := h.roomService.CreateRoom(r.Context(), email)
	if err != nil {
		h.logger.Error().Err(err).Str("owner", email).Msg("failed to create room")
		http.Error(w, "failed to create room", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, models.CreateRoomResponse{Room: *room})
}

// ListRooms handles GET /api/rooms
// Returns the rooms the current user is a member of.
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.roomService.ListRooms(r.Context(), middleware.UserEmail(r.Context()))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list rooms")
		http.Error(w, "failed to list rooms", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// GetRoom handles GET /api/rooms/{id}
// Returns room details and its members.
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "room ID is required", http.StatusBadRequest)
		return
	}

	room, members, err := h.roomService.GetRoom(r.Context(), roomID)
	if err != nil {
		h.roomError(w, err, roomID)
		return
	}

	writeJSON(w, http.StatusOK, models.RoomInfoResponse{Room: *room, Members: members})
}

// JoinRoom handles POST /api/rooms/{id}/join
// Makes the current user a member of the room.
func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "room ID is required", http.StatusBadRequest)
		return
	}

	room, members, err := h.roomService.JoinRoom(r.Context(), roomID, middleware.UserEmail(r.Context()))
	if err != nil {
		h.roomError(w, err, roomID)
		return
	}

	writeJSON(w, http.StatusOK, models.RoomInfoResponse{Room: *room, Members: members})
}

func (h *RoomHandler) roomError(w http.ResponseWriter, err error, roomID string) {
	if errors.Is(err, services.ErrRoomNotFound) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	h.logger.Error().Err(err).Str("room_id", roomID).Msg("room lookup failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// writeJSON is a helper function to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
