package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/api/middleware"
	"github.com/adi-253/roomfeed/backend/internal/models"
	"github.com/adi-253/roomfeed/backend/internal/services"
)

// ActivityHandler serves room activity and presence over HTTP.
// Provides a polling-based fallback when the WebSocket gateway is unavailable.
type ActivityHandler struct {
	activityService *services.ActivityService
	logger          zerolog.Logger
}

// NewActivityHandler creates a new ActivityHandler instance.
func NewActivityHandler(activityService *services.ActivityService, logger zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{activityService: activityService, logger: logger}
}

// GetActivity handles GET /api/rooms/{id}/activity
// Returns recent activity, oldest first.
// Query params:
//   - limit: maximum number of entries (capped by the server's page size)
func (h *ActivityHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "room ID is required", http.StatusBadRequest)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid 'limit' value", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.activityService.History(r.Context(), roomID, middleware.UserEmail(r.Context()), limit)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to load activity")
		http.Error(w, "failed to load activity", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, models.ActivityResponse{Entries: entries})
}

// SendText handles POST /api/rooms/{id}/activity/text
func (h *ActivityHandler) SendText(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "room ID is required", http.StatusBadRequest)
		return
	}

	var req models.SendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.activityService.PublishText(r.Context(), roomID, middleware.UserEmail(r.Context()), req.Text)
	if errors.Is(err, models.ErrEmptyMessage) {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to publish text")
		http.Error(w, "failed to publish", http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Share handles POST /api/rooms/{id}/activity/share
// The body is the listing being shared.
func (h *ActivityHandler) Share(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "room ID is required", http.StatusBadRequest)
		return
	}

	var listing models.Listing
	if err := json.NewDecoder(r.Body).Decode(&listing); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if listing.PropertyID == "" {
		http.Error(w, "propertyId is required", http.StatusBadRequest)
		return
	}

	if err := h.activityService.PublishShare(r.Context(), roomID, middleware.UserEmail(r.Context()), listing); err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to publish share")
		http.Error(w, "failed to publish", http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Presence handles GET /api/rooms/{id}/presence
// Returns the emails currently online in the room.
func (h *ActivityHandler) Presence(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	if roomID == "" {
		http.Error(w, "room ID is required", http.StatusBadRequest)
		return
	}

	online, err := h.activityService.Online(r.Context(), roomID, middleware.UserEmail(r.Context()))
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to list presence")
		http.Error(w, "failed to list presence", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, models.PresenceResponse{Online: online})
}
