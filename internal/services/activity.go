package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/adi-253/roomfeed/backend/internal/channel"
	"github.com/adi-253/roomfeed/backend/internal/identity"
	"github.com/adi-253/roomfeed/backend/internal/metrics"
	"github.com/adi-253/roomfeed/backend/internal/models"
	"github.com/adi-253/roomfeed/backend/internal/realtime"
)

// connectTimeout bounds how long a request waits for a channel connection
const connectTimeout = 5 * time.Second

// ActivityService reads and writes room activity over plain HTTP.
// It is the polling fallback for clients that cannot hold a WebSocket:
// every call opens a short-lived connection as the requesting user.
type ActivityService struct {
	provider     channel.Provider
	historyLimit int
	logger       zerolog.Logger
}

// NewActivityService creates a new ActivityService instance
func NewActivityService(provider channel.Provider, historyLimit int, logger zerolog.Logger) *ActivityService {
	if historyLimit <= 0 {
		historyLimit = realtime.DefaultHistoryLimit
	}
	return &ActivityService{
		provider:     provider,
		historyLimit: historyLimit,
		logger:       logger.With().Str("service", "activity").Logger(),
	}
}

// connect opens a ready connection scoped to email.
func (s *ActivityService) connect(ctx context.Context, email string) (channel.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := s.provider.Connect(ctx, channel.Credentials{ClientID: identity.Encode(email)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := channel.WaitReady(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connection not ready: %w", err)
	}
	return conn, nil
}

// History returns the room's recent activity, oldest first.
// limit <= 0 uses the configured page size.
func (s *ActivityService) History(ctx context.Context, roomID, email string, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	conn, err := s.connect(ctx, email)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	page, err := conn.Channel(channel.ActivityChannel(roomID)).History(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	log := realtime.NewMessageLog(s.logger)
	log.LoadHistory(page)

	entries := make([]models.ActivityEntry, 0, log.Len())
	for _, e := range log.Entries() {
		entries = append(entries, models.ActivityEntry{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Message:   e.Message,
		})
	}
	return entries, nil
}

// PublishText publishes a text message as email. Whitespace-only text
// returns models.ErrEmptyMessage and publishes nothing.
func (s *ActivityService) PublishText(ctx context.Context, roomID, email, text string) error {
	msg, err := models.NewTextMessage(email, text)
	if err != nil {
		return err
	}
	return s.publish(ctx, roomID, email, msg)
}

// PublishShare publishes a listing share as email.
func (s *ActivityService) PublishShare(ctx context.Context, roomID, email string, listing models.Listing) error {
	return s.publish(ctx, roomID, email, models.NewShareMessage(email, listing))
}

func (s *ActivityService) publish(ctx context.Context, roomID, email string, msg models.ActivityMessage) error {
	conn, err := s.connect(ctx, email)
	if err != nil {
		metrics.ActivityPublishFailures.Inc()
		return err
	}
	defer conn.Close()

	if err := conn.Channel(channel.ActivityChannel(roomID)).Publish(ctx, "message", msg); err != nil {
		metrics.ActivityPublishFailures.Inc()
		return fmt.Errorf("failed to publish: %w", err)
	}

	metrics.ActivityPublished.WithLabelValues(string(msg.Payload.Type()), "http").Inc()
	s.logger.Debug().
		Str("room_id", roomID).
		Str("from", email).
		Str("type", string(msg.Payload.Type())).
		Msg("activity published")
	return nil
}

// Online returns the emails currently present in the room.
func (s *ActivityService) Online(ctx context.Context, roomID, email string) ([]string, error) {
	conn, err := s.connect(ctx, email)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	members, err := conn.Channel(channel.PresenceChannel(roomID)).Presence().Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	tracker := realtime.NewPresenceTracker()
	return tracker.Sync(members).Emails(), nil
}
